package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paperrag/internal/config"
	"paperrag/internal/observability"
)

// embedRequest mirrors the OpenAI-compatible /v1/embeddings request body,
// the de facto wire format most local and hosted embedding servers accept.
// Image is an optional base64 data URL, understood by visual-text embedding
// servers that accept a joint image+text input for a single item.
type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
	Image string   `json:"image,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func remoteClient(cfg config.EmbeddingConfig) *http.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return observability.NewHTTPClient(&http.Client{Timeout: timeout})
}

func setHeaders(req *http.Request, cfg config.EmbeddingConfig) {
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		header := cfg.APIHeader
		if header == "" {
			header = "Authorization"
		}
		value := cfg.APIKey
		if header == "Authorization" {
			value = "Bearer " + cfg.APIKey
		}
		req.Header.Set(header, value)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
}

// embedText posts texts to the configured remote embedding endpoint and
// returns one embedding vector per input, in order.
func embedText(ctx context.Context, cfg config.EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}
	url := cfg.BaseURL + cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	setHeaders(req, cfg)

	resp, err := remoteClient(cfg).Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: call %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: %s returned %d: %s", url, resp.StatusCode, string(raw))
	}
	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: parse response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// checkReachability performs a single-text embedding call to verify the
// remote endpoint is configured correctly and reachable.
func checkReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	_, err := embedText(ctx, cfg, []string{"ping"})
	return err
}

// embedOne posts a single text+image pair to the remote embedding endpoint
// and returns the joint embedding vector.
func embedOne(ctx context.Context, cfg config.EmbeddingConfig, text, imageDataURL string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: cfg.Model, Input: []string{text}, Image: imageDataURL})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal image request: %w", err)
	}
	url := cfg.BaseURL + cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build image request: %w", err)
	}
	setHeaders(req, cfg)

	resp, err := remoteClient(cfg).Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: call %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: %s returned %d: %s", url, resp.StatusCode, string(raw))
	}
	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: parse image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedder: %s returned no embeddings for image request", url)
	}
	return parsed.Data[0].Embedding, nil
}
