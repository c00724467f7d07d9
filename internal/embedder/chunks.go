package embedder

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"paperrag/internal/cancelgate"
)

// ChunkInput is the per-chunk payload EmbedChunks needs: identity for
// cache-key derivation, the chunk's prose, and any attached table/image
// blobs to fuse into the embedding.
type ChunkInput struct {
	DocumentID string
	Ordinal    int
	Text       string
	Tables     []TableRef
	Images     []ImageRef
}

// TableRef describes one table attached to a chunk.
type TableRef struct {
	Label    string
	Preview  string // already-extracted table text, used as-is if set
	BlobPath string // object store key to load table text from, if Preview is empty
}

// ImageRef describes one image attached to a chunk, or a query image.
type ImageRef struct {
	BlobPath string
}

// BlobResolver fetches the raw bytes of a stored blob, used to resolve
// table text and image content referenced by chunk assets and query images.
type BlobResolver interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// EmbedChunksOptions carries the collaborators EmbedChunks needs beyond
// the chunks themselves.
type EmbedChunksOptions struct {
	// Resolver loads table/image blobs by key. May be nil if no chunk
	// carries table or image assets.
	Resolver BlobResolver
	// Gate is checkpointed before every batch and before every per-image
	// encode; a cancelled gate aborts the call. May be nil.
	Gate *cancelgate.Gate
}

func checkpoint(g *cancelgate.Gate) error {
	if g == nil {
		return nil
	}
	return g.Checkpoint()
}

// EmbedChunks embeds a set of chunks, fusing attached table text into the
// chunk's text and attached images into a joint image+text vector,
// consulting the on-disk cache before calling the model.
func (c *clientEmbedder) EmbedChunks(ctx context.Context, chunks []ChunkInput, opts EmbedChunksOptions) ([][]float32, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	maxChars := c.cfg.TableEmbedMaxChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 8
	}

	out := make([][]float32, len(chunks))
	tableTextCache := map[string]string{}

	var textOnly []int
	for i, ch := range chunks {
		key := chunkCacheKey(ch.DocumentID, ch.Ordinal, ch.Text)
		if vec, ok := c.cache.load(key); ok {
			out[i] = vec
			continue
		}
		if len(ch.Images) == 0 {
			textOnly = append(textOnly, i)
		}
	}

	for start := 0; start < len(textOnly); start += batchSize {
		if err := checkpoint(opts.Gate); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(textOnly) {
			end = len(textOnly)
		}
		group := textOnly[start:end]
		texts := make([]string, len(group))
		for j, idx := range group {
			texts[j] = augmentWithTables(ctx, chunks[idx].Text, chunks[idx].Tables, maxChars, opts.Resolver, tableTextCache)
		}
		vecs, err := c.rateLimitedCall(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, idx := range group {
			out[idx] = vecs[j]
			c.cache.save(chunkCacheKey(chunks[idx].DocumentID, chunks[idx].Ordinal, chunks[idx].Text), vecs[j])
		}
	}

	for i, ch := range chunks {
		if out[i] != nil || len(ch.Images) == 0 {
			continue
		}
		if err := checkpoint(opts.Gate); err != nil {
			return nil, err
		}
		augmented := augmentWithTables(ctx, ch.Text, ch.Tables, maxChars, opts.Resolver, tableTextCache)
		vec, err := c.embedImageChunk(ctx, augmented, ch.Images, opts)
		if err != nil {
			return nil, err
		}
		out[i] = vec
		c.cache.save(chunkCacheKey(ch.DocumentID, ch.Ordinal, ch.Text), vec)
	}
	return out, nil
}

// embedImageChunk computes a joint image+text vector per image and
// averages them. If every image encode fails, it falls back to a
// text-only embedding rather than failing the chunk.
func (c *clientEmbedder) embedImageChunk(ctx context.Context, text string, images []ImageRef, opts EmbedChunksOptions) ([]float32, error) {
	var sum []float32
	var n int
	for _, img := range images {
		if err := checkpoint(opts.Gate); err != nil {
			return nil, err
		}
		dataURL, err := resolveImageDataURL(ctx, opts.Resolver, img.BlobPath)
		if err != nil {
			continue
		}
		vec, err := embedOne(ctx, c.cfg, text, dataURL)
		if err != nil {
			continue
		}
		sum = accumulate(sum, vec)
		n++
	}
	if n == 0 {
		vecs, err := c.rateLimitedCall(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum, nil
}

func accumulate(sum, vec []float32) []float32 {
	if sum == nil {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	for i := range sum {
		if i < len(vec) {
			sum[i] += vec[i]
		}
	}
	return sum
}

// augmentWithTables appends each attached table's text to base, truncated
// to maxChars, loading it from the blob store at most once per call.
func augmentWithTables(ctx context.Context, text string, tables []TableRef, maxChars int, resolver BlobResolver, cache map[string]string) string {
	if len(tables) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, t := range tables {
		tableText := t.Preview
		if tableText == "" && t.BlobPath != "" {
			if cached, ok := cache[t.BlobPath]; ok {
				tableText = cached
			} else if resolver != nil {
				if rc, err := resolver.Get(ctx, t.BlobPath); err == nil {
					data, _ := io.ReadAll(rc)
					rc.Close()
					tableText = string(data)
					cache[t.BlobPath] = tableText
				}
			}
		}
		tableText = strings.TrimSpace(tableText)
		if tableText == "" {
			continue
		}
		if len(tableText) > maxChars {
			tableText = tableText[:maxChars] + "..."
		}
		label := t.Label
		if label == "" {
			label = "table"
		}
		fmt.Fprintf(&b, "\n\nTable %s:\n%s", label, tableText)
	}
	return b.String()
}

// EncodeQuery embeds text, fusing in the image at imageRef if one is
// given. Falls back to a text-only embedding if the image cannot be
// resolved or encoded.
func (c *clientEmbedder) EncodeQuery(ctx context.Context, text, imageRef string, resolver BlobResolver) ([]float32, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if imageRef != "" {
		if dataURL, err := resolveImageDataURL(ctx, resolver, imageRef); err == nil {
			if vec, err := embedOne(ctx, c.cfg, text, dataURL); err == nil {
				return vec, nil
			}
		}
	}
	vecs, err := c.rateLimitedCall(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder: no vector returned for query")
	}
	return vecs[0], nil
}

func resolveImageDataURL(ctx context.Context, resolver BlobResolver, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("embedder: empty image reference")
	}
	if strings.HasPrefix(ref, "data:image/") {
		return ref, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("embedder: no blob resolver configured for image ref %q", ref)
	}
	rc, err := resolver.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)), nil
}

// EmbedChunks on the deterministic embedder ignores images/tables beyond
// flattening table text into the input, for tests that don't need a real
// visual-text model.
func (d *deterministicEmbedder) EmbedChunks(ctx context.Context, chunks []ChunkInput, opts EmbedChunksOptions) ([][]float32, error) {
	tableTextCache := map[string]string{}
	out := make([][]float32, len(chunks))
	for i, ch := range chunks {
		if err := checkpoint(opts.Gate); err != nil {
			return nil, err
		}
		out[i] = d.embedOne(augmentWithTables(ctx, ch.Text, ch.Tables, 4000, opts.Resolver, tableTextCache))
	}
	return out, nil
}

func (d *deterministicEmbedder) EncodeQuery(ctx context.Context, text, imageRef string, resolver BlobResolver) ([]float32, error) {
	if imageRef != "" {
		if dataURL, err := resolveImageDataURL(ctx, resolver, imageRef); err == nil {
			return d.embedOne(text + dataURL), nil
		}
	}
	return d.embedOne(text), nil
}
