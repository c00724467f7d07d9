package answer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"paperrag/internal/llm/openai"
	"paperrag/internal/objectstore"
)

// dataURLPrefix marks an image reference that is already base64-encoded
// rather than a stored file path.
const dataURLPrefix = "data:"

// resolveUserImage converts a single user-supplied image reference into an
// ImageAttachment for the LLM call. The reference is either a path into
// the object store (uploaded via the chat surface) or an already-encoded
// data URL; file paths are the form retained on the saved user message, so
// callers keep the original ref around for persistence and only use the
// attachment for the live LLM call.
func resolveUserImage(ctx context.Context, store objectstore.ObjectStore, ref string) (openai.ImageAttachment, error) {
	if strings.HasPrefix(ref, dataURLPrefix) {
		return parseDataURL(ref)
	}
	if store == nil {
		return openai.ImageAttachment{}, fmt.Errorf("answer: no object store configured to resolve image %q", ref)
	}
	rc, attrs, err := store.Get(ctx, ref)
	if err != nil {
		return openai.ImageAttachment{}, fmt.Errorf("answer: fetch image %q: %w", ref, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return openai.ImageAttachment{}, fmt.Errorf("answer: read image %q: %w", ref, err)
	}
	mimeType := attrs.ContentType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(ref))
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return openai.ImageAttachment{
		MimeType:   mimeType,
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// parseDataURL splits a "data:<mime>;base64,<data>" string into its parts.
func parseDataURL(s string) (openai.ImageAttachment, error) {
	rest := strings.TrimPrefix(s, dataURLPrefix)
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return openai.ImageAttachment{}, fmt.Errorf("answer: malformed data URL")
	}
	header := rest[:comma]
	data := rest[comma+1:]
	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return openai.ImageAttachment{MimeType: mimeType, Base64Data: data}, nil
}

// objectStoreResolver adapts objectstore.ObjectStore's 3-return Get to the
// embedder package's narrower BlobResolver interface, so a query image can
// be resolved for dense retrieval the same way chat images are resolved
// for the LLM prompt.
type objectStoreResolver struct {
	store objectstore.ObjectStore
}

func (r objectStoreResolver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if r.store == nil {
		return nil, fmt.Errorf("answer: no object store configured to resolve %q", key)
	}
	rc, _, err := r.store.Get(ctx, key)
	return rc, err
}

// resolveUserImages converts every user image reference for the current
// turn, skipping (rather than failing the whole request on) any single
// image that cannot be resolved, since the chat answer can still proceed
// with the remaining images and the question text.
func resolveUserImages(ctx context.Context, store objectstore.ObjectStore, refs []string) []openai.ImageAttachment {
	out := make([]openai.ImageAttachment, 0, len(refs))
	for _, ref := range refs {
		att, err := resolveUserImage(ctx, store, ref)
		if err != nil {
			continue
		}
		out = append(out, att)
	}
	return out
}
