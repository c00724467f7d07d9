package ingestqueue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"paperrag/internal/cancelgate"
	"paperrag/internal/chunker"
	"paperrag/internal/chunkstore"
	"paperrag/internal/embedder"
	"paperrag/internal/objectstore"
	"paperrag/internal/pdfparse"
)

// processJob runs the full ingestion pipeline for one
// job, checkpointing the cancellation gate at every step boundary.
func processJob(ctx context.Context, deps Deps, gate *cancelgate.Gate, job Job) error {
	// Step 1: bytes were provided in-memory by the caller (upload
	// handler); re-reading from the object store is only needed on a retry path where
	// the caller did not have the bytes handy.
	data := job.Bytes
	if len(data) == 0 {
		r, _, err := deps.Objects.Get(ctx, job.Filename)
		if err != nil {
			return fmt.Errorf("load source bytes: %w", err)
		}
		defer r.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return fmt.Errorf("read source bytes: %w", err)
		}
		data = buf.Bytes()
	}

	doc, ok, err := deps.Chunks.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return fmt.Errorf("document %s not found", job.DocumentID)
	}

	// Step 2.
	doc.Status = chunkstore.DocumentParsing
	doc.EmbeddingStatus = chunkstore.FeaturePending
	if err := deps.Chunks.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark parsing: %w", err)
	}
	deps.Publisher.Publish(job.DocumentID)
	if gate.Cancelled() {
		return wrapCancelled("parsing")
	}

	stem := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	mdKey := markdownKey(stem)

	// Step 3: reuse an existing parse when its content hash matches, so
	// re-ingesting the same PDF skips parsing entirely.
	contentHash := hashBytes(data)
	var markdown string
	var figures, tables []pdfparse.Asset
	if doc.ContentHash == contentHash {
		if existing, attrs, err := deps.Objects.Get(ctx, mdKey); err == nil {
			var buf bytes.Buffer
			_, readErr := buf.ReadFrom(existing)
			existing.Close()
			if readErr == nil && attrs.Size > 0 {
				markdown = buf.String()
			}
		}
	}
	if markdown == "" {
		scratch, err := os.MkdirTemp("", "paperd-pdf-*")
		if err != nil {
			return fmt.Errorf("scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		result, err := pdfparse.Parse(data, scratch)
		if err != nil {
			return fmt.Errorf("parse pdf: %w", err)
		}
		markdown = result.Markdown
		figures, tables = result.Figures, result.Tables
		doc.PageCount = result.PageCount
	}

	// Step 4.
	if _, err := deps.Objects.Put(ctx, mdKey, strings.NewReader(markdown), objectstore.PutOptions{ContentType: "text/markdown"}); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	doc.ContentHash = contentHash

	// Step 5.
	doc.Status = chunkstore.DocumentChunking
	if err := deps.Chunks.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark chunking: %w", err)
	}
	deps.Publisher.Publish(job.DocumentID)
	if gate.Cancelled() {
		return wrapCancelled("chunking")
	}

	chunks, err := deps.Chunk.Chunk(ctx, markdown)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}

	// Step 6: upload any extracted figure/table files, recording their
	// final blob path back onto the matching chunk assets.
	blobPaths, err := uploadAssets(ctx, deps.Objects, job.OwnerID, job.DocumentID, figures, tables)
	if err != nil {
		return fmt.Errorf("upload assets: %w", err)
	}

	storeChunks := toStoreChunks(job.DocumentID, chunks, blobPaths)

	// Step 7.
	if err := deps.Chunks.PutChunks(ctx, job.DocumentID, storeChunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	if deps.Keywords != nil {
		for _, c := range storeChunks {
			md := map[string]string{"document_id": job.DocumentID, "type": "chunk"}
			if err := deps.Keywords.Index(ctx, c.ID, c.Text, md); err != nil {
				return fmt.Errorf("index chunk for keyword search: %w", err)
			}
		}
	}

	// Step 8.
	doc.Status = chunkstore.DocumentEmbedding
	doc.EmbeddingStatus = chunkstore.FeatureRunning
	if err := deps.Chunks.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark embedding: %w", err)
	}
	deps.Publisher.Publish(job.DocumentID)

	vectors, err := embedChunks(ctx, deps, gate, storeChunks)
	if err != nil {
		doc.EmbeddingStatus = chunkstore.FeatureFailed
		_ = deps.Chunks.UpdateDocument(ctx, doc)
		return fmt.Errorf("embed chunks: %w", err)
	}

	// Step 9: delete-then-write keeps re-embedding idempotent.
	for _, c := range storeChunks {
		_ = deps.Vectors.Delete(ctx, c.ID)
	}
	for i, c := range storeChunks {
		md := map[string]string{"document_id": job.DocumentID}
		if err := deps.Vectors.Upsert(ctx, c.ID, vectors[i], md); err != nil {
			doc.EmbeddingStatus = chunkstore.FeatureFailed
			_ = deps.Chunks.UpdateDocument(ctx, doc)
			return fmt.Errorf("write vectors: %w", err)
		}
	}

	// Step 10.
	doc.Status = chunkstore.DocumentReady
	doc.EmbeddingStatus = chunkstore.FeatureCompleted
	doc.ErrorMessage = ""
	if err := deps.Chunks.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	deps.Publisher.Publish(job.DocumentID)
	return nil
}

// markdownKey follows the canonical blob layout: the canonical parsed
// markdown lives at a path keyed only by filename stem, independent of
// document id, so re-uploading the same-named PDF reuses it.
func markdownKey(stem string) string {
	return fmt.Sprintf("data/%s-embedded.md", stem)
}

func assetKey(ownerID, documentID, kind, filename string) string {
	return fmt.Sprintf("%s/document/%s/%s/%s", ownerID, documentID, kind, filename)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// uploadAssets copies every extracted figure/table from local scratch
// paths into the object store, returning a map from the asset's normalized label
// (e.g. "figure 3") to its final blob path.
func uploadAssets(ctx context.Context, store objectstore.ObjectStore, ownerID, documentID string, figures, tables []pdfparse.Asset) (map[string]string, error) {
	out := make(map[string]string, len(figures)+len(tables))
	upload := func(a pdfparse.Asset, kind string) error {
		f, err := os.Open(a.LocalPath)
		if err != nil {
			return err
		}
		defer f.Close()
		key := assetKey(ownerID, documentID, kind, filepath.Base(a.LocalPath))
		if _, err := store.Put(ctx, key, f, objectstore.PutOptions{}); err != nil {
			return err
		}
		out[strings.ToLower(a.Label)] = key
		return nil
	}
	for _, a := range figures {
		if err := upload(a, "figures"); err != nil {
			return nil, err
		}
	}
	for _, a := range tables {
		if err := upload(a, "tables"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toStoreChunks converts chunker output into chunkstore records,
// resolving each inline asset reference to its uploaded blob path where
// one was found.
func toStoreChunks(documentID string, chunks []chunker.Chunk, blobPaths map[string]string) []chunkstore.Chunk {
	out := make([]chunkstore.Chunk, 0, len(chunks))
	for _, c := range chunks {
		id := chunkstore.NewChunkID(documentID, c.Ordinal, c.Text)
		sc := chunkstore.Chunk{
			ID:         id,
			DocumentID: documentID,
			Ordinal:    c.Ordinal,
			Page:       c.Page,
			Section:    c.Section,
			Text:       c.Text,
		}
		for _, img := range c.Images {
			sc.Images = append(sc.Images, chunkstore.ImageAsset{
				Caption:  img.Label,
				FigureID: img.Label,
				BlobPath: resolveBlobPath(img, blobPaths),
			})
		}
		for _, tbl := range c.Tables {
			sc.Tables = append(sc.Tables, chunkstore.TableAsset{
				Label:    tbl.Label,
				BlobPath: resolveBlobPath(tbl, blobPaths),
			})
		}
		out = append(out, sc)
	}
	return out
}

func resolveBlobPath(a chunker.Asset, blobPaths map[string]string) string {
	if p, ok := blobPaths[strings.ToLower(a.Label)]; ok {
		return p
	}
	return a.Path
}

// embedChunks embeds chunks via the embedder's chunk-aware path, fusing in
// any attached table text and images rather than embedding bare chunk text.
func embedChunks(ctx context.Context, deps Deps, gate *cancelgate.Gate, chunks []chunkstore.Chunk) ([][]float32, error) {
	inputs := make([]embedder.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = embedder.ChunkInput{
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Tables:     toTableRefs(c.Tables),
			Images:     toImageRefs(c.Images),
		}
	}
	opts := embedder.EmbedChunksOptions{
		Resolver: objectStoreResolver{deps.Objects},
		Gate:     gate,
	}
	vecs, err := deps.Embed.EmbedChunks(ctx, inputs, opts)
	if err != nil {
		if errors.Is(err, cancelgate.ErrCancelled) {
			return nil, wrapCancelled("embedding")
		}
		return nil, err
	}
	return vecs, nil
}

func toTableRefs(tables []chunkstore.TableAsset) []embedder.TableRef {
	if len(tables) == 0 {
		return nil
	}
	out := make([]embedder.TableRef, len(tables))
	for i, t := range tables {
		out[i] = embedder.TableRef{Label: t.Label, Preview: t.PreviewTxt, BlobPath: t.BlobPath}
	}
	return out
}

func toImageRefs(images []chunkstore.ImageAsset) []embedder.ImageRef {
	if len(images) == 0 {
		return nil
	}
	out := make([]embedder.ImageRef, len(images))
	for i, img := range images {
		out[i] = embedder.ImageRef{BlobPath: img.BlobPath}
	}
	return out
}

// objectStoreResolver adapts objectstore.ObjectStore's 3-return Get to the
// embedder package's narrower BlobResolver interface.
type objectStoreResolver struct {
	store objectstore.ObjectStore
}

func (r objectStoreResolver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, _, err := r.store.Get(ctx, key)
	return rc, err
}
