package ingestqueue_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperrag/internal/cancelgate"
	"paperrag/internal/chunker"
	"paperrag/internal/chunkstore"
	"paperrag/internal/embedder"
	"paperrag/internal/ingestqueue"
	"paperrag/internal/objectstore"
	"paperrag/internal/vectorindex"
)

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func testDeps() (ingestqueue.Deps, chunkstore.Store, *objectstore.MemoryStore) {
	chunks := chunkstore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	return ingestqueue.Deps{
		Objects: objects,
		Chunks:  chunks,
		Vectors: vectorindex.NewMemoryIndex(),
		Embed:   embedder.NewDeterministic(16, true, 7),
		Chunk:   chunker.New(embedder.NewDeterministic(16, true, 7), chunker.Options{}),
		Gates:   cancelgate.NewRegistry(),
	}, chunks, objects
}

// TestQueueProcessesReusedMarkdownEndToEnd seeds a document whose content
// hash already matches a markdown blob in the object store, so the queue reuses the
// parse (skipping the PDF parser entirely) and drives the job through
// chunk -> embed -> index -> ready.
func TestQueueProcessesReusedMarkdownEndToEnd(t *testing.T) {
	ctx := context.Background()
	deps, chunks, objects := testDeps()

	data := []byte("irrelevant-bytes-since-markdown-is-reused")
	hash := hashBytes(data)

	doc, err := chunks.CreateDocument(ctx, chunkstore.Document{
		OwnerID:     "user-1",
		Filename:    "paper.pdf",
		ContentHash: hash,
		Status:      chunkstore.DocumentUploading,
	})
	require.NoError(t, err)

	markdown := "## Page 1\n\n# Title\n\n## Introduction\n\n" + strings.Repeat("This is a sentence about attention. ", 40)
	mdKey := "data/paper-embedded.md"
	_, err = objects.Put(ctx, mdKey, strings.NewReader(markdown), objectstore.PutOptions{})
	require.NoError(t, err)

	q := ingestqueue.NewQueue(deps, 4)
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go q.Run(qctx)

	q.Enqueue(ingestqueue.Job{DocumentID: doc.ID, OwnerID: "user-1", Filename: "paper.pdf", Bytes: data})

	require.Eventually(t, func() bool {
		got, ok, err := chunks.GetDocument(ctx, doc.ID)
		return err == nil && ok && got.Status == chunkstore.DocumentReady
	}, 2*time.Second, 10*time.Millisecond)

	got, ok, err := chunks.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, chunkstore.FeatureCompleted, got.EmbeddingStatus)

	stored, err := chunks.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
}

func TestResolveDocumentReusesByContentHash(t *testing.T) {
	ctx := context.Background()
	chunks := chunkstore.NewMemoryStore()

	first, reused, err := ingestqueue.ResolveDocument(ctx, chunks, "user-1", "paper.pdf", "hash-1")
	require.NoError(t, err)
	require.False(t, reused)

	second, reused, err := ingestqueue.ResolveDocument(ctx, chunks, "user-1", "paper.pdf", "hash-1")
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, first.ID, second.ID)

	third, reused, err := ingestqueue.ResolveDocument(ctx, chunks, "user-1", "paper.pdf", "hash-2")
	require.NoError(t, err)
	require.False(t, reused)
	require.NotEqual(t, first.ID, third.ID)
}
