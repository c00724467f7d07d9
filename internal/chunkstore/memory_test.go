package chunkstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"paperrag/internal/chunkstore"
)

func TestMemoryStoreCreateAndGetDocument(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemoryStore()

	doc, err := store.CreateDocument(ctx, chunkstore.Document{
		OwnerID:     "user-1",
		Filename:    "transformer.pdf",
		ContentHash: "abc123",
		Status:      chunkstore.DocumentUploading,
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	require.Len(t, doc.ID, 24) // 12 random bytes, hex-encoded

	got, ok, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "transformer.pdf", got.Filename)

	byHash, ok, err := store.FindDocumentByContentHash(ctx, "user-1", "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.ID, byHash.ID)
}

func TestMemoryStoreUpdateDocumentRequiresExisting(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemoryStore()
	err := store.UpdateDocument(ctx, chunkstore.Document{ID: "missing"})
	require.ErrorIs(t, err, chunkstore.ErrNotFound)
}

func TestMemoryStorePutAndListChunksOrdinalOrder(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemoryStore()
	chunks := []chunkstore.Chunk{
		{ID: "c2", DocumentID: "doc-1", Ordinal: 1, Text: "second"},
		{ID: "c1", DocumentID: "doc-1", Ordinal: 0, Text: "first"},
	}
	require.NoError(t, store.PutChunks(ctx, "doc-1", chunks))

	got, err := store.ListChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c1", got[0].ID) // ListChunks returns chunks in ordinal order
}

func TestMemoryStoreDeleteDocumentCascadesChunks(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemoryStore()
	doc, err := store.CreateDocument(ctx, chunkstore.Document{OwnerID: "u", ContentHash: "h"})
	require.NoError(t, err)
	require.NoError(t, store.PutChunks(ctx, doc.ID, []chunkstore.Chunk{{ID: "c1", DocumentID: doc.ID}}))

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))

	_, ok, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, ok)

	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, chunks)

	_, ok, err = store.FindDocumentByContentHash(ctx, "u", "h")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChunkIDDeterministic(t *testing.T) {
	id1 := chunkstore.NewChunkID("doc-1", 0, "Hello   World")
	id2 := chunkstore.NewChunkID("doc-1", 0, "hello world")
	require.Equal(t, id1, id2, "whitespace/case differences must not change the chunk id")

	id3 := chunkstore.NewChunkID("doc-1", 1, "hello world")
	require.NotEqual(t, id1, id3, "different ordinal must change the chunk id")
}
