package retrieve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"paperrag/internal/embedder"
	"paperrag/internal/keywordindex"
	"paperrag/internal/retrieve"
	"paperrag/internal/vectorindex"
)

func TestRetrieveHardFiltersByDocumentAndFusesLinearly(t *testing.T) {
	ctx := context.Background()
	search := keywordindex.NewMemoryIndex()
	vector := vectorindex.NewMemoryIndex()
	emb := embedder.NewDeterministic(8, true, 3)

	require.NoError(t, search.Index(ctx, "chunk-a", "attention mechanisms in transformers", map[string]string{"document_id": "doc-1", "type": "chunk"}))
	require.NoError(t, search.Index(ctx, "chunk-b", "gradient descent optimization", map[string]string{"document_id": "doc-2", "type": "chunk"}))

	va, err := emb.EmbedBatch(ctx, []string{"attention mechanisms in transformers"})
	require.NoError(t, err)
	vb, err := emb.EmbedBatch(ctx, []string{"gradient descent optimization"})
	require.NoError(t, err)
	require.NoError(t, vector.Upsert(ctx, "chunk-a", va[0], map[string]string{"document_id": "doc-1"}))
	require.NoError(t, vector.Upsert(ctx, "chunk-b", vb[0], map[string]string{"document_id": "doc-2"}))

	resp, err := retrieve.Retrieve(ctx, emb, search, vector, "attention mechanisms", "doc-1", "", nil, retrieve.RetrieveOptions{K: 5, FtK: 5, VecK: 5, Alpha: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "chunk-a", resp.Items[0].ID)
}
