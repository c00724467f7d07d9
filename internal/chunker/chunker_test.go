package chunker_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"paperrag/internal/chunker"
	"paperrag/internal/embedder"
)

func genSentences(n int, words int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		for w := 0; w < words; w++ {
			if w > 0 {
				b.WriteString(" ")
			}
			b.WriteString("word")
		}
		b.WriteString(".")
	}
	return b.String()
}

func newChunker() *chunker.Chunker {
	return chunker.New(embedder.NewDeterministic(32, true, 1), chunker.Options{})
}

func TestChunkEmptyDocumentYieldsZeroChunks(t *testing.T) {
	c := newChunker()
	chunks, err := c.Chunk(context.Background(), "   \n\n  ")
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkLargeSectionEmitsMultipleChunks(t *testing.T) {
	md := "## Page 1\n\n# Title\n\n## Methods\n\n" + genSentences(80, 12)
	c := newChunker()
	chunks, err := c.Chunk(context.Background(), md)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i, ch := range chunks {
		require.Equal(t, i, ch.Ordinal)
		require.Equal(t, 1, ch.Page)
	}
}

func TestChunkTracksPageAndSectionHeaders(t *testing.T) {
	md := "## Page 1\n\n# Title\n\n## Introduction\n\nFirst sentence here. Second sentence here.\n\n" +
		"## Page 2\n\n## Methods\n\nThird sentence here. Fourth sentence here."
	c := newChunker()
	chunks, err := c.Chunk(context.Background(), md)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var sawPage2 bool
	for _, ch := range chunks {
		if ch.Page == 2 {
			sawPage2 = true
			require.Equal(t, "Methods", ch.Section)
		}
	}
	require.True(t, sawPage2)
}

func TestChunkReattachesInlineAssets(t *testing.T) {
	md := "## Page 1\n\n## Results\n\n" +
		"See [Figure 1](assets/fig1.png) for the overview. " +
		"Performance is summarized in [Table 1](assets/table1.csv) below."
	c := newChunker()
	chunks, err := c.Chunk(context.Background(), md)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var images, tables int
	for _, ch := range chunks {
		images += len(ch.Images)
		tables += len(ch.Tables)
		require.NotContains(t, strings.ToLower(ch.Text), "assets/fig1.png")
	}
	require.Equal(t, 1, images)
	require.Equal(t, 1, tables)
}

func TestChunkStableOrdinalsForSameInput(t *testing.T) {
	md := "## Page 1\n\n# Title\n\n## Background\n\n" + genSentences(20, 10)
	c := newChunker()
	a, err := c.Chunk(context.Background(), md)
	require.NoError(t, err)
	b, err := c.Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].Text, b[i].Text)
	}
}
