package references_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"paperrag/internal/references"
)

func TestParseBracketedNumbering(t *testing.T) {
	raw := `[1] A. Vaswani, N. Shazeer. "Attention Is All You Need." (2017). arXiv:1706.03762
[2] J. Devlin, M. Chang. BERT: Pre-training of Deep Bidirectional Transformers. (2019). https://doi.org/10.18653/v1/N19-1423`

	refs := references.Parse(raw)
	require.Len(t, refs, 2)

	require.Equal(t, 1, refs[0].ID)
	require.Equal(t, "1706.03762", refs[0].ArxivID)
	require.Equal(t, "Attention Is All You Need.", refs[0].Title)
	require.Equal(t, 2017, refs[0].Year)

	require.Equal(t, "10.18653/v1/N19-1423", refs[1].DOI)
	require.Equal(t, 2019, refs[1].Year)
}

func TestGenerateLinkPrefersDOIOverArxivOverURL(t *testing.T) {
	link, kind := references.GenerateLink(references.Reference{DOI: "10.1/x", ArxivID: "1234.5678", URL: "https://example.com"})
	require.Equal(t, "https://doi.org/10.1/x", link)
	require.Equal(t, "doi", kind)

	link, kind = references.GenerateLink(references.Reference{ArxivID: "1234.5678", URL: "https://example.com"})
	require.Equal(t, "https://arxiv.org/abs/1234.5678", link)
	require.Equal(t, "arxiv", kind)

	link, kind = references.GenerateLink(references.Reference{URL: "https://example.com/paper"})
	require.Equal(t, "https://example.com/paper", link)
	require.Equal(t, "url", kind)
}

func TestGenerateLinkFallsBackToScholarSearch(t *testing.T) {
	link, kind := references.GenerateLink(references.Reference{
		Title:   "Deep Residual Learning for Image Recognition",
		Authors: []string{"Kaiming He"},
		Year:    2016,
	})
	require.Equal(t, "scholar", kind)
	require.Contains(t, link, "scholar.google.com/scholar?q=")
	require.Contains(t, link, "He")
}

func TestResolveFillsLinkFields(t *testing.T) {
	refs := references.Resolve(`1. Smith, J. Some Title Here. (2020).`)
	require.Len(t, refs, 1)
	require.NotEmpty(t, refs[0].Link)
	require.Equal(t, "scholar", refs[0].LinkType)
}

func TestParseEmptyInput(t *testing.T) {
	require.Nil(t, references.Parse(""))
	require.Nil(t, references.Parse("   "))
}
