package retrieve

import (
	"context"
	"fmt"

	"paperrag/internal/embedder"
	"paperrag/internal/keywordindex"
	"paperrag/internal/vectorindex"
)

// Retrieve is the top-level retrieval entrypoint: it plans the query, fetches keyword and
// vector candidates in parallel hard-filtered to documentID, fuses them,
// and assembles the final ranked response. queryImageRef, if non-empty, is
// resolved via resolver and fused into the dense query vector alongside
// the query text.
func Retrieve(ctx context.Context, emb embedder.Embedder, search keywordindex.Index, vector vectorindex.Index, query, documentID string, queryImageRef string, resolver embedder.BlobResolver, opt RetrieveOptions) (RetrieveResponse, error) {
	if opt.Filter == nil {
		opt.Filter = map[string]string{}
	}
	if documentID != "" {
		opt.Filter["document_id"] = documentID
	}

	plan := BuildQueryPlan(ctx, query, opt)

	var qvec []float32
	if emb != nil && plan.VecK > 0 {
		vec, err := emb.EncodeQuery(ctx, plan.Query, queryImageRef, resolver)
		if err != nil {
			return RetrieveResponse{}, fmt.Errorf("retrieve: embed query: %w", err)
		}
		qvec = vec
	}

	fts, vrs, _, err := ParallelCandidates(ctx, search, vector, plan, qvec)
	if err != nil {
		return RetrieveResponse{}, fmt.Errorf("retrieve: candidates: %w", err)
	}

	var items []RetrievedItem
	if opt.UseRRF {
		items = FuseAndDiversify(fts, vrs, plan, opt)
	} else {
		fused := FuseLinear(fts, vrs, opt)
		diversified := Diversify(fused, plan.FtK+plan.VecK, opt.Diversify)
		items = make([]RetrievedItem, 0, len(diversified))
		for _, c := range diversified {
			items = append(items, RetrievedItem{
				ID:       c.ID,
				DocID:    c.DocID,
				Score:    c.Fused,
				Snippet:  c.Snippet,
				Text:     c.Text,
				Metadata: c.Metadata,
				Explanation: map[string]any{
					"fused":     c.Fused,
					"ft_score":  c.FtScore,
					"vec_score": c.VecScore,
				},
			})
		}
		k := opt.K
		if k <= 0 {
			k = 10
		}
		if len(items) > k {
			items = items[:k]
		}
	}

	if opt.IncludeSnippet {
		items = GenerateSnippets(ctx, search, items, SnippetOptions{Lang: plan.Lang, Query: plan.Query})
	}
	items = AttachDocMetadata(ctx, search, items)

	return RetrieveResponse{Query: plan.Query, Items: items}, nil
}
