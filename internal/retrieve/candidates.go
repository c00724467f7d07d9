package retrieve

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"paperrag/internal/keywordindex"
	"paperrag/internal/vectorindex"
)

// SourceDiagnostics carries per-source retrieval timings and counts.
type SourceDiagnostics struct {
	FtLatency  time.Duration
	VecLatency time.Duration
	FtCount    int
	VecCount   int
}

type chunkSearcher interface {
	SearchChunks(ctx context.Context, query string, lang string, limit int, filter map[string]string) ([]keywordindex.Result, error)
}

// ParallelCandidates queries the full-text and vector stores concurrently
// via errgroup, returning the raw candidates from each source plus
// latency/count diagnostics. Either branch's error aborts the other.
func ParallelCandidates(ctx context.Context, search keywordindex.Index, vector vectorindex.Index, plan QueryPlan, embVec []float32) ([]keywordindex.Result, []vectorindex.Result, SourceDiagnostics, error) {
	g, gctx := errgroup.WithContext(ctx)

	var fts []keywordindex.Result
	var vrs []vectorindex.Result
	var diag SourceDiagnostics

	if plan.FtK > 0 && search != nil {
		g.Go(func() error {
			t0 := time.Now()
			var res []keywordindex.Result
			var err error
			if cs, ok := search.(chunkSearcher); ok {
				res, err = cs.SearchChunks(gctx, plan.Query, plan.Lang, plan.FtK, plan.Filters)
			} else {
				res, err = search.Search(gctx, plan.Query, plan.FtK)
			}
			if err != nil {
				return err
			}
			diag.FtLatency = time.Since(t0)
			diag.FtCount = len(res)
			fts = res
			return nil
		})
	}

	if plan.VecK > 0 && vector != nil && len(embVec) > 0 {
		g.Go(func() error {
			t0 := time.Now()
			res, err := vector.SimilaritySearch(gctx, embVec, plan.VecK, plan.Filters)
			if err != nil {
				return err
			}
			diag.VecLatency = time.Since(t0)
			diag.VecCount = len(res)
			vrs = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, SourceDiagnostics{}, err
	}
	return fts, vrs, diag, nil
}
