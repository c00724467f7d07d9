package retrieve

import (
	"sort"

	"paperrag/internal/keywordindex"
	"paperrag/internal/vectorindex"
)

// FuseLinear implements the hybrid retrieval rule from the glossary: a
// linear combination of dense (cosine) and sparse (TF-IDF cosine)
// similarities. Each source's raw scores are min-max normalized to [0,1]
// within the candidate list before weighting, so Alpha trades off two
// comparable scales regardless of the embedder/index in use. This is the
// default fusion strategy; FuseRRF remains available behind opt.UseRRF
// for callers that prefer rank-based combination.
func FuseLinear(fts []keywordindex.Result, vec []vectorindex.Result, opt RetrieveOptions) []fusedCandidate {
	wft := opt.Alpha
	if wft < 0 {
		wft = 0
	}
	if wft > 1 {
		wft = 1
	}
	wvec := 1 - wft

	ftNorm := normalizeKeyword(fts)
	vecNorm := normalizeVector(vec)

	ftByID := make(map[string]keywordindex.Result, len(fts))
	for _, r := range fts {
		ftByID[r.ID] = r
	}
	vecByID := make(map[string]vectorindex.Result, len(vec))
	for _, r := range vec {
		vecByID[r.ID] = r
	}

	seen := map[string]struct{}{}
	ids := make([]string, 0, len(fts)+len(vec))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, r := range fts {
		add(r.ID)
	}
	for _, r := range vec {
		add(r.ID)
	}

	out := make([]fusedCandidate, 0, len(ids))
	for i, id := range ids {
		ftScore := ftNorm[id]
		vecScore := vecNorm[id]
		fused := wft*ftScore + wvec*vecScore

		var snippet, text string
		md := map[string]string{}
		ftRank := 0
		if r, ok := ftByID[id]; ok {
			snippet = r.Snippet
			text = r.Text
			for k, v := range r.Metadata {
				md[k] = v
			}
			ftRank = indexOfKeyword(fts, id) + 1
		}
		vecRank := 0
		if r, ok := vecByID[id]; ok {
			for k, v := range r.Metadata {
				if _, exists := md[k]; !exists {
					md[k] = v
				}
			}
			vecRank = indexOfVector(vec, id) + 1
		}
		_ = i

		out = append(out, fusedCandidate{
			ID: id, DocID: deriveDocID(id, md), Source: md["source"],
			FtRank: ftRank, VecRank: vecRank,
			FtScore: ftScore, VecScore: vecScore,
			Fused:    fused,
			Snippet:  snippet,
			Text:     text,
			Metadata: md,
		})
	}

	sortFused(out)
	return out
}

func indexOfKeyword(results []keywordindex.Result, id string) int {
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func indexOfVector(results []vectorindex.Result, id string) int {
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func normalizeKeyword(results []keywordindex.Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	lo, hi := minMaxKeyword(results)
	for _, r := range results {
		out[r.ID] = minMaxScale(r.Score, lo, hi)
	}
	return out
}

func normalizeVector(results []vectorindex.Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	lo, hi := minMaxVector(results)
	for _, r := range results {
		out[r.ID] = minMaxScale(r.Score, lo, hi)
	}
	return out
}

func minMaxScale(v, lo, hi float64) float64 {
	if hi <= lo {
		if v > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}

func minMaxKeyword(results []keywordindex.Result) (float64, float64) {
	if len(results) == 0 {
		return 0, 0
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	return lo, hi
}

func minMaxVector(results []vectorindex.Result) (float64, float64) {
	if len(results) == 0 {
		return 0, 0
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	return lo, hi
}

// sortFused sorts candidates by fused score descending, id ascending on ties.
func sortFused(out []fusedCandidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		return out[i].ID < out[j].ID
	})
}
