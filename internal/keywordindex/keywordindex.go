// Package keywordindex implements the keyword half of the hybrid
// retrieval: an in-process TF-IDF index over ingested documents and
// chunks. It replaces a database-backed full-text search so that
// paperd has no hard dependency on Postgres FTS or any other search
// engine. The index starts empty when the process starts and is filled
// as documents are ingested; it is not rebuilt from the chunk store.
package keywordindex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Result is one hit from Search/SearchChunks/GetByID.
type Result struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// Index is the keyword search surface used by retrieve and ingestqueue.
// It is satisfied by the in-process TF-IDF implementation below, which
// has no separate chunks table: chunks are indexed as ordinary documents
// with metadata["type"]="chunk".
type Index interface {
	Index(ctx context.Context, id, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	SearchChunks(ctx context.Context, query string, lang string, limit int, filter map[string]string) ([]Result, error)
	GetByID(ctx context.Context, id string) (Result, bool, error)
	SnippetForID(ctx context.Context, id, lang, query string) (string, bool, error)
}

type posting struct {
	id   string
	text string
	meta map[string]string
	tf   map[string]int
	norm float64
}

type memoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*posting
	df   map[string]int
}

// NewMemoryIndex returns an in-process TF-IDF Index.
func NewMemoryIndex() Index {
	return &memoryIndex{
		docs: make(map[string]*posting),
		df:   make(map[string]int),
	}
}

func (m *memoryIndex) Index(_ context.Context, id, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.docs[id]; ok {
		m.decrementDF(old)
	}
	terms := tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	p := &posting{id: id, text: text, meta: copyMeta(metadata), tf: tf}
	p.norm = l2Norm(tf)
	m.docs[id] = p
	for t := range tf {
		m.df[t]++
	}
	return nil
}

func (m *memoryIndex) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.docs[id]; ok {
		m.decrementDF(old)
		delete(m.docs, id)
	}
	return nil
}

func (m *memoryIndex) decrementDF(p *posting) {
	for t := range p.tf {
		m.df[t]--
		if m.df[t] <= 0 {
			delete(m.df, t)
		}
	}
}

func (m *memoryIndex) Search(_ context.Context, query string, limit int) ([]Result, error) {
	return m.search(query, limit, nil)
}

func (m *memoryIndex) SearchChunks(_ context.Context, query string, _ string, limit int, filter map[string]string) ([]Result, error) {
	merged := copyMeta(filter)
	if merged == nil {
		merged = map[string]string{}
	}
	merged["type"] = "chunk"
	return m.search(query, limit, merged)
}

func (m *memoryIndex) search(query string, limit int, filter map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	n := float64(len(m.docs))
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		df := m.df[t]
		if df == 0 {
			idf[t] = 0
			continue
		}
		idf[t] = math.Log(1 + n/float64(df))
	}

	out := make([]Result, 0, limit)
	for id, p := range m.docs {
		if !matchesFilter(p.meta, filter) {
			continue
		}
		var score float64
		for _, t := range terms {
			if c, ok := p.tf[t]; ok {
				score += float64(c) * idf[t]
			}
		}
		if score <= 0 {
			continue
		}
		if p.norm > 0 {
			score /= p.norm
		}
		out = append(out, Result{ID: id, Score: score, Text: p.text, Metadata: copyMeta(p.meta)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryIndex) GetByID(_ context.Context, id string) (Result, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.docs[id]
	if !ok {
		return Result{}, false, nil
	}
	return Result{ID: p.id, Text: p.text, Metadata: copyMeta(p.meta)}, true, nil
}

func (m *memoryIndex) SnippetForID(_ context.Context, id, _ string, query string) (string, bool, error) {
	m.mu.RLock()
	p, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	return windowSnippet(p.text, query), true, nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func l2Norm(tf map[string]int) float64 {
	var sum float64
	for _, c := range tf {
		sum += float64(c) * float64(c)
	}
	return math.Sqrt(sum)
}

func windowSnippet(text, query string) string {
	const maxLen = 160
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	idx := -1
	for _, term := range tokenize(query) {
		if i := strings.Index(lower, term); i != -1 {
			idx = i
			break
		}
	}
	if idx == -1 {
		if len(text) > maxLen {
			return text[:maxLen]
		}
		return text
	}
	start := idx - 60
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
