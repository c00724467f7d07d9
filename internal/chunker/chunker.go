// Package chunker implements splitting the markdown produced by
// internal/pdfparse into ordered, heading-aware chunks of roughly 800-1500
// characters, with inline figure/table references re-attached to the
// chunk that contains them.
package chunker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"paperrag/internal/embedder"
)

// Asset is a figure or table reference discovered inline in the markdown,
// before it is re-attached to the chunk(s) that mention it.
type Asset struct {
	Label string // e.g. "Figure 3" or a table label
	Path  string // normalized path as it appeared inline
}

// Chunk is one emitted chunk, ready to be handed to chunkstore with a
// document id and a generated chunk id.
type Chunk struct {
	Ordinal int
	Page    int
	Section string
	Text    string
	Images  []Asset
	Tables  []Asset
}

// Options tunes the target chunk size. Zero value uses the package
// defaults (~800-1500 chars).
type Options struct {
	MinChars int
	MaxChars int
}

func (o Options) withDefaults() Options {
	if o.MinChars <= 0 {
		o.MinChars = 800
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 1500
	}
	return o
}

var (
	pageHeadingRe = regexp.MustCompile(`(?m)^## Page (\d+)\s*$`)
	headingRe     = regexp.MustCompile(`(?m)^(#{1,3})\s+(.*)$`)
	// inlineAssetRe matches bracketed references like [Figure 3](path/to/fig3.png)
	// or [Table 2](path/to/table2.csv) emitted inline by the parser/ingest step.
	inlineAssetRe = regexp.MustCompile(`\[((?:Figure|Table)\s*[\w.\-]*)\]\(([^)]+)\)`)
)

// Chunker splits markdown into chunk records. It owns the single mutex
// that serializes access to the shared, non-thread-safe semantic
// splitter.
type Chunker struct {
	mu   sync.Mutex
	emb  embedder.Embedder
	opts Options
}

// New constructs a Chunker. emb is used as the "light model" for the
// semantic splitter's sentence embeddings; callers normally pass
// embedder.NewDeterministic, using a fast
// deterministic local scorer rather than standing up a second model.
func New(emb embedder.Embedder, opts Options) *Chunker {
	return &Chunker{emb: emb, opts: opts.withDefaults()}
}

type section struct {
	page  int
	title string
	level int
	body  string
}

// Chunk runs the full chunking algorithm over markdown and returns ordered
// chunk records. An empty document yields zero chunks, not an error.
func (c *Chunker) Chunk(ctx context.Context, markdown string) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	text, assetsByPath := stripAssets(markdown)
	sections := splitSections(text)

	var out []Chunk
	for _, sec := range sections {
		bodies, err := c.splitSection(ctx, sec.body)
		if err != nil {
			return nil, fmt.Errorf("chunker: semantic split: %w", err)
		}
		if len(bodies) == 0 {
			continue
		}
		header := ""
		if sec.level >= 2 && sec.title != "" {
			header = sec.title + "\n\n"
		}
		for i, body := range bodies {
			cleaned := normalizeWhitespace(body)
			if cleaned == "" {
				continue
			}
			text := cleaned
			if i == 0 && header != "" {
				text = header + cleaned
			}
			out = append(out, Chunk{
				Page:    sec.page,
				Section: sec.title,
				Text:    text,
			})
		}
	}

	attachAssets(out, assetsByPath)

	for i := range out {
		for path := range assetsByPath {
			if strings.Contains(out[i].Text, path) {
				out[i].Text = strings.TrimSpace(wsRe.ReplaceAllString(strings.ReplaceAll(out[i].Text, path, ""), " "))
			}
		}
		out[i].Ordinal = i
	}
	return out, nil
}

// stripAssets replaces inline `[Figure N](path)` / `[Table N](path)`
// references with their normalized path, returning that text plus a
// side-table of assets keyed by the path. Chunk removes the paths from
// the chunk text once attachAssets has matched them.
func stripAssets(markdown string) (string, map[string]Asset) {
	assets := make(map[string]Asset)
	cleaned := inlineAssetRe.ReplaceAllStringFunc(markdown, func(m string) string {
		sub := inlineAssetRe.FindStringSubmatch(m)
		label, path := sub[1], normalizePath(sub[2])
		assets[path] = Asset{Label: label, Path: path}
		return " " + path + " "
	})
	return cleaned, assets
}

func normalizePath(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// splitSections walks the markdown line by line, tracking the active page
// (set by `## Page N`) and the active section title (set by any other
// heading), and groups body text between heading boundaries.
func splitSections(markdown string) []section {
	lines := strings.Split(markdown, "\n")
	var sections []section
	cur := section{}
	var body strings.Builder
	flush := func() {
		b := body.String()
		if strings.TrimSpace(b) != "" {
			cur.body = b
			sections = append(sections, cur)
		}
		body.Reset()
	}

	for _, line := range lines {
		if m := pageHeadingRe.FindStringSubmatch(line); m != nil {
			flush()
			var page int
			fmt.Sscanf(m[1], "%d", &page)
			cur = section{page: page, title: cur.title, level: cur.level}
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			cur = section{page: cur.page, title: title, level: level}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

var sentenceEndRe = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	rest := text
	for {
		loc := sentenceEndRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			if strings.TrimSpace(rest) != "" {
				out = append(out, strings.TrimSpace(rest))
			}
			break
		}
		sentence := strings.TrimSpace(rest[loc[2]:loc[3]])
		if sentence != "" {
			out = append(out, sentence)
		}
		rest = rest[loc[1]:]
		if rest == "" {
			break
		}
	}
	return out
}

// splitSection applies the semantic splitter to one section's body,
// falling back to size-bounded grouping so chunks stay within
// [MinChars, MaxChars] even when sentence boundaries run long.
func (c *Chunker) splitSection(ctx context.Context, body string) ([]string, error) {
	sentences := splitSentences(body)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return sentences, nil
	}

	breaks, err := c.semanticBreaks(ctx, sentences)
	if err != nil {
		return nil, err
	}

	var chunks []string
	var buf strings.Builder
	flushLen := 0
	for i, s := range sentences {
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s)
		flushLen += len(s)

		isBreak := breaks[i] || flushLen >= c.opts.MaxChars
		if isBreak && flushLen >= c.opts.MinChars/2 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			flushLen = 0
		}
	}
	if buf.Len() > 0 {
		if len(chunks) > 0 && flushLen < c.opts.MinChars/2 {
			chunks[len(chunks)-1] = chunks[len(chunks)-1] + " " + buf.String()
		} else {
			chunks = append(chunks, buf.String())
		}
	}
	return chunks, nil
}

// semanticBreaks computes, for each sentence index i (i>0), whether a
// break should be placed before sentence i: the cosine distance between
// sentence i-1 and i exceeds the 95th percentile of all local
// consecutive-pair distances in this section. Access to the embedder is
// serialized through c.mu since it is a known-unsafe shared resource.
func (c *Chunker) semanticBreaks(ctx context.Context, sentences []string) ([]bool, error) {
	c.mu.Lock()
	vectors, err := c.emb.EmbedBatch(ctx, sentences)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	breaks := make([]bool, len(sentences))
	if len(vectors) < 2 {
		return breaks, nil
	}

	distances := make([]float64, len(vectors)-1)
	for i := 1; i < len(vectors); i++ {
		distances[i-1] = cosineDistance(vectors[i-1], vectors[i])
	}
	threshold := percentile(distances, 0.95)

	for i := 1; i < len(vectors); i++ {
		if distances[i-1] > threshold {
			breaks[i] = true
		}
	}
	return breaks, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

var wsRe = regexp.MustCompile(`[ \t]+`)

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, l := range lines {
		l = wsRe.ReplaceAllString(strings.TrimSpace(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// attachAssets walks each chunk's text for mentions of an asset's
// normalized path, re-attaching matches. Any asset that matched no chunk
// attaches to the document's final chunk; assets do not record the
// section they came from, so this is not the final chunk of their section.
func attachAssets(chunks []Chunk, assets map[string]Asset) {
	if len(assets) == 0 {
		return
	}
	matched := make(map[string]bool, len(assets))
	for i := range chunks {
		for path, asset := range assets {
			if strings.Contains(strings.ToLower(chunks[i].Text), path) {
				attachOne(&chunks[i], asset)
				matched[path] = true
			}
		}
	}
	if len(chunks) == 0 {
		return
	}
	lastBySection := make(map[string]int)
	for i, ch := range chunks {
		lastBySection[ch.Section] = i
	}
	for path, asset := range assets {
		if matched[path] {
			continue
		}
		idx := len(chunks) - 1
		if li, ok := lastBySection[chunks[idx].Section]; ok {
			idx = li
		}
		attachOne(&chunks[idx], asset)
	}
}

func attachOne(c *Chunk, asset Asset) {
	if strings.HasPrefix(strings.ToLower(asset.Label), "table") {
		c.Tables = append(c.Tables, asset)
	} else {
		c.Images = append(c.Images, asset)
	}
}
