// Package pdfparse converts PDF bytes into ordered
// Markdown with heading levels detected by font-size clustering. Its
// Result type has figure/table asset lists, which Parse does not fill.
package pdfparse

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Asset describes one figure or table extracted from a page, before it
// has been persisted to the blob store.
type Asset struct {
	Label     string // e.g. "Figure 3"
	LocalPath string // scratch-directory path written by the extractor
	Page      int
}

// Result is the output of Parse: ordered markdown, the page count, and
// figure/table asset lists that Parse leaves empty.
type Result struct {
	Markdown  string
	Figures   []Asset
	Tables    []Asset
	PageCount int
}

// minUsableLines: with fewer non-empty lines than this, Parse skips heading
// detection and returns the raw text under `## Page N` breaks only.
const minUsableLines = 10

type line struct {
	page     int
	y        float64
	text     string
	fontSize float64
	bold     bool
	spans    int
	width    float64 // approximate line width in points
}

// Parse converts PDF bytes into Markdown with `## Page N` breaks and
// heading levels chosen by the two-pass font-size clustering algorithm.
// It does not extract figure or table assets: Result.Figures and
// Result.Tables are always empty, and scratchDir is not used.
func Parse(data []byte, scratchDir string) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("pdfparse: open: %w", err)
	}

	numPages := reader.NumPage()
	var lines []line
	for p := 1; p <= numPages; p++ {
		page := reader.Page(p)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, extractLines(page, p)...)
	}

	if countNonEmpty(lines) < minUsableLines {
		return degrade(lines, numPages), nil
	}

	thresholds := classifyHeadingLevels(lines)
	md := renderMarkdown(lines, thresholds)

	return Result{
		Markdown:  md,
		PageCount: numPages,
	}, nil
}

// extractLines groups a page's text runs into visual lines by Y
// proximity, matching the page's top-to-bottom reading order.
func extractLines(page pdf.Page, pageNum int) []line {
	content := page.Content()
	if len(content.Text) == 0 {
		return nil
	}

	const tolerance = 2.0
	type bucket struct {
		y        float64
		parts    []string
		fontSize []float64
		bold     bool
		minX     float64
		maxX     float64
		hasX     bool
	}
	var buckets []*bucket
	var cur *bucket
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > tolerance {
			buckets = append(buckets, &bucket{y: t.Y})
			cur = buckets[len(buckets)-1]
		}
		cur.parts = append(cur.parts, t.S)
		cur.fontSize = append(cur.fontSize, t.FontSize)
		if isBoldFontName(t.Font) {
			cur.bold = true
		}
		if !cur.hasX || t.X < cur.minX {
			cur.minX = t.X
			cur.hasX = true
		}
		right := t.X + t.W
		if right > cur.maxX {
			cur.maxX = right
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].y > buckets[j].y })

	out := make([]line, 0, len(buckets))
	for _, b := range buckets {
		text := strings.TrimSpace(strings.Join(b.parts, ""))
		if text == "" {
			continue
		}
		out = append(out, line{
			page:     pageNum,
			y:        b.y,
			text:     text,
			fontSize: mean(b.fontSize),
			bold:     b.bold,
			spans:    len(b.parts),
			width:    b.maxX - b.minX,
		})
	}
	return out
}

func isBoldFontName(font string) bool {
	return strings.Contains(strings.ToLower(font), "bold")
}

func countNonEmpty(lines []line) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l.text) != "" {
			n++
		}
	}
	return n
}

// degrade produces a single-section document from whatever raw text was
// found, per the empty/near-empty PDF failure mode.
func degrade(lines []line, pageCount int) Result {
	var b strings.Builder
	lastPage := 0
	for _, l := range lines {
		if l.page != lastPage {
			if lastPage != 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "## Page %d\n\n", l.page)
			lastPage = l.page
		}
		b.WriteString(l.text)
		b.WriteString("\n")
	}
	return Result{Markdown: b.String(), PageCount: pageCount}
}

// headingThresholds are the three font-size ranges (H1 >= H2 >= H3)
// derived from pass 1's k-means clustering, plus the body-text median
// they must sit above.
type headingThresholds struct {
	centroids  []float64 // descending, up to 3
	bodyMedian float64
}

// classifyHeadingLevels runs pass 1: collect per-line mean font sizes
// and cluster them with 1-D k-means (k<=3).
func classifyHeadingLevels(lines []line) headingThresholds {
	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		if l.fontSize > 0 {
			sizes = append(sizes, l.fontSize)
		}
	}
	centroids := kmeans1D(sizes, 3)
	return headingThresholds{
		centroids:  centroids,
		bodyMedian: median(sizes),
	}
}

var (
	numberedPattern = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVXLC]+\.|[A-Z]\.)\s+\S`)
	academicNames   = map[string]bool{
		"abstract": true, "introduction": true, "related work": true,
		"background": true, "methodology": true, "methods": true,
		"experiments": true, "results": true, "discussion": true,
		"conclusion": true, "conclusions": true, "references": true,
		"acknowledgments": true, "acknowledgements": true, "appendix": true,
	}
)

// headingLevel returns the heading level (1-3) for l, or 0 if l is body
// text, via a two-pass layout-score heuristic.
func headingLevel(l line, th headingThresholds) int {
	if len(th.centroids) == 0 || l.fontSize <= th.bodyMedian {
		return 0
	}
	level := 0
	for i, c := range th.centroids {
		// A line qualifies for level i+1 if its font size is at least
		// that cluster's centroid minus 0.5 (clusters are sorted descending).
		if l.fontSize >= c-0.5 {
			level = i + 1
			break
		}
	}
	if level == 0 {
		return 0
	}
	if layoutScore(l) < 3 {
		return 0
	}
	return level
}

// layoutScore implements the layout-classification point table.
func layoutScore(l line) int {
	score := 0
	text := l.text
	trimmed := strings.TrimSpace(text)

	if len(trimmed) < 60 {
		score += 2
	}
	if l.spans <= 2 {
		score += 1
	}
	if l.bold {
		score += 2
	}
	if l.fontSize > 0 && l.width > 0 && l.width/l.fontSize > 1.5 {
		// Approximation of "block height > 1.5x font size" using the
		// extractor's available geometry (line width as a stand-in for
		// block extent when true block height isn't exposed by the
		// text-run API).
		score += 1
	}
	if !strings.HasSuffix(trimmed, ".") {
		score += 1
	}
	if strings.HasSuffix(trimmed, ":") {
		score -= 2
	}
	if isAllCaps(trimmed) {
		score += 2
	}
	if academicNames[strings.ToLower(trimmed)] {
		score += 4
	}
	if numberedPattern.MatchString(trimmed) {
		score += 2
	}
	return score
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

// renderMarkdown is pass 2: emit each line, marking headings at the
// level classifyHeadingLevels assigned them, with `## Page N` breaks.
func renderMarkdown(lines []line, th headingThresholds) string {
	var b strings.Builder
	lastPage := 0
	for _, l := range lines {
		if l.page != lastPage {
			if lastPage != 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "## Page %d\n\n", l.page)
			lastPage = l.page
		}
		level := headingLevel(l, th)
		switch level {
		case 0:
			b.WriteString(l.text)
			b.WriteString("\n")
		default:
			// Headings are written one level deeper than detected: "##"
			// (H1) through "####" (H3); "#" is never emitted. Page breaks
			// are "## Page N".
			b.WriteString(strings.Repeat("#", level+1))
			b.WriteString(" ")
			b.WriteString(l.text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
