// Package references extracts structured bibliography entries from a
// paper's references section and resolves each to the best available
// outbound link (DOI, arXiv, direct URL, or a Google Scholar search).
package references

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Reference is one parsed bibliography entry.
type Reference struct {
	ID       int      `json:"id"`
	RawText  string   `json:"rawText"`
	Title    string   `json:"title,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	ArxivID  string   `json:"arxivId,omitempty"`
	URL      string   `json:"url,omitempty"`
	Link     string   `json:"link,omitempty"`
	LinkType string   `json:"linkType,omitempty"`
}

var (
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	rePeriodNum  = regexp.MustCompile(`(?m)^\d+\.`)
	reSplitBr    = regexp.MustCompile(`\n\[\d+\]`)
	reSplitParen = regexp.MustCompile(`\n\(\d+\)`)
	reSplitDot   = regexp.MustCompile(`\n\d+\.`)
	reBlankLine  = regexp.MustCompile(`\n\s*\n`)
	reNumPrefix  = regexp.MustCompile(`^[\[(]?\d+[\])]?\.?\s*`)

	reDOIPrefixed = regexp.MustCompile(`(?i)doi:\s*(10\.\d{4,}/[^\s,]+)`)
	reDOIURL      = regexp.MustCompile(`(?i)doi\.org/(10\.\d{4,}/[^\s,]+)`)
	reDOIBare     = regexp.MustCompile(`\b(10\.\d{4,}/[^\s,]+)`)

	reArxivPrefixed = regexp.MustCompile(`(?i)arXiv:\s*(\d{4}\.\d{4,5}(?:v\d+)?)`)
	reArxivURL      = regexp.MustCompile(`(?i)arxiv\.org/abs/(\d{4}\.\d{4,5}(?:v\d+)?)`)
	reArxivOld      = regexp.MustCompile(`(?i)arXiv:\s*([a-z\-]+/\d{7})`)

	reURL = regexp.MustCompile(`(?i)https?://[^\s,)\]]+`)

	reYearParen = regexp.MustCompile(`\((\d{4})\)`)
	reYearBare  = regexp.MustCompile(`\b(19\d{2}|20[0-3]\d)\b`)

	reTitleQuoted = regexp.MustCompile(`["“”]([^"“”]+)["“”]`)
	reAuthorLead  = regexp.MustCompile(`^([^.]+?)(?:\.|,)\s+(?:[A-Z]\.?\s*)+`)
)

// Parse splits raw references-section text into entries and extracts
// whatever metadata each entry's text yields.
func Parse(raw string) []Reference {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	entries := split(raw)
	out := make([]Reference, 0, len(entries))
	for i, text := range entries {
		out = append(out, parseOne(i+1, text))
	}
	return out
}

// split breaks a references blob into individual entries, trying
// numbered-list conventions before falling back to blank-line separation.
func split(raw string) []string {
	// splitBefore cuts raw just after each newline that re matches, so the
	// entry's number stays at the start of its entry.
	splitBefore := func(re *regexp.Regexp) []string {
		var parts []string
		last := 0
		for _, loc := range re.FindAllStringIndex(raw, -1) {
			parts = append(parts, raw[last:loc[0]])
			last = loc[0] + 1
		}
		return nonEmpty(append(parts, raw[last:]))
	}
	switch {
	case reBracketNum.MatchString(raw):
		return splitBefore(reSplitBr)
	case reParenNum.MatchString(raw):
		return splitBefore(reSplitParen)
	case rePeriodNum.MatchString(raw):
		return splitBefore(reSplitDot)
	default:
		parts := nonEmpty(reBlankLine.Split(raw, -1))
		out := parts[:0]
		for _, p := range parts {
			if len(p) > 20 {
				out = append(out, p)
			}
		}
		return out
	}
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseOne(id int, raw string) Reference {
	return Reference{
		ID:      id,
		RawText: raw,
		DOI:     extractDOI(raw),
		ArxivID: extractArxivID(raw),
		URL:     extractURL(raw),
		Year:    extractYear(raw),
		Title:   extractTitle(raw),
		Authors: extractAuthors(raw),
	}
}

func extractDOI(text string) string {
	if m := reDOIPrefixed.FindStringSubmatch(text); m != nil {
		return trimDOI(m[1])
	}
	if m := reDOIURL.FindStringSubmatch(text); m != nil {
		return trimDOI(m[1])
	}
	if m := reDOIBare.FindStringSubmatch(text); m != nil {
		doi := trimDOI(m[1])
		if parts := strings.SplitN(doi, "/", 2); len(parts) == 2 && hasAlnum(parts[1]) {
			return doi
		}
	}
	return ""
}

func trimDOI(s string) string { return strings.TrimRight(s, ".,;") }

func hasAlnum(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

func extractArxivID(text string) string {
	if m := reArxivPrefixed.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reArxivURL.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reArxivOld.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func extractURL(text string) string {
	for _, u := range reURL.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;")
		lower := strings.ToLower(u)
		if !strings.Contains(lower, "doi.org") && !strings.Contains(lower, "arxiv.org") {
			return u
		}
	}
	return ""
}

func extractYear(text string) int {
	if m := reYearParen.FindStringSubmatch(text); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil && y >= 1900 && y <= 2030 {
			return y
		}
	}
	if m := reYearBare.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y
	}
	return 0
}

func extractTitle(text string) string {
	cleaned := reNumPrefix.ReplaceAllString(text, "")
	if m := reTitleQuoted.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractAuthors(text string) []string {
	cleaned := reNumPrefix.ReplaceAllString(text, "")
	m := reAuthorLead.FindStringSubmatch(cleaned)
	if m == nil {
		return nil
	}
	raw := m[1]
	parts := regexp.MustCompile(`,\s*and\s+|,\s+|\s+and\s+`).Split(raw, -1)
	authors := make([]string, 0, len(parts))
	for _, a := range parts {
		a = strings.TrimSpace(a)
		if a != "" && len(a) > 1 {
			authors = append(authors, a)
		}
	}
	if len(authors) == 0 || len(authors) > 20 {
		return nil
	}
	if len(authors) > 5 {
		authors = authors[:5]
	}
	return authors
}

// GenerateLink picks the best outbound link for a reference, preferring
// DOI, then arXiv, then a direct URL, and falling back to a Google
// Scholar search built from title/author/year.
func GenerateLink(ref Reference) (link, linkType string) {
	switch {
	case ref.DOI != "":
		return "https://doi.org/" + ref.DOI, "doi"
	case ref.ArxivID != "":
		return "https://arxiv.org/abs/" + ref.ArxivID, "arxiv"
	case ref.URL != "":
		return ref.URL, "url"
	default:
		return scholarLink(ref), "scholar"
	}
}

func scholarLink(ref Reference) string {
	var parts []string
	if len(ref.Title) > 10 {
		parts = append(parts, fmt.Sprintf("%q", ref.Title))
	}
	if len(ref.Authors) > 0 {
		surname := ref.Authors[0]
		if i := strings.LastIndex(surname, " "); i >= 0 {
			surname = surname[i+1:]
		}
		surname = strings.Trim(surname, ".,")
		if len(surname) > 1 {
			parts = append(parts, surname)
		}
	}
	if ref.Year > 0 {
		parts = append(parts, strconv.Itoa(ref.Year))
	}
	onlyYear := len(parts) == 1 && ref.Year > 0 && parts[0] == strconv.Itoa(ref.Year)
	if len(parts) == 0 || onlyYear {
		raw := reNumPrefix.ReplaceAllString(ref.RawText, "")
		raw = strings.Join(strings.Fields(raw), " ")
		if len(raw) > 150 {
			raw = raw[:150]
		}
		raw = strings.NewReplacer("[", "", "]", "", "(", "", ")", "").Replace(raw)
		if raw != "" {
			parts = []string{raw}
		}
	}
	query := strings.Join(parts, " ")
	return "https://scholar.google.com/scholar?q=" + url.QueryEscape(query)
}

// Resolve parses raw reference text and fills in each entry's Link/LinkType.
func Resolve(raw string) []Reference {
	refs := Parse(raw)
	for i := range refs {
		refs[i].Link, refs[i].LinkType = GenerateLink(refs[i])
	}
	return refs
}
