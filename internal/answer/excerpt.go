package answer

import "strings"

// summarizeExcerpt truncates long citation passages to a head/tail pair at
// word boundaries so citations stay legible without showing a whole chunk
// of prose. Grounded on internal/retrieve.simpleSnippet's word-boundary-
// aware windowing, generalized to the head+tail shape this needs.
func summarizeExcerpt(text string) string {
	n := len(text)
	switch {
	case n <= 500:
		return text
	case n <= 950:
		return headTail(text, 400, 100)
	default:
		return headTail(text, 800, 150)
	}
}

func headTail(text string, headLen, tailLen int) string {
	head := truncateAtWordBoundary(text, headLen, false)
	tail := truncateAtWordBoundary(text, tailLen, true)
	return head + "..." + tail
}

// truncateAtWordBoundary returns the first (or, if fromEnd, last) n
// characters of s, trimmed back to the nearest space so a word is never
// cut in half.
func truncateAtWordBoundary(s string, n int, fromEnd bool) string {
	if n >= len(s) {
		return strings.TrimSpace(s)
	}
	if !fromEnd {
		cut := s[:n]
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
		return strings.TrimSpace(cut)
	}
	cut := s[len(s)-n:]
	if idx := strings.IndexByte(cut, ' '); idx >= 0 && idx+1 < len(cut) {
		cut = cut[idx+1:]
	}
	return strings.TrimSpace(cut)
}
