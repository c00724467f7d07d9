package answer

import (
	"regexp"
	"strconv"
	"strings"
)

var confidenceTokenRe = regexp.MustCompile(`\[CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*\]`)

// extractConfidence pulls the trailing [CONFIDENCE:x.xx] token off the raw
// answer text, returning the cleaned text and the parsed value when
// present.
func extractConfidence(text string) (cleaned string, value float64, ok bool) {
	loc := confidenceTokenRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, 0, false
	}
	raw := text[loc[2]:loc[3]]
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return text, 0, false
	}
	cleaned = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return cleaned, clampConfidence(v), true
}

// deriveConfidence falls back to the mean retriever score, clamped to
// [0.3, 0.95], defaulting to 0.5 with no scores at all.
func deriveConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return clampConfidence(sum / float64(len(scores)))
}

func clampConfidence(v float64) float64 {
	if v < 0.3 {
		return 0.3
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}
