package answer

import (
	"fmt"
	"regexp"
	"strings"

	"paperrag/internal/retrieve"
)

var sentenceSplitRe = regexp.MustCompile(`(?s)[^.!?]*[.!?]`)

// extractiveAnswer is the fallback generator invoked when the LLM call
// fails for any reason: it returns the single sentence, across all
// retrieved contexts, with the highest term-overlap similarity to the
// question, cited back to its source context.
func extractiveAnswer(question string, items []retrieve.RetrievedItem) (text string, citedIndex int) {
	qTerms := termSet(question)
	bestScore := -1.0
	bestSentence := ""
	bestIdx := -1
	for i, item := range items {
		for _, s := range splitSentences(item.Text) {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			score := jaccard(qTerms, termSet(s))
			if score > bestScore {
				bestScore = score
				bestSentence = s
				bestIdx = i
			}
		}
	}
	if bestIdx == -1 {
		return "I couldn't find a relevant passage to answer that question.", -1
	}
	return bestSentence + fmt.Sprintf(" [c%d]", bestIdx+1), bestIdx
}

func splitSentences(text string) []string {
	return sentenceSplitRe.FindAllString(text, -1)
}

func termSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
