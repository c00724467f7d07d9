package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"paperrag/internal/chatstore"
	"paperrag/internal/retrieve"
)

var markerRe = regexp.MustCompile(`\[c(\d+)\]`)

// previousReferencePhrases is the small trigger vocabulary used to detect
// an answer that refers back to an earlier turn rather than the current
// retrieval set.
var previousReferencePhrases = []string{
	"as i mentioned", "as previously", "earlier i said", "in my previous",
	"as noted above", "as discussed earlier", "from before",
}

// rewriteCitations extracts [cN] markers in first-appearance order, drops
// any marker whose N has no matching retrieved hit, and renumbers the
// rest sequentially starting at 1. Rewriting goes through a unique
// placeholder per original marker rather than direct string substitution,
// so a marker's new number can never collide with another marker's still
// unprocessed original number (the classic [c1] vs [c10] problem).
func rewriteCitations(text string, hitCount int) (rewritten string, originals []int) {
	matches := markerRe.FindAllStringSubmatch(text, -1)
	var allOriginals []int
	seenAt := make(map[int]bool)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || seenAt[n] {
			continue
		}
		seenAt[n] = true
		allOriginals = append(allOriginals, n)
	}

	placeholders := make(map[int]string, len(allOriginals))
	rewritten = text
	for _, orig := range allOriginals {
		ph := fmt.Sprintf("\x00CITE%d\x00", orig)
		placeholders[orig] = ph
		rewritten = strings.ReplaceAll(rewritten, fmt.Sprintf("[c%d]", orig), ph)
	}

	for _, orig := range allOriginals {
		if orig < 1 || orig > hitCount {
			rewritten = strings.ReplaceAll(rewritten, placeholders[orig], "")
			continue
		}
		originals = append(originals, orig)
	}
	for i, orig := range originals {
		rewritten = strings.ReplaceAll(rewritten, placeholders[orig], fmt.Sprintf("[c%d]", i+1))
	}
	rewritten = collapseSpaces(rewritten)
	return rewritten, originals
}

// collapseSpaces tidies up the double spaces a dropped marker can leave
// behind without touching paragraph breaks.
func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

type chunkCitationMeta struct {
	Section string
	Page    int
	Summary string
}

// buildCitations maps renumbered markers back to retrieval hits and
// produces the chatstore.Citation list persisted with the assistant
// message.
func buildCitations(originals []int, items []retrieve.RetrievedItem, chunkMeta map[string]chunkCitationMeta) []chatstore.Citation {
	out := make([]chatstore.Citation, 0, len(originals))
	for i, orig := range originals {
		idx := orig - 1
		if idx < 0 || idx >= len(items) {
			continue
		}
		item := items[idx]
		meta := chunkMeta[item.ID]
		out = append(out, chatstore.Citation{
			Number:  i + 1,
			Label:   fmt.Sprintf("c%d", i+1),
			DocID:   item.DocID,
			Section: meta.Section,
			Page:    meta.Page,
			Excerpt: summarizeExcerpt(item.Text),
			Summary: meta.Summary,
		})
	}
	return out
}

// isPreviousQuestionReference does a small, case-insensitive vocabulary
// match against phrases that suggest the answer is referring back to an
// earlier turn rather than the current retrieval set.
func isPreviousQuestionReference(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range previousReferencePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// resolveFromHistory finds a citation with the given renumbered label in
// the most recent assistant messages, newest first, for markers the
// current retrieval set could not satisfy.
func resolveFromHistory(history []chatstore.ChatMessage, label string) (chatstore.Citation, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "assistant" {
			continue
		}
		for _, c := range history[i].Citations {
			if c.Label == label {
				return c, true
			}
		}
	}
	return chatstore.Citation{}, false
}
