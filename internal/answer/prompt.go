package answer

import (
	"fmt"
	"strings"

	"paperrag/internal/chatstore"
	"paperrag/internal/llm"
	"paperrag/internal/retrieve"
)

// maxHistoryMessages bounds how much prior conversation is replayed on
// every turn, independent of any rolling-summary mechanism the session
// may also carry.
const maxHistoryMessages = 10

// maxReferenceImages caps how many images from the retrieved contexts are
// sent alongside the question, across all context blocks combined.
const maxReferenceImages = 4

const systemPromptTemplate = `You are a research assistant answering questions about a single paper using only the excerpts provided below as [Context N] blocks.

Prefer the chat history over the contexts when the user is asking about something already established earlier in this conversation; use the contexts when the question is about the paper's content.

When you look at an attached image, describe what you actually observe in it rather than guessing from the surrounding text.

Cite every claim drawn from a context block with its marker, e.g. [c1], immediately after the sentence it supports. Use each context at most once per claim. Do not invent citations for context numbers that were not provided.

End your answer with a single line of the form [CONFIDENCE:0.xx] reflecting how well the contexts support the answer.`

// buildSystemPrompt returns the static system message used for every
// answer turn.
func buildSystemPrompt() llm.Message {
	return llm.Message{Role: "system", Content: systemPromptTemplate}
}

// recentHistory returns up to maxHistoryMessages of the session's prior
// messages, excluding system messages and any user message whose content
// exactly matches the question currently being asked (a race guard against
// the current turn's own user message already having been persisted).
func recentHistory(all []chatstore.ChatMessage, question string) []chatstore.ChatMessage {
	filtered := make([]chatstore.ChatMessage, 0, len(all))
	for _, m := range all {
		if m.Role == "system" {
			continue
		}
		if m.Role == "user" && strings.TrimSpace(m.Content) == strings.TrimSpace(question) {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > maxHistoryMessages {
		filtered = filtered[len(filtered)-maxHistoryMessages:]
	}
	return filtered
}

func historyToMessages(history []chatstore.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// contextBlock renders one retrieved item as a numbered [Context N] block.
func contextBlock(n int, item retrieve.RetrievedItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Context %d]", n)
	if item.Doc.Title != "" {
		fmt.Fprintf(&b, " (%s)", item.Doc.Title)
	}
	b.WriteString("\n")
	text := item.Text
	if text == "" {
		text = item.Snippet
	}
	b.WriteString(text)
	return b.String()
}

// buildContextBlocks renders every retrieved item into its [Context N]
// block and joins them for inclusion in the user turn.
func buildContextBlocks(items []retrieve.RetrievedItem) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		blocks = append(blocks, contextBlock(i+1, item))
	}
	return strings.Join(blocks, "\n\n")
}

// referenceImagePaths collects up to maxReferenceImages image asset paths
// from the retrieved contexts, most relevant (highest-ranked) item first,
// for attaching to the LLM call alongside any user-supplied images.
func referenceImagePaths(items []retrieve.RetrievedItem, chunkImages map[string][]string) []string {
	out := make([]string, 0, maxReferenceImages)
	for _, item := range items {
		for _, path := range chunkImages[item.ID] {
			if len(out) >= maxReferenceImages {
				return out
			}
			out = append(out, path)
		}
	}
	return out
}

// buildUserTurn assembles the final user message content: the question
// followed by the rendered context blocks.
func buildUserTurn(question string, items []retrieve.RetrievedItem) string {
	contexts := buildContextBlocks(items)
	if contexts == "" {
		return question
	}
	return question + "\n\n" + contexts
}
