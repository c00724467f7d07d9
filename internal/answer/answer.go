// Package answer implements the question-answering orchestrator that sits
// in front of chat sessions: it retrieves relevant context for a question,
// asks the configured LLM to answer with citations, and falls back to an
// extractive answer when the LLM call fails for any reason.
package answer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paperrag/internal/chatstore"
	"paperrag/internal/chunkstore"
	"paperrag/internal/embedder"
	"paperrag/internal/keywordindex"
	"paperrag/internal/llm"
	"paperrag/internal/llm/openai"
	"paperrag/internal/objectstore"
	"paperrag/internal/retrieve"
	"paperrag/internal/status"
	"paperrag/internal/vectorindex"
)

// Deps wires the orchestrator to the stores and services it needs. A nil
// Provider means the "extractive" LLM configuration: every answer is
// produced by extractiveAnswer, and the LLM call is skipped entirely
// rather than attempted and falling back on error.
type Deps struct {
	Chat        chatstore.ChatStore
	Chunks      chunkstore.Store
	Objects     objectstore.ObjectStore
	Embedder    embedder.Embedder
	KeywordIdx  keywordindex.Index
	VectorIdx   vectorindex.Index
	Provider    llm.Provider
	Broadcaster *status.Broadcaster
	Model       string
}

// Orchestrator answers questions for a chat session bound to a document.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Request is the input to Answer.
type Request struct {
	SessionID     string
	Question      string
	UserImageRefs []string
	RetrieverName string
	TopK          int
	MaxTokens     int
	UserID        *int64
}

// Result is the output of Answer.
type Result struct {
	Answer          string
	Citations       []chatstore.Citation
	Confidence      float64
	RetrieverScores []float64
	MessageID       string
}

// chunkIndex captures per-chunk metadata needed to build citations and
// reference image lists, keyed by chunk id.
type chunkIndex struct {
	meta   map[string]chunkCitationMeta
	images map[string][]string
}

func buildChunkIndex(chunks []chunkstore.Chunk) chunkIndex {
	idx := chunkIndex{meta: map[string]chunkCitationMeta{}, images: map[string][]string{}}
	for _, c := range chunks {
		idx.meta[c.ID] = chunkCitationMeta{Section: c.Section, Page: c.Page}
		var paths []string
		for _, img := range c.Images {
			if img.BlobPath != "" {
				paths = append(paths, img.BlobPath)
			}
		}
		idx.images[c.ID] = paths
	}
	return idx
}

// Answer retrieves context for the question, builds the LLM message list,
// generates an answer with citations and a confidence score, and persists
// both the user and assistant turns.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Result, error) {
	session, err := o.deps.Chat.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("answer: load session: %w", err)
	}
	if session.ID != req.SessionID {
		return Result{}, fmt.Errorf("answer: session id mismatch: requested %q, loaded %q", req.SessionID, session.ID)
	}

	allHistory, err := o.deps.Chat.ListMessages(ctx, req.UserID, req.SessionID, 0)
	if err != nil {
		return Result{}, fmt.Errorf("answer: load history: %w", err)
	}
	history := recentHistory(allHistory, req.Question)

	imageAttachments := resolveUserImages(ctx, o.deps.Objects, req.UserImageRefs)

	topK := req.TopK
	if topK <= 0 {
		topK = 6
	}
	var queryImageRef string
	if len(req.UserImageRefs) > 0 {
		queryImageRef = req.UserImageRefs[0]
	}
	retrieval, err := retrieve.Retrieve(ctx, o.deps.Embedder, o.deps.KeywordIdx, o.deps.VectorIdx, req.Question, session.DocumentID, queryImageRef, objectStoreResolver{o.deps.Objects}, retrieve.RetrieveOptions{
		K: topK, FtK: topK, VecK: topK, Alpha: 0.5, IncludeSnippet: true, Diversify: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("answer: retrieve: %w", err)
	}
	items := retrieval.Items

	chunkIDs := make([]string, 0, len(items))
	for _, it := range items {
		chunkIDs = append(chunkIDs, it.ID)
	}
	var chunkMeta map[string]chunkCitationMeta
	var chunkImages map[string][]string
	if o.deps.Chunks != nil && len(chunkIDs) > 0 {
		chunks, err := o.deps.Chunks.GetChunks(ctx, chunkIDs)
		if err == nil {
			idx := buildChunkIndex(chunks)
			chunkMeta, chunkImages = idx.meta, idx.images
		}
	}
	if chunkMeta == nil {
		chunkMeta = map[string]chunkCitationMeta{}
	}

	userMsg := chatstore.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		Role:       "user",
		Content:    req.Question,
		CreatedAt:  time.Now(),
		ImagePaths: req.UserImageRefs,
	}
	if err := o.deps.Chat.AppendMessages(ctx, req.UserID, req.SessionID, []chatstore.ChatMessage{userMsg}, req.Question, o.deps.Model); err != nil {
		return Result{}, fmt.Errorf("answer: persist user message: %w", err)
	}

	rawText, usedLLM := o.generate(ctx, req, history, items, imageAttachments, chunkImages)

	cleaned, confVal, hasConf := extractConfidence(rawText)
	rewritten, originals := rewriteCitations(cleaned, len(items))
	citations := buildCitations(originals, items, chunkMeta)

	if isPreviousQuestionReference(rewritten) {
		for i := range citations {
			if citations[i].Excerpt != "" {
				continue
			}
			if resolved, ok := resolveFromHistory(allHistory, citations[i].Label); ok {
				citations[i].Excerpt = resolved.Excerpt
				citations[i].Summary = resolved.Summary
			}
		}
	}

	scores := scoresOf(items)
	confidence := confVal
	if !hasConf || !usedLLM {
		confidence = deriveConfidence(scores)
	}

	assistantMsg := chatstore.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		Role:       "assistant",
		Content:    rewritten,
		CreatedAt:  time.Now(),
		Citations:  citations,
		Confidence: confidence,
	}
	preview := rewritten
	if len(preview) > 200 {
		preview = preview[:200]
	}
	if err := o.deps.Chat.AppendMessages(ctx, req.UserID, req.SessionID, []chatstore.ChatMessage{assistantMsg}, preview, o.deps.Model); err != nil {
		return Result{}, fmt.Errorf("answer: persist assistant message: %w", err)
	}

	if o.deps.Broadcaster != nil {
		o.deps.Broadcaster.SendChatEvent(session.DocumentID, status.ChatEvent{
			Type: "chat", SessionID: req.SessionID, Status: "answer_ready", DocumentID: session.DocumentID,
		})
	}

	return Result{
		Answer:          rewritten,
		Citations:       citations,
		Confidence:      confidence,
		RetrieverScores: scores,
		MessageID:       assistantMsg.ID,
	}, nil
}

func scoresOf(items []retrieve.RetrievedItem) []float64 {
	out := make([]float64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Score)
	}
	return out
}

// generate produces the raw answer text (with [cN] markers and an optional
// trailing [CONFIDENCE:x.xx] token still in place) either via the LLM or,
// on any failure or when configured for extractive-only operation, via the
// extractive fallback.
func (o *Orchestrator) generate(ctx context.Context, req Request, history []chatstore.ChatMessage, items []retrieve.RetrievedItem, userImages []openai.ImageAttachment, chunkImages map[string][]string) (text string, usedLLM bool) {
	if o.deps.Provider == nil {
		answer, _ := extractiveAnswer(req.Question, items)
		return answer, false
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, buildSystemPrompt())
	msgs = append(msgs, historyToMessages(history)...)
	msgs = append(msgs, llm.Message{Role: "user", Content: buildUserTurn(req.Question, items)})

	model := o.deps.Model
	out, err := o.callProvider(ctx, msgs, userImages, items, chunkImages, model)
	if err != nil {
		answer, _ := extractiveAnswer(req.Question, items)
		return answer, false
	}
	return out.Content, true
}

// callProvider dispatches to the image-capable OpenAI client when there are
// images to send and the provider supports it, otherwise uses the plain
// text Chat path common to every llm.Provider.
func (o *Orchestrator) callProvider(ctx context.Context, msgs []llm.Message, userImages []openai.ImageAttachment, items []retrieve.RetrievedItem, chunkImages map[string][]string, model string) (llm.Message, error) {
	refImagePaths := referenceImagePaths(items, chunkImages)
	allImages := make([]openai.ImageAttachment, 0, len(userImages)+len(refImagePaths))
	allImages = append(allImages, userImages...)
	for _, path := range refImagePaths {
		att, err := resolveUserImage(ctx, o.deps.Objects, path)
		if err != nil {
			continue
		}
		allImages = append(allImages, att)
	}

	if len(allImages) > 0 {
		if oc, ok := o.deps.Provider.(*openai.Client); ok {
			return oc.ChatWithImageAttachments(ctx, msgs, allImages, nil, model)
		}
	}
	return o.deps.Provider.Chat(ctx, msgs, nil, model)
}
