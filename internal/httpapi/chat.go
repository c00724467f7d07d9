package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"paperrag/internal/answer"
	"paperrag/internal/chatstore"
	"paperrag/internal/objectstore"
)

var chatTitleFilenameRe = regexp.MustCompile(`^Chat:\s*(.+?)(?:\s*-\s*[^-]+\s*-\s*[A-Za-z0-9]+)?$`)

func filenameFromTitle(title string) string {
	m := chatTitleFilenameRe.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

type createSessionRequest struct {
	UserID         string `json:"user_id"`
	Title          string `json:"title"`
	InitialMessage string `json:"initial_message"`
	ForceNew       bool   `json:"force_new"`
}

// handleCreateSession implements the find-or-create session rule: a
// session with the same title for the same user is reused unless the
// caller forces a new one.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	userID := userIDPtr(req.UserID)

	if !req.ForceNew {
		sessions, err := s.deps.Chat.ListSessions(ctx, userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		for _, sess := range sessions {
			if sess.Name == req.Title {
				respondJSON(w, http.StatusOK, map[string]any{"session": sess, "forceNew": false})
				return
			}
		}
	}

	filename := filenameFromTitle(req.Title)
	documentID := ""
	if filename != "" {
		if doc, ok, err := s.deps.Chunks.FindDocumentByFilename(ctx, ownerIDFromUser(req.UserID), filename); err == nil && ok {
			documentID = doc.ID
		}
	}

	sess, err := s.deps.Chat.CreateSession(ctx, userID, req.Title, documentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": sess, "forceNew": true})
}

func userIDPtr(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func ownerIDFromUser(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

type askRequest struct {
	SessionID  string   `json:"session_id"`
	Question   string   `json:"question"`
	Retriever  string   `json:"retriever"`
	Generator  string   `json:"generator"`
	TopK       int      `json:"top_k"`
	MaxTokens  int      `json:"max_tokens"`
	UserImages []string `json:"user_images"`
	UserID     string   `json:"user_id"`
}

type askResponse struct {
	SessionID       string               `json:"session_id"`
	Question        string               `json:"question"`
	Answer          string               `json:"answer"`
	CitedSections   []chatstore.Citation `json:"cited_sections"`
	RetrieverScores []float64            `json:"retriever_scores"`
	MessageID       string               `json:"message_id"`
	Timestamp       string               `json:"timestamp"`
	Confidence      float64              `json:"confidence"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.doAsk(w, r, req)
}

func (s *Server) doAsk(w http.ResponseWriter, r *http.Request, req askRequest) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, errors.New("session_id and question are required"))
		return
	}
	result, err := s.deps.Answer.Answer(r.Context(), answer.Request{
		SessionID:     req.SessionID,
		Question:      req.Question,
		UserImageRefs: req.UserImages,
		RetrieverName: req.Retriever,
		TopK:          req.TopK,
		MaxTokens:     req.MaxTokens,
		UserID:        userIDPtr(req.UserID),
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, askResponse{
		SessionID:       req.SessionID,
		Question:        req.Question,
		Answer:          result.Answer,
		CitedSections:   result.Citations,
		RetrieverScores: result.RetrieverScores,
		MessageID:       result.MessageID,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Confidence:      result.Confidence,
	})
}

// handleAskWithUpload accepts the same fields as POST /chat/ask but as
// multipart form values, plus zero or more "images" files that are
// stored under temp_chat_images/ and passed to the orchestrator as
// image references alongside the question.
func (s *Server) handleAskWithUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxBytes := int64(s.deps.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req := askRequest{
		SessionID: r.FormValue("session_id"),
		Question:  r.FormValue("question"),
		Retriever: r.FormValue("retriever"),
		Generator: r.FormValue("generator"),
		UserID:    r.FormValue("user_id"),
	}
	if v := r.FormValue("top_k"); v != "" {
		req.TopK, _ = strconv.Atoi(v)
	}
	if v := r.FormValue("max_tokens"); v != "" {
		req.MaxTokens, _ = strconv.Atoi(v)
	}

	var imageRefs []string
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["images"] {
			ref, err := s.storeChatImage(ctx, fh)
			if err != nil {
				continue
			}
			imageRefs = append(imageRefs, ref)
		}
	}
	req.UserImages = imageRefs

	s.doAsk(w, r, req)
}

// storeChatImage persists one uploaded chat image under temp_chat_images/
// and returns its blob key, for later resolution by internal/answer.
func (s *Server) storeChatImage(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("temp_chat_images/%d-%s-%s", time.Now().Unix(), randomToken(6), sanitizeFilename(fh.Filename))
	if _, err := s.deps.Objects.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{}); err != nil {
		return "", err
	}
	return key, nil
}
