package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"paperrag/internal/chunkstore"
	"paperrag/internal/ingestqueue"
	"paperrag/internal/objectstore"
)

var errNotAPDF = errors.New("uploaded file is not a PDF")

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxBytes := int64(s.deps.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !looksLikePDF(data) {
		respondError(w, http.StatusBadRequest, errNotAPDF)
		return
	}

	ownerID := strings.TrimSpace(r.FormValue("user_id"))
	if ownerID == "" {
		ownerID = "anonymous"
	}
	hash := sha256Hex(data)

	if existing, ok, err := s.deps.Chunks.FindDocumentByContentHash(ctx, ownerID, hash); err == nil && ok {
		respondJSON(w, http.StatusOK, map[string]any{"documentId": existing.ID, "document": existing})
		return
	}

	safeName := sanitizeFilename(header.Filename)
	blobKey := fmt.Sprintf("%s/pdfs/%d-%s-%s", ownerID, time.Now().Unix(), randomToken(6), safeName)
	if _, err := s.deps.Objects.Put(ctx, blobKey, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/pdf"}); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	doc, err := s.deps.Chunks.CreateDocument(ctx, chunkstore.Document{
		OwnerID:         ownerID,
		Filename:        safeName,
		StoredBlobPath:  blobKey,
		FileSize:        int64(len(data)),
		ContentHash:     hash,
		Status:          chunkstore.DocumentUploading,
		EmbeddingStatus: chunkstore.FeaturePending,
		// Summary and skimming have no task pipeline, and reference
		// extraction runs only when POST /documents/{id}/references is
		// called; leaving them at the Go zero value would leak an invalid
		// status string into the WS snapshot, so all three start "skipped".
		SummaryStatus:   chunkstore.FeatureSkipped,
		ReferenceStatus: chunkstore.FeatureSkipped,
		SkimmingStatus:  chunkstore.FeatureSkipped,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.deps.Queue.Enqueue(ingestqueue.Job{
		DocumentID: doc.ID,
		OwnerID:    ownerID,
		Filename:   safeName,
		Bytes:      data,
	})

	respondJSON(w, http.StatusOK, map[string]any{"documentId": doc.ID, "document": doc})
}

type deleteDocumentsRequest struct {
	DocumentIDs []string `json:"documentIds"`
	DeleteAll   bool     `json:"deleteAll"`
}

func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req deleteDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	ids := req.DocumentIDs
	if req.DeleteAll {
		all, err := s.listAllDocumentIDs(ctx)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		ids = all
	}
	for _, id := range ids {
		if err := s.deleteOneDocument(ctx, id); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": ids})
}

// listAllDocumentIDs always returns an error: chunkstore.Store has no
// "list all documents" operation (documents are always addressed by id),
// so a deleteAll request fails with 500 and deletes nothing; only the
// documents named in documentIds are deleted.
func (s *Server) listAllDocumentIDs(ctx context.Context) ([]string, error) {
	return nil, errors.New("httpapi: deleteAll requires an external document index; pass documentIds explicitly")
}

func (s *Server) deleteOneDocument(ctx context.Context, id string) error {
	doc, ok, err := s.deps.Chunks.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	chunks, err := s.deps.Chunks.ListChunks(ctx, id)
	if err != nil {
		return err
	}
	if s.deps.Gates != nil {
		s.deps.Gates.Cancel(id)
		s.deps.Gates.Release(id)
	}
	if doc.StoredBlobPath != "" {
		_ = s.deps.Objects.Delete(ctx, doc.StoredBlobPath)
	}
	for _, c := range chunks {
		for _, img := range c.Images {
			if img.BlobPath != "" {
				_ = s.deps.Objects.Delete(ctx, img.BlobPath)
			}
		}
		for _, tbl := range c.Tables {
			if tbl.BlobPath != "" {
				_ = s.deps.Objects.Delete(ctx, tbl.BlobPath)
			}
		}
	}
	return s.deps.Chunks.DeleteDocument(ctx, id)
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	s.streamDocument(w, r, r.PathValue("id"))
}

func (s *Server) handleDownloadDocumentQuery(w http.ResponseWriter, r *http.Request) {
	s.streamDocument(w, r, r.URL.Query().Get("id"))
}

func (s *Server) streamDocument(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	doc, ok, err := s.deps.Chunks.GetDocument(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("document not found"))
		return
	}
	if doc.Status != chunkstore.DocumentReady && doc.StoredBlobPath == "" {
		respondError(w, http.StatusServiceUnavailable, errors.New("document is not ready yet"))
		return
	}
	rc, attrs, err := s.deps.Objects.Get(ctx, doc.StoredBlobPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer rc.Close()
	contentType := attrs.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = io.Copy(w, rc)
}

func looksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "0"
	}
	return hex.EncodeToString(b)
}

// sanitizeFilename strips path separators and control characters so a
// hostile upload cannot influence the resulting blob key's path shape.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == '\x00':
			b.WriteByte('_')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		out = "upload.pdf"
	}
	return out
}
