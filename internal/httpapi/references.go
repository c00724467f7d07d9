package httpapi

import (
	"errors"
	"io"
	"net/http"

	"paperrag/internal/chunkstore"
	"paperrag/internal/references"
	"paperrag/internal/status"
)

// handleParseReferences extracts structured bibliography entries (title,
// authors, year, DOI/arXiv id, resolved link) from the raw text of a
// document's references section, posted as the request body, and records
// the outcome on the document's ReferenceStatus.
func (s *Server) handleParseReferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	doc, ok, err := s.deps.Chunks.GetDocument(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("document not found"))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	doc.ReferenceStatus = chunkstore.FeatureRunning
	_ = s.deps.Chunks.UpdateDocument(ctx, doc)

	parsed := references.Resolve(string(raw))

	doc.ReferenceStatus = chunkstore.FeatureCompleted
	if err := s.deps.Chunks.UpdateDocument(ctx, doc); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.SendStatus(id, status.Compose(doc))
	}

	respondJSON(w, http.StatusOK, map[string]any{"documentId": id, "references": parsed})
}
