// Package httpapi is a thin external-wiring shim: it exposes the
// ingestion and chat operations built in the other internal packages as
// HTTP endpoints, using the standard library's method+pattern routing.
// Handlers marshal parameters and call into the service packages; they
// hold no business logic of their own.
package httpapi

import (
	"net/http"

	"paperrag/internal/answer"
	"paperrag/internal/cancelgate"
	"paperrag/internal/chatstore"
	"paperrag/internal/chunkstore"
	"paperrag/internal/ingestqueue"
	"paperrag/internal/objectstore"
	"paperrag/internal/status"
)

// Deps bundles the collaborators the HTTP layer dispatches into.
type Deps struct {
	Objects     objectstore.ObjectStore
	Chunks      chunkstore.Store
	Chat        chatstore.ChatStore
	Queue       *ingestqueue.Queue
	Gates       *cancelgate.Registry
	Broadcaster *status.Broadcaster
	Answer      *answer.Orchestrator
	MaxUploadMB int
}

// Server exposes the paperd HTTP API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer wires a Server to its dependencies and registers routes.
func NewServer(deps Deps) *Server {
	if deps.MaxUploadMB <= 0 {
		deps.MaxUploadMB = 100
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /documents", s.handleUploadDocument)
	s.mux.HandleFunc("POST /documents/delete", s.handleDeleteDocuments)
	s.mux.HandleFunc("GET /documents/{id}/file", s.handleDownloadDocument)
	s.mux.HandleFunc("GET /documents/download", s.handleDownloadDocumentQuery)
	s.mux.HandleFunc("POST /documents/{id}/references", s.handleParseReferences)

	s.mux.HandleFunc("GET /qa/status", s.handleLegacyStatus)
	s.mux.HandleFunc("GET /ws/status/{document_id}", s.handleStatusWS)

	s.mux.HandleFunc("POST /chat/sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /chat/ask", s.handleAsk)
	s.mux.HandleFunc("POST /chat/ask-with-upload", s.handleAskWithUpload)
}
