package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLegacyStatus answers the pre-WebSocket polling endpoint clients
// fall back to when they can't hold a socket open: it returns the same
// Snapshot shape a WS push would have delivered.
func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		respondError(w, http.StatusBadRequest, errMissingDocumentID)
		return
	}
	doc, ok, err := s.deps.Chunks.GetDocument(r.Context(), documentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, errDocumentNotFound)
		return
	}
	respondJSON(w, http.StatusOK, documentStatusPayload(doc))
}

// handleStatusWS upgrades the connection and registers it with the
// broadcaster so ingestion-progress and chat-ready events for
// document_id are pushed as they happen. The handler blocks reading
// (and discarding) client frames only to detect disconnects; all
// traffic of interest flows server->client.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	if documentID == "" {
		respondError(w, http.StatusBadRequest, errMissingDocumentID)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.deps.Broadcaster.Connect(conn, documentID)
	defer s.deps.Broadcaster.Disconnect(conn)

	if doc, ok, err := s.deps.Chunks.GetDocument(r.Context(), documentID); err == nil && ok {
		_ = conn.WriteJSON(documentStatusPayload(doc))
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
