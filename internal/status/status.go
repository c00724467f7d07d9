// Package status implements the debounced task status aggregator and the
// WebSocket status broadcaster that together notify clients of document
// ingestion progress and chat answer readiness.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paperrag/internal/chunkstore"
)

// Snapshot is the unified per-document status payload sent over the
// WebSocket.
type Snapshot struct {
	DocumentID        string                    `json:"document_id"`
	EmbeddingStatus   chunkstore.FeatureStatus  `json:"embedding_status"`
	SummaryStatus     chunkstore.FeatureStatus  `json:"summary_status"`
	ReferenceStatus   chunkstore.FeatureStatus  `json:"reference_status"`
	SkimmingStatus    chunkstore.FeatureStatus  `json:"skimming_status"`
	AvailableFeatures []string                  `json:"available_features"`
	AllReady          bool                      `json:"all_ready"`
}

// ChatEvent is published on answer_ready, once a chat answer has been
// generated and persisted.
type ChatEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
}

const debounceInterval = 500 * time.Millisecond

// Aggregator debounces notify_task_status calls per document id, then
// reads authoritative per-feature status from chunkstore and hands a
// composed Snapshot to the Broadcaster.
type Aggregator struct {
	chunks chunkstore.Store
	bcast  *Broadcaster

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewAggregator wires an Aggregator to its chunk store and broadcaster.
func NewAggregator(chunks chunkstore.Store, bcast *Broadcaster) *Aggregator {
	return &Aggregator{
		chunks:  chunks,
		bcast:   bcast,
		pending: make(map[string]*time.Timer),
	}
}

// Publish implements ingestqueue.StatusPublisher: it debounces by
// document id, waiting debounceInterval before composing and sending the
// snapshot, so that stores the triggering task just wrote to have
// settled.
func (a *Aggregator) Publish(documentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.pending[documentID]; ok {
		t.Stop()
	}
	a.pending[documentID] = time.AfterFunc(debounceInterval, func() {
		a.mu.Lock()
		delete(a.pending, documentID)
		a.mu.Unlock()
		a.emit(documentID)
	})
}

func (a *Aggregator) emit(documentID string) {
	doc, ok, err := a.chunks.GetDocument(context.Background(), documentID)
	if err != nil || !ok {
		return
	}
	snap := Compose(doc)
	a.bcast.SendStatus(documentID, snap)
}

// Compose derives a Snapshot from a Document's current feature states.
// Exported so the HTTP layer can build the same payload for its polling
// fallback and initial WebSocket frame without re-deriving the rules.
func Compose(doc chunkstore.Document) Snapshot {
	available := make([]string, 0, 4)
	add := func(name string, s chunkstore.FeatureStatus) {
		if s == chunkstore.FeatureCompleted {
			available = append(available, name)
		}
	}
	add("embedding", doc.EmbeddingStatus)
	add("summary", doc.SummaryStatus)
	add("reference", doc.ReferenceStatus)
	add("skimming", doc.SkimmingStatus)

	allReady := doc.EmbeddingStatus == chunkstore.FeatureCompleted &&
		doc.SummaryStatus != chunkstore.FeatureRunning && doc.SummaryStatus != chunkstore.FeaturePending &&
		doc.ReferenceStatus != chunkstore.FeatureRunning && doc.ReferenceStatus != chunkstore.FeaturePending &&
		doc.SkimmingStatus != chunkstore.FeatureRunning && doc.SkimmingStatus != chunkstore.FeaturePending

	return Snapshot{
		DocumentID:        doc.ID,
		EmbeddingStatus:   doc.EmbeddingStatus,
		SummaryStatus:     doc.SummaryStatus,
		ReferenceStatus:   doc.ReferenceStatus,
		SkimmingStatus:    doc.SkimmingStatus,
		AvailableFeatures: available,
		AllReady:          allReady,
	}
}

// Broadcaster maintains document_id -> set<connection> and fans out
// status snapshots and chat events to every connection registered for a
// document.
type Broadcaster struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Connect registers conn under documentID.
func (b *Broadcaster) Connect(conn *websocket.Conn, documentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.conns[documentID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		b.conns[documentID] = set
	}
	set[conn] = struct{}{}
}

// Disconnect removes conn from every document it was registered under.
func (b *Broadcaster) Disconnect(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for docID, set := range b.conns {
		if _, ok := set[conn]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(b.conns, docID)
			}
		}
	}
}

// SendStatus serializes snap to JSON and writes it to every connection
// registered for documentID. Writes are made outside the lock, against a
// copy of the connection set.
// Connections whose write fails are dropped.
func (b *Broadcaster) SendStatus(documentID string, snap Snapshot) {
	b.broadcast(documentID, snap)
}

// SendChatEvent publishes the answer_ready chat event to documentID's
// connections.
func (b *Broadcaster) SendChatEvent(documentID string, evt ChatEvent) {
	evt.Type = "chat"
	b.broadcast(documentID, evt)
}

func (b *Broadcaster) broadcast(documentID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	b.mu.Lock()
	set := b.conns[documentID]
	conns := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	var failed []*websocket.Conn
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range failed {
		if set, ok := b.conns[documentID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(b.conns, documentID)
			}
		}
	}
}

// ConnectionCount reports how many connections are registered for
// documentID; used by tests and diagnostics.
func (b *Broadcaster) ConnectionCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns[documentID])
}
