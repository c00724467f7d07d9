// Package cancelgate implements the single per-document cancellation flag
// that ingestion and enrichment tasks poll at coarse step boundaries.
package cancelgate

import "sync"

// cancelledError is the error returned by any step that observes its gate set.
type cancelledError struct{}

func (cancelledError) Error() string { return "cancelgate: cancelled" }

// ErrCancelled is the sentinel a caller should check with errors.Is.
var ErrCancelled error = cancelledError{}

// Gate is one atomic "stop working on this document" flag. Rather than a
// single process-wide boolean, each in-flight document gets its own Gate
// so cancelling one document's ingestion never stalls another's in the
// same process.
type Gate struct {
	mu        sync.Mutex
	cancelled bool
}

// New returns a fresh, uncancelled gate.
func New() *Gate {
	return &Gate{}
}

// Cancel sets the flag. Idempotent.
func (g *Gate) Cancel() {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (g *Gate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// Reset clears the flag. Callers must only reset a gate after the
// document's output directory has actually been emptied.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.cancelled = false
	g.mu.Unlock()
}

// Checkpoint returns ErrCancelled if the gate has been set. Call this at
// every coarse step boundary: between batches, between asset copies,
// between pages.
func (g *Gate) Checkpoint() error {
	if g.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Registry hands out and tracks one Gate per document id, so a "clear
// output"/"delete document" action can cancel the right in-flight job
// without the caller needing to thread a *Gate through unrelated code.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Gate returns the Gate for documentID, creating one on first use.
func (r *Registry) Gate(documentID string) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[documentID]
	if !ok {
		g = New()
		r.gates[documentID] = g
	}
	return g
}

// Cancel cancels the gate for documentID, if one has been created.
// It is a no-op for a document with no in-flight job.
func (r *Registry) Cancel(documentID string) {
	r.mu.Lock()
	g, ok := r.gates[documentID]
	r.mu.Unlock()
	if ok {
		g.Cancel()
	}
}

// Release drops the gate for documentID, e.g. once its job has finished
// and "clear output" has emptied the data directory.
func (r *Registry) Release(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gates, documentID)
}
