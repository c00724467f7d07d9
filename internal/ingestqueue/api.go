// Package ingestqueue implements a single-consumer FIFO that takes
// uploaded PDF bytes through parse -> chunk -> embed -> index, with a
// per-path lock to de-duplicate concurrent uploads of the same file and
// cancellation checkpoints tied to internal/cancelgate.
package ingestqueue

import (
	"context"
	"errors"
	"fmt"

	"paperrag/internal/cancelgate"
	"paperrag/internal/chunker"
	"paperrag/internal/chunkstore"
	"paperrag/internal/embedder"
	"paperrag/internal/keywordindex"
	"paperrag/internal/objectstore"
	"paperrag/internal/vectorindex"
)

// ErrCancelled is returned (wrapped) when a job's cancellation gate was
// set mid-processing.
var ErrCancelled = errors.New("ingestqueue: cancelled")

// Job is one enqueued unit of work: ingest the PDF bytes for documentID.
type Job struct {
	DocumentID string
	OwnerID    string
	Filename   string
	Bytes      []byte
}

// StatusPublisher is the narrow surface ingestqueue needs from the status package to
// announce a document's status changed. Satisfied by *status.Aggregator.
type StatusPublisher interface {
	Publish(documentID string)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string) {}

// Deps bundles the collaborators a Queue needs to run a job end to end.
type Deps struct {
	Objects   objectstore.ObjectStore
	Chunks    chunkstore.Store
	Vectors   vectorindex.Index
	Keywords  keywordindex.Index
	Embed     embedder.Embedder
	Chunk     *chunker.Chunker
	Gates     *cancelgate.Registry
	Publisher StatusPublisher
}

// Queue is a bounded, buffered-channel FIFO with exactly one consumer
// goroutine. Multiple producers may enqueue concurrently; jobs run
// strictly one at a time.
type Queue struct {
	jobs  chan Job
	deps  Deps
	locks *pathLocks
}

// NewQueue constructs a Queue with the given buffer capacity. capacity<=0
// defaults to 64.
func NewQueue(deps Deps, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	if deps.Gates == nil {
		deps.Gates = cancelgate.NewRegistry()
	}
	return &Queue{
		jobs:  make(chan Job, capacity),
		deps:  deps,
		locks: newPathLocks(),
	}
}

// Enqueue appends a job to the FIFO. It blocks only if the queue buffer
// is full, providing natural backpressure to upload handlers.
func (q *Queue) Enqueue(job Job) {
	q.jobs <- job
}

// Run drives the single consumer loop until ctx is cancelled or Close is
// called. It is meant to be run in its own goroutine by cmd/paperd.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.runOne(ctx, job)
		}
	}
}

// Close stops accepting new jobs. Safe to call once processing has quiesced.
func (q *Queue) Close() { close(q.jobs) }

func (q *Queue) runOne(ctx context.Context, job Job) {
	release, ok := q.locks.acquire(job.Filename)
	if !ok {
		// Another request is already parsing this exact filename; the
		// second writer skips rather than duplicating work.
		return
	}
	defer release()

	gate := q.deps.Gates.Gate(job.DocumentID)
	if err := processJob(ctx, q.deps, gate, job); err != nil {
		markFailed(ctx, q.deps, job.DocumentID, err)
	}
	q.deps.Publisher.Publish(job.DocumentID)
}

func markFailed(ctx context.Context, deps Deps, documentID string, cause error) {
	doc, ok, err := deps.Chunks.GetDocument(ctx, documentID)
	if err != nil || !ok {
		return
	}
	doc.Status = chunkstore.DocumentError
	doc.EmbeddingStatus = chunkstore.FeatureFailed
	doc.ErrorMessage = cause.Error()
	_ = deps.Chunks.UpdateDocument(ctx, doc)
}

func wrapCancelled(step string) error {
	return fmt.Errorf("ingestqueue: %s: %w", step, ErrCancelled)
}
