// Package chunkstore implements the durable Document and Chunk
// records that back ingestion status and retrieval joins. Mongo is the
// production backend; an in-memory backend serves tests and single-node
// deployments without a database.
package chunkstore

import (
	"context"
	"time"
)

// FeatureStatus is the lifecycle state of one enrichment feature
// (embedding, summary, reference, skimming) attached to a Document.
type FeatureStatus string

const (
	FeaturePending   FeatureStatus = "pending"
	FeatureRunning   FeatureStatus = "running"
	FeatureCompleted FeatureStatus = "completed"
	FeatureFailed    FeatureStatus = "failed"
	FeatureSkipped   FeatureStatus = "skipped"
)

// DocumentStatus is the overall ingestion lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentUploading DocumentStatus = "uploading"
	DocumentParsing   DocumentStatus = "parsing"
	DocumentChunking  DocumentStatus = "chunking"
	DocumentEmbedding DocumentStatus = "embedding"
	DocumentReady     DocumentStatus = "ready"
	DocumentError     DocumentStatus = "error"
)

// Document is one uploaded PDF plus its ingestion lifecycle state.
// StoredBlobPath becomes non-empty before Status advances beyond
// DocumentUploading, and is immutable once set.
type Document struct {
	ID             string
	OwnerID        string
	Filename       string
	StoredBlobPath string
	FileSize       int64
	ContentHash    string // sha256 of the PDF bytes; cache key and duplicate detector

	Status          DocumentStatus
	EmbeddingStatus FeatureStatus
	SummaryStatus   FeatureStatus
	ReferenceStatus FeatureStatus
	SkimmingStatus  FeatureStatus
	ErrorMessage    string

	PageCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ImageAsset describes a figure attached to a Chunk.
type ImageAsset struct {
	Caption    string
	FigureID   string
	BlobPath   string
	PreviewURL string
}

// TableAsset describes a table attached to a Chunk.
type TableAsset struct {
	Label      string
	BlobPath   string
	PreviewTxt string
}

// Chunk is one semantically coherent span of a document's prose.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Page       int
	Section    string
	Text       string
	Images     []ImageAsset
	Tables     []TableAsset
}

// Store is the contract for persistence of Document and Chunk records,
// keyed by document id and chunk id.
type Store interface {
	// CreateDocument inserts a new Document, generating its id.
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	// GetDocument fetches a Document by id.
	GetDocument(ctx context.Context, id string) (Document, bool, error)
	// FindDocumentByContentHash looks up an existing Document by the
	// sha256 of its PDF bytes, for idempotent re-ingestion.
	FindDocumentByContentHash(ctx context.Context, ownerID, hash string) (Document, bool, error)
	// FindDocumentByFilename looks up the most recently created Document
	// owned by ownerID with the given filename, used to bind a chat
	// session title like "Chat: transformer.pdf" back to its document.
	FindDocumentByFilename(ctx context.Context, ownerID, filename string) (Document, bool, error)
	// UpdateDocument persists the full current state of a Document.
	UpdateDocument(ctx context.Context, doc Document) error
	// DeleteDocument removes a Document and all its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// PutChunks inserts or replaces the full chunk set for a document
	// (ingestion always (re)writes the whole set as a batch).
	PutChunks(ctx context.Context, documentID string, chunks []Chunk) error
	// ListChunks returns a document's chunks in ordinal order.
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)
	// GetChunks fetches chunks by id, used to join retrieval hits back
	// to their full record.
	GetChunks(ctx context.Context, ids []string) ([]Chunk, error)
}

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "chunkstore: not found" }
