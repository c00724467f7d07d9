package ingestqueue

import (
	"context"
	"fmt"

	"paperrag/internal/chunkstore"
)

// ResolveDocument implements idempotent re-ingestion by content hash: if
// ownerID already has a document with this exact content hash, it is
// reused (its existing chunks/vectors/markdown are left alone unless the
// caller re-enqueues it) rather than creating a duplicate. Otherwise a
// new Document row is created in chunkstore.
func ResolveDocument(ctx context.Context, store chunkstore.Store, ownerID, filename, contentHash string) (doc chunkstore.Document, reused bool, err error) {
	if existing, ok, err := store.FindDocumentByContentHash(ctx, ownerID, contentHash); err != nil {
		return chunkstore.Document{}, false, fmt.Errorf("lookup by content hash: %w", err)
	} else if ok {
		return existing, true, nil
	}

	created, err := store.CreateDocument(ctx, chunkstore.Document{
		OwnerID:     ownerID,
		Filename:    filename,
		ContentHash: contentHash,
		Status:      chunkstore.DocumentUploading,
	})
	if err != nil {
		return chunkstore.Document{}, false, fmt.Errorf("create document: %w", err)
	}
	return created, false, nil
}
