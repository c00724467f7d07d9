package httpapi

import (
	"errors"

	"paperrag/internal/chunkstore"
	"paperrag/internal/status"
)

var (
	errMissingDocumentID = errors.New("document_id is required")
	errDocumentNotFound  = errors.New("document not found")
)

func documentStatusPayload(doc chunkstore.Document) status.Snapshot {
	return status.Compose(doc)
}
