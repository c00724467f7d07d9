// Package chatstore persists chat sessions and messages for the Q&A
// surface in front of answer generation. It provides a Postgres
// backend (via pgx) for production and an in-memory backend for tests
// and single-node deployments without a database.
package chatstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message lookup misses.
var ErrNotFound = errors.New("chatstore: not found")

// ErrForbidden is returned when a caller attempts to access a session
// owned by a different user.
var ErrForbidden = errors.New("chatstore: forbidden")

// ChatSession is one conversation thread, bound to exactly one document,
// optionally scoped to a user.
type ChatSession struct {
	ID                 string
	Name               string
	UserID             *int64
	DocumentID         string
	DocumentKey        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
	Model              string
	Summary            string
	SummarizedCount    int
}

// Citation is one `[cN]`-style reference attached to an assistant
// message: which chunk it points at, and the excerpt/summary shown to
// the user for it (see internal/answer for how these are produced).
type Citation struct {
	Number   int
	Label    string
	DocID    string
	Section  string
	Page     int
	Excerpt  string
	Summary  string
}

// ChatMessage is one turn within a ChatSession.
type ChatMessage struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	CreatedAt  time.Time
	Citations  []Citation
	Confidence float64
	ImagePaths []string
}

// ChatStore is the persistence surface the HTTP layer uses to manage
// chat history. Sessions are optionally owned by a user ID; when
// userID is nil, ownership checks are skipped (single-tenant mode).
type ChatStore interface {
	Init(ctx context.Context) error
	Close()

	EnsureSession(ctx context.Context, userID *int64, id, name, documentID string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name, documentID string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error

	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error

	// UpdateSummary records a rolling summary of the oldest summarizedCount
	// messages in the session, used to keep long-running chats within the
	// LLM context window without re-sending full history.
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error
}
