package cancelgate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"paperrag/internal/cancelgate"
)

func TestGateCheckpoint(t *testing.T) {
	g := cancelgate.New()
	require.NoError(t, g.Checkpoint())

	g.Cancel()
	require.True(t, g.Cancelled())
	require.True(t, errors.Is(g.Checkpoint(), cancelgate.ErrCancelled))

	g.Reset()
	require.False(t, g.Cancelled())
	require.NoError(t, g.Checkpoint())
}

func TestRegistryIsolatesDocuments(t *testing.T) {
	r := cancelgate.NewRegistry()
	a := r.Gate("doc-a")
	b := r.Gate("doc-b")

	r.Cancel("doc-a")
	require.True(t, a.Cancelled())
	require.False(t, b.Cancelled())

	// Fetching the same document id again returns the same gate.
	require.Same(t, a, r.Gate("doc-a"))

	r.Release("doc-a")
	// After release, a fresh gate is handed out for the same id.
	require.NotSame(t, a, r.Gate("doc-a"))
}

func TestRegistryCancelUnknownDocumentIsNoop(t *testing.T) {
	r := cancelgate.NewRegistry()
	r.Cancel("never-enqueued")
}
