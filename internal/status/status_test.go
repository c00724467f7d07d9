package status_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"paperrag/internal/chunkstore"
	"paperrag/internal/status"
)

func TestAggregatorDebouncesAndComposesSnapshot(t *testing.T) {
	ctx := context.Background()
	chunks := chunkstore.NewMemoryStore()
	doc, err := chunks.CreateDocument(ctx, chunkstore.Document{
		OwnerID:         "u",
		EmbeddingStatus: chunkstore.FeatureRunning,
	})
	require.NoError(t, err)

	bcast := status.NewBroadcaster()
	agg := status.NewAggregator(chunks, bcast)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		bcast.Connect(conn, doc.ID)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	// Multiple rapid publishes within the debounce window must collapse
	// into a single snapshot reflecting the *latest* document state.
	agg.Publish(doc.ID)
	doc.EmbeddingStatus = chunkstore.FeatureCompleted
	require.NoError(t, chunks.UpdateDocument(ctx, doc))
	agg.Publish(doc.ID)

	require.Eventually(t, func() bool {
		return bcast.ConnectionCount(doc.ID) == 1
	}, time.Second, 10*time.Millisecond)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"embedding_status":"completed"`)
}

func TestBroadcasterDropsFailedConnections(t *testing.T) {
	bcast := status.NewBroadcaster()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		bcast.Connect(conn, "doc-1")
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bcast.ConnectionCount("doc-1") == 1 }, time.Second, 10*time.Millisecond)

	client.Close()
	bcast.SendStatus("doc-1", status.Snapshot{DocumentID: "doc-1"})

	require.Eventually(t, func() bool { return bcast.ConnectionCount("doc-1") == 0 }, time.Second, 10*time.Millisecond)
}
