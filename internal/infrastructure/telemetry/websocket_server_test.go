package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridtune/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFeed struct {
	ingested chan domain.StreamTelemetry
	outcomes chan bool
	batch    *domain.BatchRecommendation
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		ingested: make(chan domain.StreamTelemetry, 4),
		outcomes: make(chan bool, 4),
	}
}

func (f *fakeFeed) Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error {
	f.ingested <- sample
	return nil
}

func (f *fakeFeed) ReportOutcome(streamID domain.StreamID, success bool, details string) error {
	f.outcomes <- success
	return nil
}

func (f *fakeFeed) LastBatch() *domain.BatchRecommendation {
	return f.batch
}

func dialFeed(t *testing.T, server *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeedIngestsTelemetry(t *testing.T) {
	feed := newFakeFeed()
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	conn := dialFeed(t, server, "viewer-1")

	payload, _ := json.Marshal(TelemetryPayload{
		BitrateKbps:   1200,
		FPS:           30,
		Width:         854,
		Height:        480,
		PacketLossPct: 0.4,
		JitterMs:      15,
	})
	require.NoError(t, conn.WriteJSON(FeedMessage{Type: "telemetry", StreamID: "camera-1", Payload: payload}))

	select {
	case sample := <-feed.ingested:
		assert.Equal(t, domain.StreamID("camera-1"), sample.StreamID)
		assert.Equal(t, 1200, sample.BitrateKbps)
		assert.Equal(t, domain.Resolution{Width: 854, Height: 480}, sample.Resolution)
		assert.False(t, sample.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry frame never reached the controller")
	}
}

func TestFeedReportsOutcome(t *testing.T) {
	feed := newFakeFeed()
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	conn := dialFeed(t, server, "viewer-1")

	payload, _ := json.Marshal(OutcomePayload{Success: true, Details: "applied"})
	require.NoError(t, conn.WriteJSON(FeedMessage{Type: "outcome", StreamID: "camera-1", Payload: payload}))

	select {
	case success := <-feed.outcomes:
		assert.True(t, success)
	case <-time.After(2 * time.Second):
		t.Fatal("outcome never reached the controller")
	}
}

func TestFeedRejectsMalformedMessages(t *testing.T) {
	feed := newFakeFeed()
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	conn := dialFeed(t, server, "viewer-1")

	// Missing stream_id gets an error frame back.
	require.NoError(t, conn.WriteJSON(FeedMessage{Type: "telemetry"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}

func TestFeedServesLatestBatch(t *testing.T) {
	feed := newFakeFeed()
	feed.batch = &domain.BatchRecommendation{Layout: domain.LayoutGrid4, TotalStreams: 2}
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	conn := dialFeed(t, server, "viewer-1")

	require.NoError(t, conn.WriteJSON(FeedMessage{Type: "latest_batch", StreamID: "camera-1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply struct {
		Type    string                     `json:"type"`
		Payload domain.BatchRecommendation `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "batch", reply.Type)
	assert.Equal(t, domain.LayoutGrid4, reply.Payload.Layout)
}

func TestFeedBroadcastBatch(t *testing.T) {
	feed := newFakeFeed()
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	conn := dialFeed(t, server, "viewer-1")

	// Wait for the connection to register before broadcasting.
	require.Eventually(t, func() bool { return ws.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.BroadcastBatch(&domain.BatchRecommendation{Layout: domain.LayoutSingle, TotalStreams: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply struct {
		Type    string                     `json:"type"`
		Payload domain.BatchRecommendation `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "batch", reply.Type)
	assert.Equal(t, 1, reply.Payload.TotalStreams)
}

func TestFeedRequiresClientID(t *testing.T) {
	feed := newFakeFeed()
	ws := NewWebSocketServer(feed, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "the upgrade itself succeeds")
	defer conn.Close()

	// The server closes the connection immediately; the next read fails.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, ws.ConnectedClients())
}
