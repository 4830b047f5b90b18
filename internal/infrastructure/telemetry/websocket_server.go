package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gridtune/internal/core/domain"
	"gridtune/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ControllerFeed is the slice of the controller the feed server needs.
type ControllerFeed interface {
	Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error
	ReportOutcome(streamID domain.StreamID, success bool, details string) error
	LastBatch() *domain.BatchRecommendation
}

// WebSocketServer accepts one connection per presentation client. Clients
// push telemetry frames and switch outcomes upward; recommendation
// bundles are fanned out downward after each evaluation cycle.
type WebSocketServer struct {
	controller ControllerFeed

	connections map[string]*websocket.Conn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type FeedMessage struct {
	Type     string          `json:"type"`
	StreamID domain.StreamID `json:"stream_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type TelemetryPayload struct {
	BitrateKbps    int     `json:"bitrate_kbps"`
	FPS            float64 `json:"fps"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	PacketLossPct  float64 `json:"packet_loss_pct"`
	JitterMs       float64 `json:"jitter_ms"`
	FramesReceived int64   `json:"frames_received"`
	FramesDropped  int64   `json:"frames_dropped"`
}

type OutcomePayload struct {
	Success bool   `json:"success"`
	Details string `json:"details,omitempty"`
}

func NewWebSocketServer(controller ControllerFeed, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		controller:   controller,
		connections:  make(map[string]*websocket.Conn),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		s.logger.Warn("missing client_id in query parameters")
		return
	}

	// A reconnecting client replaces its previous connection
	s.mu.Lock()
	existingConn, isReconnect := s.connections[clientID]
	if isReconnect && existingConn != nil {
		existingConn.Close()
		s.logger.Infow("closing old connection for reconnecting client", "client_id", clientID)
	}
	s.connections[clientID] = conn
	s.mu.Unlock()

	s.logger.Infow("client connected to telemetry feed", "client_id", clientID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan FeedMessage, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg FeedMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(clientID, msg); err != nil {
				s.logger.Infow("error handling feed message", "client_id", clientID, "error", err)
				s.sendError(conn, err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "client_id", clientID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading feed message", "client_id", clientID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.connections, clientID)
	s.mu.Unlock()

	s.logger.Infow("client disconnected from telemetry feed", "client_id", clientID)
}

func (s *WebSocketServer) handleMessage(clientID string, msg FeedMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if err := validation.ValidateStreamID(string(msg.StreamID)); err != nil {
		return fmt.Errorf("invalid stream_id: %w", err)
	}

	switch msg.Type {
	case "telemetry":
		return s.handleTelemetry(msg)
	case "outcome":
		return s.handleOutcome(msg)
	case "latest_batch":
		return s.handleLatestBatch(clientID)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleTelemetry(msg FeedMessage) error {
	var payload TelemetryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid telemetry payload: %w", err)
	}

	if err := validation.ValidateTelemetryFrame(payload.BitrateKbps, payload.FPS, payload.PacketLossPct, payload.JitterMs); err != nil {
		return fmt.Errorf("invalid telemetry frame: %w", err)
	}

	sample := domain.StreamTelemetry{
		StreamID:       msg.StreamID,
		Timestamp:      time.Now(),
		BitrateKbps:    payload.BitrateKbps,
		FPS:            payload.FPS,
		Resolution:     domain.Resolution{Width: payload.Width, Height: payload.Height},
		PacketLossPct:  payload.PacketLossPct,
		JitterMs:       payload.JitterMs,
		FramesReceived: payload.FramesReceived,
		FramesDropped:  payload.FramesDropped,
	}

	return s.controller.Ingest(msg.StreamID, sample)
}

func (s *WebSocketServer) handleOutcome(msg FeedMessage) error {
	var payload OutcomePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid outcome payload: %w", err)
	}

	return s.controller.ReportOutcome(msg.StreamID, payload.Success, payload.Details)
}

func (s *WebSocketServer) handleLatestBatch(clientID string) error {
	batch := s.controller.LastBatch()
	if batch == nil {
		return fmt.Errorf("no batch synthesized yet")
	}

	return s.sendToClient(clientID, map[string]interface{}{
		"type":    "batch",
		"payload": batch,
	})
}

// BroadcastBatch pushes a freshly synthesized bundle to every connected
// client. Wire it to the controller with SubscribeBatch.
func (s *WebSocketServer) BroadcastBatch(batch *domain.BatchRecommendation) {
	message := map[string]interface{}{
		"type":    "batch",
		"payload": batch,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for clientID, conn := range s.connections {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteJSON(message); err != nil {
			s.logger.Infow("failed to push batch to client", "client_id", clientID, "error", err)
		}
	}
}

// BroadcastStrategyChange notifies clients of a strategy transition.
func (s *WebSocketServer) BroadcastStrategyChange(change domain.StrategyChange) {
	message := map[string]interface{}{
		"type":    "strategy_change",
		"payload": change,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for clientID, conn := range s.connections {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteJSON(message); err != nil {
			s.logger.Infow("failed to push strategy change to client", "client_id", clientID, "error", err)
		}
	}
}

func (s *WebSocketServer) sendToClient(clientID string, data interface{}) error {
	s.mu.RLock()
	conn, exists := s.connections[clientID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("client %s not connected", clientID)
	}

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(data)
}

func (s *WebSocketServer) sendError(conn *websocket.Conn, message string) {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	conn.WriteJSON(errorMsg)
}

func (s *WebSocketServer) ConnectedClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.connections)
}
