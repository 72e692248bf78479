package ingest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/internal/infrastructure/monitoring"
	"tipwire/pkg/utils"
	"tipwire/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // relay connects from the local network; tighten if exposed
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// EventFrame is one inbound frame from a platform relay connection.
type EventFrame struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
}

// AckFrame reports the dispatch outcome for an accepted event.
type AckFrame struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Status  string        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// WebSocketServer accepts platform relay connections and feeds their events
// to the dispatcher. Multiple relays may connect; each event is acked on its
// own connection with the terminal outcome.
type WebSocketServer struct {
	dispatcher ports.Dispatcher
	metrics    *monitoring.PrometheusCollector
	logger     *zap.SugaredLogger

	connections map[string]*relayConn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type relayConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketServer(dispatcher ports.Dispatcher, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		dispatcher:   dispatcher,
		metrics:      metrics,
		logger:       logger,
		connections:  make(map[string]*relayConn),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// SetPingInterval overrides the keepalive interval.
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

	relayID := r.URL.Query().Get("relay_id")
	if relayID == "" {
		relayID = utils.GenerateRequestID()
	}

	rc := &relayConn{conn: conn}
	s.mu.Lock()
	if existing, reconnect := s.connections[relayID]; reconnect && existing != nil {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting relay", "relay_id", relayID)
	}
	s.connections[relayID] = rc
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.connections[relayID] == rc {
			delete(s.connections, relayID)
		}
		s.mu.Unlock()
	}()

	s.logger.Infow("relay connected", "relay_id", relayID, "remote_addr", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	frames := make(chan EventFrame, 16)
	errors := make(chan error, 1)

	go func() {
		for {
			var frame EventFrame
			if err := conn.ReadJSON(&frame); err != nil {
				errors <- err
				return
			}
			frames <- frame
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errors:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("relay connection error", "relay_id", relayID, "error", err)
			}
			return
		case <-pingTicker.C:
			rc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			rc.writeMu.Unlock()
			if err != nil {
				s.logger.Warnw("ping failed", "relay_id", relayID, "error", err)
				return
			}
		case frame := <-frames:
			s.handleFrame(ctx, rc, relayID, frame)
		}
	}
}

func (s *WebSocketServer) handleFrame(ctx context.Context, rc *relayConn, relayID string, frame EventFrame) {
	switch frame.Type {
	case "event":
		s.handleEvent(ctx, rc, relayID, frame.Event)
	case "ping":
		s.writeAck(rc, AckFrame{Type: "pong"})
	default:
		s.writeAck(rc, AckFrame{Type: "error", Error: "unknown frame type " + frame.Type})
	}
}

func (s *WebSocketServer) handleEvent(ctx context.Context, rc *relayConn, relayID string, event *domain.Event) {
	if event == nil {
		s.writeAck(rc, AckFrame{Type: "error", Error: "event frame without event"})
		return
	}
	if err := s.validate(event); err != nil {
		s.logger.Warnw("invalid event dropped",
			"relay_id", relayID,
			"event_id", event.ID,
			"error", err,
		)
		s.writeAck(rc, AckFrame{Type: "error", EventID: event.ID, Error: err.Error()})
		return
	}
	if event.ID == "" {
		event.ID = utils.GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if s.metrics != nil {
		s.metrics.RecordEventIngested(event.Kind)
	}

	// Ack acceptance right away so one user's slow collaborator call never
	// stalls the relay's other events. The terminal outcome follows on its
	// own ack frame once the worker finishes.
	s.writeAck(rc, AckFrame{Type: "ack", EventID: event.ID, Status: "accepted"})

	s.dispatcher.HandleAsync(ctx, event, func(outcome domain.Outcome) {
		s.writeAck(rc, AckFrame{
			Type:    "ack",
			EventID: event.ID,
			Status:  string(outcome.Status),
			Reason:  outcome.Reason,
		})
	})
}

func (s *WebSocketServer) validate(event *domain.Event) error {
	if err := validation.ValidateEventID(event.ID); err != nil {
		return err
	}
	if err := validation.ValidateUserID(string(event.UserID)); err != nil {
		return err
	}
	if err := validation.ValidateTokens(event.Tokens); err != nil {
		return err
	}
	return validation.ValidateMessage(event.Message)
}

func (s *WebSocketServer) writeAck(rc *relayConn, ack AckFrame) {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := rc.conn.WriteJSON(ack); err != nil {
		s.logger.Warnw("ack write failed", "error", err)
	}
}

// ConnectionCount reports the number of live relay connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// CloseAll drops every relay connection, used during shutdown.
func (s *WebSocketServer) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rc := range s.connections {
		rc.conn.Close()
		delete(s.connections, id)
	}
}
