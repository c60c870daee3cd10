// Package websocket pushes propagation events to browser and mobile
// clients. Clients pick the topics they care about after connecting:
//
//	{"action": "subscribe", "topics": ["listings:*", "bids:<listing-id>"]}
//
// Delivery is best-effort; a client whose buffer stays full is dropped
// and expected to reconnect and re-read current state over HTTP.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/propagation"
)

// Manager handles WebSocket connections and routes events to subscribed
// topics. It implements propagation.Transport.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	closed      bool
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan propagation.Event
	LastActivity time.Time
	topics       map[string]struct{}
	mu           sync.Mutex
}

// clientMessage is what clients send over the socket.
type clientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checks are enforced by the gateway in front of us.
				return true
			},
		},
	}
}

// HandleConnection upgrades an HTTP request and starts the read and write
// pumps for the new client.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	connection := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan propagation.Event, 256),
		LastActivity: time.Now(),
		topics:       make(map[string]struct{}),
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	m.logger.Info("websocket client connected",
		zap.String("connection_id", connection.ID),
		zap.String("user_id", userID))

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// Publish fans ev out to every connection subscribed to its topic. It
// never blocks; implements propagation.Transport.
func (m *Manager) Publish(_ context.Context, ev propagation.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.connections {
		if !conn.subscribed(ev.Topic) {
			continue
		}
		select {
		case conn.Send <- ev:
		default:
			m.logger.Warn("websocket client buffer full, skipping event",
				zap.String("connection_id", conn.ID),
				zap.String("topic", ev.Topic))
		}
	}
	return nil
}

// Healthy reports whether the manager is accepting connections.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// readPump consumes subscribe/unsubscribe messages from the client.
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.remove(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg clientMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket read failed", zap.Error(err))
			}
			break
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				conn.topics[topic] = struct{}{}
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(conn.topics, topic)
			}
		}
		conn.mu.Unlock()
	}
}

// writePump pushes events and keepalive pings to the client.
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (conn *Connection) subscribed(topic string) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	_, ok := conn.topics[topic]
	return ok
}

func (m *Manager) remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[conn.ID]; ok {
		delete(m.connections, conn.ID)
		close(conn.Send)
		m.logger.Info("websocket client disconnected",
			zap.String("connection_id", conn.ID))
	}
}

// ConnectionCount returns the number of active connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// SweepStale closes connections that have sent nothing for maxIdle. Run
// periodically from a scheduler.
func (m *Manager) SweepStale(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.RLock()
	var stale []*Connection
	for _, conn := range m.connections {
		conn.mu.Lock()
		if conn.LastActivity.Before(cutoff) {
			stale = append(stale, conn)
		}
		conn.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, conn := range stale {
		conn.Conn.Close()
	}
	return len(stale)
}

// Close closes the manager and all connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, conn := range m.connections {
		conn.Conn.Close()
		close(conn.Send)
		delete(m.connections, id)
	}
	return nil
}
