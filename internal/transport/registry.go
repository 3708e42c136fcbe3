// Package transport provides the WebSocket message channel between
// executing work and the user.
package transport

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the active WebSocket connection per session.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates a new connection registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a session, or nil.
func (m *Registry) GetActive(sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Register adds a new WebSocket connection for a session, displacing any
// previous one.
func (m *Registry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[sessionID] = conn
	slog.Info("Message channel registered", "session_id", sessionID)
}

// Unregister removes a WebSocket connection for a session.
func (m *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[sessionID]; exists && current == conn {
		delete(m.active, sessionID)
		slog.Info("Message channel unregistered", "session_id", sessionID)
	}
}

// CloseSession forcefully terminates the active connection for a session.
func (m *Registry) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.active[sessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	delete(m.active, sessionID)
	slog.Info("Message channel closed", "session_id", sessionID)
}
