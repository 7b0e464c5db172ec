// Package notify delivers best-effort "new work nearby" pings to provider
// apps. Missing a ping is harmless since providers poll for candidates
// anyway.
package notify

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-dispatch/internal/models"
)

// WSSession represents a connected provider app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live provider sessions and implements the coordinator's
// Notifier over them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(providerID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[providerID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, providerID)
}

func (r *WSRegistry) RequestCreated(providerID string, req models.ServiceRequest) error {
	r.mu.RLock()
	s, ok := r.sessions[providerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(map[string]any{"event": "request_created", "request": req})
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
