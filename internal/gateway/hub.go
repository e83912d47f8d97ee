// Package gateway serves viewer WebSocket sessions: the session registry
// and broadcast fan-out, the per-connection read/write pumps, and the JSON
// envelope protocol spoken to viewers.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Session is one connected viewer as the hub sees it.
type Session interface {
	ID() string
	// Send queues msg for delivery. An error means the session is dead.
	Send(msg []byte) error
}

// DeliveryError reports a failed send to one session. The session is
// pruned; the error is only logged.
type DeliveryError struct {
	SessionID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to session %s: %v", e.SessionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Hub tracks connected sessions and fans messages out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]Session

	log *slog.Logger

	// Optional metrics hooks
	OnPrune     func()
	OnDelivered func(n int)
	OnCount     func(count int)
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]Session),
		log:      log.With("component", "hub"),
	}
}

// Register adds s and returns the new session count.
func (h *Hub) Register(s Session) int {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.log.Info("viewer connected", "session", s.ID(), "total", n)
	h.countChanged(n)
	return n
}

// Unregister removes s. It reports whether s was registered.
func (h *Hub) Unregister(s Session) bool {
	h.mu.Lock()
	cur, ok := h.sessions[s.ID()]
	if ok && cur == s {
		delete(h.sessions, s.ID())
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return false
	}
	h.log.Info("viewer disconnected", "session", s.ID(), "total", n)
	h.countChanged(n)
	return true
}

// Broadcast sends msg to every session. Sessions whose send fails are
// removed after the pass. It returns the number of successful deliveries.
func (h *Hub) Broadcast(msg []byte) int {
	var failed []*DeliveryError
	delivered := 0

	h.mu.RLock()
	for id, s := range h.sessions {
		if err := s.Send(msg); err != nil {
			failed = append(failed, &DeliveryError{SessionID: id, Err: err})
			continue
		}
		delivered++
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.prune(failed)
	}
	if h.OnDelivered != nil {
		h.OnDelivered(delivered)
	}
	return delivered
}

// Send delivers msg to one session, pruning it on failure.
func (h *Hub) Send(s Session, msg []byte) error {
	if err := s.Send(msg); err != nil {
		derr := &DeliveryError{SessionID: s.ID(), Err: err}
		h.prune([]*DeliveryError{derr})
		return derr
	}
	return nil
}

func (h *Hub) prune(failed []*DeliveryError) {
	h.mu.Lock()
	var closers []io.Closer
	for _, f := range failed {
		if s, ok := h.sessions[f.SessionID]; ok {
			delete(h.sessions, f.SessionID)
			if c, ok := s.(io.Closer); ok {
				closers = append(closers, c)
			}
		}
	}
	n := len(h.sessions)
	h.mu.Unlock()

	for _, f := range failed {
		h.log.Warn("pruning viewer session", "err", f)
		if h.OnPrune != nil {
			h.OnPrune()
		}
	}
	for _, c := range closers {
		c.Close()
	}
	h.countChanged(n)
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session that can be closed and empties the hub.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]Session)
	h.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.log.Debug("closing viewer sessions", "err", err)
	}
	h.countChanged(0)
}

func (h *Hub) countChanged(n int) {
	if h.OnCount != nil {
		h.OnCount(n)
	}
}
