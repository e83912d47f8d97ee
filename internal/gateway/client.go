package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orderflow-relay/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var (
	// ErrSendBufferFull means the viewer is not keeping up.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrSessionClosed means the session has shut down.
	ErrSessionClosed = errors.New("session closed")
)

// CommandHandler reacts to viewer sessions. Calls for one session are
// strictly sequential.
type CommandHandler interface {
	OnConnect(ctx context.Context, s Session)
	HandleCommand(ctx context.Context, s Session, cmd Command)
}

// WSSession is a viewer connected over WebSocket. writePump is the only
// writer to the connection, so messages reach the viewer in Send order.
type WSSession struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	hub     *Hub
	handler CommandHandler
	log     *slog.Logger
}

// NewWSSession wraps an upgraded connection.
func NewWSSession(conn *websocket.Conn, hub *Hub, handler CommandHandler, log *slog.Logger) *WSSession {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &WSSession{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		hub:     hub,
		handler: handler,
		log:     log.With("session", id),
	}
}

func (s *WSSession) ID() string { return s.id }

func (s *WSSession) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps. Safe to call more than once.
func (s *WSSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Serve registers the session, runs the pumps and blocks until the viewer
// goes away or ctx is cancelled.
func (s *WSSession) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.hub.Register(s)
	defer func() {
		s.hub.Unregister(s)
		s.Close()
	}()

	go s.writePump()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	s.handler.OnConnect(ctx, s)
	s.readPump(ctx)
}

func (s *WSSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WSSession) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", "err", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		cctx := logger.WithTraceID(ctx, logger.GenerateTraceID(s.id, time.Now()))
		cmd, err := DecodeCommand(raw)
		if err != nil {
			s.log.Debug("rejecting viewer message", append(logger.LogWithTrace(cctx), "err", err)...)
			if msg, eerr := Encode(ErrorMsg{Message: err.Error()}); eerr == nil {
				s.hub.Send(s, msg)
			}
			continue
		}
		s.handler.HandleCommand(cctx, s, cmd)
	}
}
