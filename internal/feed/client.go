// Package feed maintains the single upstream market-data WebSocket.
//
// The client dials with the broker's auth headers, subscribes to full market
// depth for one instrument, and publishes decoded ticks, depth snapshots and
// quotes on a single Events channel in receipt order. Lost connections are retried with exponential
// backoff; once the retry budget is spent the client reports a fatal
// ConnectivityError and waits for Reconnect.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"orderflow-relay/internal/model"
)

// State is the connection state of the client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Listening
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Listening:
		return "listening"
	default:
		return "disconnected"
	}
}

const (
	FeedTypeFullDepth = "full_market_depth"
	SegmentNSEEquity  = "NSE_EQ"

	heartbeatInterval = 10 * time.Second
	writeWait         = 5 * time.Second
)

// Target is the instrument the client subscribes to.
type Target struct {
	Symbol string
	Token  string
}

// Config holds configuration for the feed client.
type Config struct {
	// URL of the upstream feed, e.g. "wss://api-feed.dhan.co"
	URL      string
	ClientID string
	Segment  string

	MaxAttempts int
	// BackoffUnit scales Backoff. Defaults to 1s.
	BackoffUnit time.Duration
	// ChannelSize is the buffer of each event channel. Defaults to 1024.
	ChannelSize int

	Dialer *websocket.Dialer
}

func (c *Config) defaults() {
	if c.Segment == "" {
		c.Segment = SegmentNSEEquity
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = 1024
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
}

// Client is the upstream feed connection. Run drives it; everything else is
// safe to call from other goroutines.
type Client struct {
	cfg    Config
	tokens TokenSource
	log    *slog.Logger

	state atomic.Int32

	// mu guards the fields below and serialises every subscribe write.
	mu            sync.Mutex
	conn          *websocket.Conn
	target        Target
	cancelAttempt context.CancelFunc
	parked        bool

	kick    chan struct{}
	restart chan struct{}

	events chan model.Event
	fatal  chan error

	// Optional metrics hooks
	OnMessage     func(msgType string)
	OnDecodeError func()
	OnReconnect   func(attempt int)
	OnDrop        func(kind string)
	OnState       func(State)
}

// New creates a client. It does not connect until Run is called.
func New(cfg Config, tokens TokenSource, log *slog.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		tokens:  tokens,
		log:     log.With("component", "feed"),
		kick:    make(chan struct{}, 1),
		restart: make(chan struct{}, 1),
		events:  make(chan model.Event, cfg.ChannelSize),
		fatal:   make(chan error, 1),
	}
}

// Events delivers ticks, depth snapshots and quotes in receipt order.
func (c *Client) Events() <-chan model.Event { return c.events }
func (c *Client) Fatal() <-chan error        { return c.fatal }
func (c *Client) State() State               { return State(c.state.Load()) }

// Target returns the instrument the client is (or will be) subscribed to.
func (c *Client) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s && c.OnState != nil {
		c.OnState(s)
	}
}

// Resubscribe switches the subscription to a new instrument. On a live
// connection the subscribe message is written immediately without closing
// the transport. Otherwise the target is stored for the next connect and
// any dial or backoff in flight is abandoned so a fresh attempt starts now.
func (c *Client) Resubscribe(symbol, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.target = Target{Symbol: symbol, Token: token}
	if c.conn != nil {
		if err := c.writeSubscribeLocked(c.conn, c.target); err != nil {
			return fmt.Errorf("feed: resubscribe %s: %w", symbol, err)
		}
		c.log.Info("resubscribed", "symbol", symbol, "token", token)
		return nil
	}

	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Reconnect resumes a client parked after a fatal connectivity error. It
// is a no-op otherwise.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.parked {
		return
	}
	select {
	case c.restart <- struct{}{}:
	default:
	}
}

// Run owns the connection lifecycle until ctx is cancelled. It always
// returns nil; fatal failures are reported on Fatal().
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		tgt, ok := c.waitTarget(ctx)
		if !ok {
			return nil
		}

		actx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancelAttempt = cancel
		c.mu.Unlock()

		subscribed, err := c.session(actx, tgt)
		if subscribed {
			attempt = 0
		}
		if ctx.Err() != nil {
			cancel()
			return nil
		}
		if actx.Err() != nil {
			cancel()
			c.log.Info("connect attempt superseded by symbol change")
			continue
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			cancel()
			cerr := &ConnectivityError{
				Symbol:  tgt.Symbol,
				Token:   tgt.Token,
				Attempt: c.cfg.MaxAttempts,
				Err:     err,
				Fatal:   true,
			}
			c.log.Error("feed connectivity lost", "err", cerr)
			// parked must be set before the error is visible to Reconnect callers.
			c.setParked(true)
			select {
			case c.fatal <- cerr:
			default:
			}
			if !c.park(ctx) {
				return nil
			}
			attempt = 0
			continue
		}

		delay := Backoff(attempt, c.cfg.BackoffUnit)
		c.log.Warn("feed disconnected, reconnecting", "attempt", attempt, "delay", delay, "err", err)
		if c.OnReconnect != nil {
			c.OnReconnect(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			cancel()
			return nil
		case <-actx.Done():
			c.log.Info("reconnect backoff cut short by symbol change")
		case <-timer.C:
		}
		timer.Stop()
		cancel()
	}
}

// waitTarget blocks until there is an instrument to subscribe to.
func (c *Client) waitTarget(ctx context.Context) (Target, bool) {
	for {
		c.mu.Lock()
		tgt := c.target
		c.mu.Unlock()
		if tgt.Token != "" {
			return tgt, ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return Target{}, false
		case <-c.kick:
		}
	}
}

func (c *Client) setParked(v bool) {
	c.mu.Lock()
	c.parked = v
	c.mu.Unlock()
}

// park blocks until Reconnect or ctx ends. The caller has already set
// parked.
func (c *Client) park(ctx context.Context) bool {
	defer c.setParked(false)

	select {
	case <-ctx.Done():
		return false
	case <-c.restart:
		c.log.Info("feed reconnect requested")
		return true
	}
}

// session runs one connection from dial to disconnect. subscribed reports
// whether the subscribe write succeeded.
func (c *Client) session(ctx context.Context, tgt Target) (subscribed bool, err error) {
	c.setState(Connecting)
	defer c.setState(Disconnected)

	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	c.mu.Lock()
	// The target may have moved while dialing.
	tgt = c.target
	err = c.writeSubscribeLocked(conn, tgt)
	if err == nil {
		c.conn = conn
	}
	c.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(Subscribed)
	c.log.Info("subscribed", "symbol", tgt.Symbol, "token", tgt.Token)

	go c.heartbeat(conn, stop)

	c.setState(Listening)
	return true, c.listen(conn)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("access-token", token)
	header.Set("client-id", c.cfg.ClientID)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", c.cfg.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *Client) writeSubscribeLocked(conn *websocket.Conn, tgt Target) error {
	req := subscribeRequest{
		Action:          "subscribe",
		InstrumentToken: tgt.Token,
		FeedType:        FeedTypeFullDepth,
		Segment:         c.cfg.Segment,
		ClientID:        c.cfg.ClientID,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping write failed", "err", err)
				return
			}
		}
	}
}

// listen reads frames one at a time until the transport fails.
func (c *Client) listen(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	now := time.Now().UTC()

	typ, err := decodeType(raw)
	if err != nil {
		c.decodeFailed(err)
		return
	}
	if c.OnMessage != nil {
		c.OnMessage(typ)
	}

	switch typ {
	case TypeTick:
		var w wireTick
		if err := decodeInto(raw, &w); err != nil {
			c.decodeFailed(err)
			return
		}
		c.emit(w.tick(now), TypeTick)

	case TypeMarketDepth:
		var w wireDepth
		if err := decodeInto(raw, &w); err != nil {
			c.decodeFailed(err)
			return
		}
		d := model.DepthUpdate{Token: w.Token.String(), Bids: w.Bids, Asks: w.Asks, TS: now}
		if w.LastTrade != nil {
			lt := w.LastTrade.tick(now)
			d.LastTrade = &lt
		}
		c.emit(d, TypeMarketDepth)

	case TypeQuote:
		var w wireQuote
		if err := decodeInto(raw, &w); err != nil {
			c.decodeFailed(err)
			return
		}
		q := model.Quote{
			Token:         w.Token.String(),
			LTP:           w.LTP,
			Change:        w.Change,
			ChangePercent: w.ChangePercent,
			Volume:        w.Volume.IntPart(),
			TS:            now,
		}
		c.emit(q, TypeQuote)

	case TypeError:
		var w wireError
		if err := decodeInto(raw, &w); err != nil {
			c.decodeFailed(err)
			return
		}
		c.log.Warn("upstream error message", "code", w.Code, "message", w.Message)

	default:
		c.log.Debug("ignoring unknown feed message", "type", typ)
	}
}

func (c *Client) decodeFailed(err error) {
	var derr *DecodeError
	if errors.As(err, &derr) {
		c.log.Warn("dropping malformed feed message", "err", derr)
	}
	if c.OnDecodeError != nil {
		c.OnDecodeError()
	}
}

// emit queues ev without blocking the read loop.
func (c *Client) emit(ev model.Event, kind string) {
	select {
	case c.events <- ev:
	default:
		c.dropped(kind)
	}
}

func (c *Client) dropped(kind string) {
	c.log.Warn("feed channel full, dropping message", "type", kind)
	if c.OnDrop != nil {
		c.OnDrop(kind)
	}
}
