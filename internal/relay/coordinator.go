// Package relay owns the active instrument and routes everything between
// the upstream feed, the aggregator and the viewer gateway.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow-relay/internal/feed"
	"orderflow-relay/internal/gateway"
	"orderflow-relay/internal/historical"
	"orderflow-relay/internal/logger"
	"orderflow-relay/internal/marketdata/agg"
	"orderflow-relay/internal/markethours"
	"orderflow-relay/internal/model"
	"orderflow-relay/internal/notification"
	"orderflow-relay/internal/symbols"
)

const (
	// DefaultWatchInterval is how often the market calendar is re-checked.
	DefaultWatchInterval = 30 * time.Second
	// DefaultSearchLimit applies when a search command carries no limit.
	DefaultSearchLimit = 20

	alertTimeout = 10 * time.Second
)

// ── Collaborators ──

type Resolver interface {
	Resolve(ctx context.Context, symbol string) (model.SymbolRecord, error)
	Search(query string, limit int) []model.SymbolRecord
}

type Feed interface {
	Resubscribe(symbol, token string) error
	// Reconnect revives a feed parked after a fatal connectivity error.
	Reconnect()
	// Events delivers ticks, depth and quotes in receipt order.
	Events() <-chan model.Event
	Fatal() <-chan error
}

type Historical interface {
	OffMarketData(ctx context.Context, symbol, timeframe string) (*historical.Snapshot, error)
}

type Calendar interface {
	IsMarketOpen(t time.Time) bool
}

// Replier delivers a message to one session, pruning it on failure.
type Replier interface {
	Send(s gateway.Session, msg []byte) error
}

// Retainer remembers the latest broadcast of each live envelope type.
type Retainer interface {
	Latest(types ...string) [][]byte
	Forget(types ...string)
}

// Deps bundles the coordinator's collaborators. Notifier may be nil.
type Deps struct {
	Resolver   Resolver
	Feed       Feed
	Historical Historical
	Calendar   Calendar
	Hub        Replier
	Retained   Retainer
	Aggregator *agg.Aggregator
	Notifier   notification.Notifier
}

type Config struct {
	Symbol        string
	Token         string
	WatchInterval time.Duration
	Now           func() time.Time
}

// Coordinator implements gateway.CommandHandler.
type Coordinator struct {
	Deps
	cfg Config
	rc  *RelayContext
	out chan<- model.Frame
	log *slog.Logger

	mu          sync.Mutex
	statusKnown bool
	marketOpen  bool

	// switchMu keeps RelayContext and the feed subscription on the same
	// instrument. Held across SetSymbol/SetMode and Resubscribe.
	switchMu sync.Mutex

	// Optional metrics hooks
	OnCommand      func(cmdType string)
	OnSymbolChange func(mode string)
	OnFatal        func()
}

// New creates a coordinator that publishes broadcast frames on out.
func New(d Deps, out chan<- model.Frame, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if d.Aggregator == nil {
		d.Aggregator = agg.New(log)
	}
	return &Coordinator{
		Deps: d,
		cfg:  cfg,
		rc:   NewRelayContext(symbols.Normalize(cfg.Symbol), cfg.Token, historical.DefaultTimeframe),
		out:  out,
		log:  log.With("component", "relay"),
	}
}

// Current returns a copy of the relay state.
func (c *Coordinator) Current() Snapshot { return c.rc.Snapshot() }

// Run routes feed events and aggregated batches to viewers and watches the
// market calendar until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.checkMarket(ctx)

	// Ticks are ingested here so every feed event is handled in receipt
	// order; the aggregator goroutine only flushes.
	batches := make(chan agg.Batch, 64)
	go c.Aggregator.Run(ctx, nil, batches)

	ticker := time.NewTicker(c.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.Feed.Events():
			c.onEvent(ctx, ev)
		case b := <-batches:
			c.publish(ctx, gateway.NewAggregatedTrades(b.Trades, b.WindowEnd), b.WindowEnd)
		case err := <-c.Feed.Fatal():
			c.onFatal(ctx, err)
		case <-ticker.C:
			c.checkMarket(ctx)
		}
	}
}

func (c *Coordinator) onEvent(ctx context.Context, ev model.Event) {
	switch ev := ev.(type) {
	case model.Tick:
		c.Aggregator.Ingest(ev)
	case model.DepthUpdate:
		c.onDepth(ctx, ev)
	case model.Quote:
		c.onQuote(ctx, ev)
	}
}

func (c *Coordinator) onDepth(ctx context.Context, d model.DepthUpdate) {
	cur := c.rc.Snapshot()
	if d.Token != "" && d.Token != cur.Token {
		c.log.Debug("dropping depth for previous instrument", "token", d.Token)
		return
	}
	c.publish(ctx, gateway.NewDepthUpdate(cur.Symbol, d), d.TS)
}

func (c *Coordinator) onQuote(ctx context.Context, q model.Quote) {
	cur := c.rc.Snapshot()
	if q.Token != "" && q.Token != cur.Token {
		c.log.Debug("dropping quote for previous instrument", "token", q.Token)
		return
	}
	c.publish(ctx, gateway.NewQuoteUpdate(cur.Symbol, q), q.TS)
}

func (c *Coordinator) onFatal(ctx context.Context, err error) {
	c.log.Error("upstream feed unavailable", "err", err)
	if c.OnFatal != nil {
		c.OnFatal()
	}

	open := c.Calendar.IsMarketOpen(c.cfg.Now())
	c.publish(ctx, gateway.MarketStatusMsg{
		IsMarketHours: open,
		MarketStatus:  statusOf(open),
		Message:       "live feed unavailable: " + err.Error(),
	}, time.Time{})

	if c.Notifier == nil {
		return
	}
	cur := c.rc.Snapshot()
	alert := notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Upstream feed down",
		Message: err.Error(),
		Symbol:  cur.Symbol,
		Token:   cur.Token,
		At:      c.cfg.Now(),
	}
	var cerr *feed.ConnectivityError
	if errors.As(err, &cerr) {
		alert.Attempts = cerr.Attempt
		if cerr.Symbol != "" {
			alert.Symbol, alert.Token = cerr.Symbol, cerr.Token
		}
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if err := c.Notifier.Send(actx, alert); err != nil {
			c.log.Warn("alert not delivered", "err", err)
		}
	}()
}

// checkMarket broadcasts market_status on every open/closed transition and
// switches the relay between live and historical data.
func (c *Coordinator) checkMarket(ctx context.Context) {
	open := c.Calendar.IsMarketOpen(c.cfg.Now())

	c.mu.Lock()
	changed := !c.statusKnown || c.marketOpen != open
	c.statusKnown, c.marketOpen = true, open
	c.mu.Unlock()
	if !changed {
		return
	}

	c.log.Info("market status", "open", open)
	c.publish(ctx, gateway.MarketStatusMsg{IsMarketHours: open, MarketStatus: statusOf(open)}, time.Time{})

	c.switchMu.Lock()
	if open {
		c.rc.SetMode(gateway.DataModeLive)
		cur := c.rc.Snapshot()
		if err := c.Feed.Resubscribe(cur.Symbol, cur.Token); err != nil {
			c.log.Warn("subscribe on market open failed", "symbol", cur.Symbol, "err", err)
		}
		c.Feed.Reconnect()
		c.switchMu.Unlock()
		return
	}

	c.rc.SetMode(gateway.DataModeHistorical)
	c.Retained.Forget(gateway.TypeDepthUpdate, gateway.TypeQuoteUpdate)
	cur := c.rc.Snapshot()
	c.switchMu.Unlock()

	data, err := c.Historical.OffMarketData(ctx, cur.Symbol, cur.Timeframe)
	if err != nil {
		c.log.Warn("no historical data on market close", "symbol", cur.Symbol, "err", err)
		return
	}
	c.publish(ctx, gateway.OffMarketData{Snapshot: data}, time.Time{})
}

// OnConnect greets a new viewer with the market status and the data for
// the current mode.
func (c *Coordinator) OnConnect(ctx context.Context, s gateway.Session) {
	open := c.Calendar.IsMarketOpen(c.cfg.Now())
	c.reply(s, gateway.MarketStatusMsg{IsMarketHours: open, MarketStatus: statusOf(open)})

	if open {
		for _, msg := range c.Retained.Latest(gateway.TypeDepthUpdate, gateway.TypeQuoteUpdate) {
			c.Hub.Send(s, msg)
		}
		return
	}

	cur := c.rc.Snapshot()
	data, err := c.Historical.OffMarketData(ctx, cur.Symbol, cur.Timeframe)
	if err != nil {
		c.log.Warn("initial historical data unavailable", "symbol", cur.Symbol, "err", err)
		return
	}
	c.reply(s, gateway.OffMarketData{Snapshot: data})
}

// HandleCommand answers one viewer command. Every command gets a reply.
func (c *Coordinator) HandleCommand(ctx context.Context, s gateway.Session, cmd gateway.Command) {
	if c.OnCommand != nil {
		c.OnCommand(cmd.CommandType())
	}

	switch cmd := cmd.(type) {
	case gateway.Ping:
		c.reply(s, gateway.Pong{Timestamp: gateway.Unix(c.cfg.Now())})
	case gateway.ChangeSymbol:
		c.changeSymbol(ctx, s, cmd.Symbol)
	case gateway.ChangeTimeframe:
		c.changeTimeframe(ctx, s, cmd.Timeframe)
	case gateway.SearchSymbols:
		limit := cmd.Limit
		if limit <= 0 {
			limit = DefaultSearchLimit
		}
		results := c.Resolver.Search(cmd.Query, limit)
		if results == nil {
			results = []model.SymbolRecord{}
		}
		c.reply(s, gateway.SearchResults{Query: cmd.Query, Results: results})
	default:
		c.reply(s, gateway.ErrorMsg{Message: "unsupported command", Command: cmd.CommandType()})
	}
}

func (c *Coordinator) changeSymbol(ctx context.Context, s gateway.Session, raw string) {
	log := c.logFor(ctx)
	sym := symbols.Normalize(raw)
	rec, err := c.Resolver.Resolve(ctx, sym)
	if err != nil {
		msg := "Symbol not found"
		if !errors.Is(err, symbols.ErrNotFound) {
			msg = "Error resolving symbol: " + err.Error()
		}
		log.Info("symbol change rejected", "symbol", sym, "err", err)
		c.reply(s, gateway.SymbolError{Symbol: sym, Message: msg})
		return
	}

	c.switchMu.Lock()
	if c.Calendar.IsMarketOpen(c.cfg.Now()) {
		c.rc.SetSymbol(rec.Symbol, rec.Token, gateway.DataModeLive)
		c.Retained.Forget(gateway.TypeDepthUpdate, gateway.TypeQuoteUpdate)
		err := c.Feed.Resubscribe(rec.Symbol, rec.Token)
		if err == nil {
			c.Feed.Reconnect()
		}
		c.switchMu.Unlock()

		if err != nil {
			log.Warn("resubscribe failed", "symbol", rec.Symbol, "err", err)
			c.reply(s, gateway.SymbolError{Symbol: rec.Symbol, Message: "Error subscribing: " + err.Error()})
			return
		}
		c.symbolChanged(ctx, s, rec, gateway.DataModeLive)
		return
	}

	c.rc.SetSymbol(rec.Symbol, rec.Token, gateway.DataModeHistorical)
	c.Retained.Forget(gateway.TypeDepthUpdate, gateway.TypeQuoteUpdate)
	tf := c.rc.Snapshot().Timeframe
	c.switchMu.Unlock()

	if data, err := c.Historical.OffMarketData(ctx, rec.Symbol, tf); err == nil {
		c.reply(s, gateway.OffMarketData{Snapshot: data})
	} else {
		log.Warn("historical data unavailable", "symbol", rec.Symbol, "err", err)
	}
	c.symbolChanged(ctx, s, rec, gateway.DataModeHistorical)
}

func (c *Coordinator) symbolChanged(ctx context.Context, s gateway.Session, rec model.SymbolRecord, mode string) {
	c.logFor(ctx).Info("active symbol changed", "symbol", rec.Symbol, "token", rec.Token, "mode", mode)
	if c.OnSymbolChange != nil {
		c.OnSymbolChange(mode)
	}
	c.reply(s, gateway.SymbolChanged{Symbol: rec.Symbol, SymbolInfo: rec, DataMode: mode})
}

func (c *Coordinator) changeTimeframe(ctx context.Context, s gateway.Session, tf string) {
	if !historical.ValidTimeframe(tf) {
		c.reply(s, gateway.ErrorMsg{
			Message: fmt.Sprintf("invalid timeframe %q, must be one of %v", tf, historical.Timeframes),
			Command: gateway.TypeChangeTimeframe,
		})
		return
	}

	cur := c.rc.Snapshot()
	if cur.Mode == gateway.DataModeLive {
		c.reply(s, gateway.ErrorMsg{
			Message: "timeframe applies to historical data only; ignored while live",
			Command: gateway.TypeChangeTimeframe,
		})
		return
	}

	c.rc.SetTimeframe(tf)
	data, err := c.Historical.OffMarketData(ctx, cur.Symbol, tf)
	if err != nil {
		c.logFor(ctx).Warn("timeframe change without data", "symbol", cur.Symbol, "timeframe", tf, "err", err)
		c.reply(s, gateway.ErrorMsg{
			Message: "historical data unavailable: " + err.Error(),
			Command: gateway.TypeChangeTimeframe,
		})
		return
	}
	c.reply(s, gateway.TimeframeChanged{Symbol: cur.Symbol, Timeframe: tf})
	c.reply(s, gateway.OffMarketData{Snapshot: data})
}

// logFor tags log lines with the trace ID of the viewer command in ctx.
func (c *Coordinator) logFor(ctx context.Context) *slog.Logger {
	return c.log.With(logger.LogWithTrace(ctx)...)
}

func (c *Coordinator) reply(s gateway.Session, e gateway.Envelope) {
	msg, err := gateway.Encode(e)
	if err != nil {
		c.log.Error("encode reply", "type", e.Type(), "err", err)
		return
	}
	if err := c.Hub.Send(s, msg); err != nil {
		c.log.Debug("reply not delivered", "type", e.Type(), "err", err)
	}
}

// publish hands an envelope to the broadcast bus.
func (c *Coordinator) publish(ctx context.Context, e gateway.Envelope, at time.Time) {
	f, err := gateway.EncodeFrame(e, at)
	if err != nil {
		c.log.Error("encode broadcast", "type", e.Type(), "err", err)
		return
	}
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

func statusOf(open bool) string {
	if open {
		return markethours.StatusOpen
	}
	return markethours.StatusClosed
}
