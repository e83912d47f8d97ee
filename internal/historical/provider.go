// Package historical builds the off-market snapshot shown to viewers while
// the exchange is closed: recent candles plus a volume profile, a simulated
// order flow and a simulated order book derived from them.
package historical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"orderflow-relay/internal/model"
)

// ErrNoData means the chart API returned no candles for the range.
var ErrNoData = errors.New("no historical data available")

// ErrInvalidTimeframe is returned for a timeframe outside Timeframes.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

// DefaultTimeframe is used on connect and after a symbol change.
const DefaultTimeframe = "1min"

// Timeframes lists the accepted timeframes, shortest first.
var Timeframes = []string{"1min", "5min", "15min", "1hour", "1day"}

var lookbackDays = map[string]int{
	"1min":  1,
	"5min":  3,
	"15min": 7,
	"1hour": 30,
	"1day":  365,
}

// ValidTimeframe reports whether tf is one of Timeframes.
func ValidTimeframe(tf string) bool {
	_, ok := lookbackDays[tf]
	return ok
}

// Lookback is how far back candles are fetched for tf.
func Lookback(tf string) time.Duration {
	days, ok := lookbackDays[tf]
	if !ok {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Fetcher loads candles from the chart API. *dhan.Client implements it.
type Fetcher interface {
	Historical(ctx context.Context, symbol, period string, from, to time.Time) ([]model.Candle, error)
}

// Config tunes the provider. Zero values take defaults.
type Config struct {
	CacheTTL time.Duration // default: 1h
	Now      func() time.Time
}

type cacheEntry struct {
	candles []model.Candle
	at      time.Time
}

// Provider fetches and caches candles per (symbol, timeframe).
type Provider struct {
	src Fetcher
	ttl time.Duration
	now func() time.Time
	log *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	// Optional metrics hooks
	OnFetch    func(d time.Duration, err error)
	OnCacheHit func()
}

// New creates a Provider.
func New(src Fetcher, cfg Config, log *slog.Logger) *Provider {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		src:   src,
		ttl:   cfg.CacheTTL,
		now:   cfg.Now,
		log:   log.With("component", "historical"),
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(symbol, tf string) string { return symbol + "_" + tf }

// Candles returns cached candles when fresh, otherwise fetches the lookback
// window for tf. Empty results are not cached.
func (p *Provider) Candles(ctx context.Context, symbol, tf string) ([]model.Candle, error) {
	if !ValidTimeframe(tf) {
		return nil, fmt.Errorf("%w %q: must be one of %s", ErrInvalidTimeframe, tf, strings.Join(Timeframes, ", "))
	}
	now := p.now()
	key := cacheKey(symbol, tf)

	p.mu.Lock()
	if e, ok := p.cache[key]; ok && now.Sub(e.at) < p.ttl {
		p.mu.Unlock()
		if p.OnCacheHit != nil {
			p.OnCacheHit()
		}
		return e.candles, nil
	}
	p.mu.Unlock()

	start := time.Now()
	candles, err := p.src.Historical(ctx, symbol, tf, now.Add(-Lookback(tf)), now)
	if p.OnFetch != nil {
		p.OnFetch(time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("historical %s %s: %w", symbol, tf, err)
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	p.mu.Lock()
	for k, e := range p.cache {
		if now.Sub(e.at) >= p.ttl {
			delete(p.cache, k)
		}
	}
	p.cache[key] = cacheEntry{candles: candles, at: now}
	p.mu.Unlock()

	p.log.Debug("fetched candles", "symbol", symbol, "timeframe", tf, "count", len(candles))
	return candles, nil
}

// OffMarketData builds the full snapshot for symbol at tf.
func (p *Provider) OffMarketData(ctx context.Context, symbol, tf string) (*Snapshot, error) {
	candles, err := p.Candles(ctx, symbol, tf)
	if err != nil {
		return nil, err
	}
	return BuildSnapshot(symbol, tf, candles, p.now()), nil
}
