// Package api serves the relay's REST endpoints and mounts the viewer
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"orderflow-relay/internal/feed"
	"orderflow-relay/internal/gateway"
	"orderflow-relay/internal/historical"
	"orderflow-relay/internal/markethours"
	"orderflow-relay/internal/model"
	"orderflow-relay/internal/relay"
	"orderflow-relay/internal/symbols"
)

const (
	defaultSearchLimit  = 20
	defaultPopularLimit = 50
	defaultUnknownLimit = 50
	maxLimit            = 500
)

type Symbols interface {
	Resolve(ctx context.Context, symbol string) (model.SymbolRecord, error)
	Get(symbol string) (model.SymbolRecord, bool)
	Search(query string, limit int) []model.SymbolRecord
	SearchStored(ctx context.Context, query string, limit int) ([]model.SymbolRecord, error)
	Popular(limit int) []model.SymbolRecord
	All() []model.SymbolRecord
	Count() int
}

type AuditLog interface {
	UnknownRequests(ctx context.Context, limit int) ([]model.UnknownRequest, error)
}

type Historical interface {
	OffMarketData(ctx context.Context, symbol, timeframe string) (*historical.Snapshot, error)
}

type Calendar interface {
	IsMarketOpen(t time.Time) bool
	Status(t time.Time) string
}

type Relay interface {
	Current() relay.Snapshot
}

type FeedStatus interface {
	State() feed.State
}

type Viewers interface {
	Count() int
}

// Deps bundles what the routes read from. Frames receives envelopes that
// a REST call asks to broadcast; it may be nil.
type Deps struct {
	Symbols    Symbols
	Audit      AuditLog
	Historical Historical
	Calendar   Calendar
	Relay      Relay
	Feed       FeedStatus
	Viewers    Viewers
	WS         http.Handler
	Frames     chan<- model.Frame
	Now        func() time.Time
}

type handlers struct {
	Deps
	started time.Time
	log     *slog.Logger
}

// NewRouter sets up HTTP routes for the relay.
func NewRouter(d Deps, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{Deps: d, started: d.Now(), log: log.With("component", "api")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /symbols", h.defaultSymbols)
	mux.HandleFunc("GET /symbols/dynamic", h.dynamicSymbols)
	mux.HandleFunc("GET /symbols/search", h.search)
	mux.HandleFunc("GET /symbols/popular", h.popular)
	mux.HandleFunc("GET /symbols/unknown", h.unknown)
	mux.HandleFunc("POST /symbols/request", h.requestSymbol)
	mux.HandleFunc("GET /symbols/info/{symbol}", h.symbolInfo)
	mux.HandleFunc("GET /market/status", h.marketStatus)
	mux.HandleFunc("GET /historical/{symbol}", h.historical)
	mux.HandleFunc("GET /off-market/{symbol}", h.offMarket)
	if d.WS != nil {
		mux.Handle("GET /ws", d.WS)
	}
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gateway.SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// limitParam parses ?limit=, falling back to def when absent or invalid.
func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

func timeframeParam(r *http.Request) string {
	if tf := r.URL.Query().Get("timeframe"); tf != "" {
		return tf
	}
	return historical.DefaultTimeframe
}

func (h *handlers) feedListening() bool {
	return h.Feed != nil && h.Feed.State() == feed.Listening
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "running",
		"connected_clients": h.Viewers.Count(),
		"current_symbol":    h.Relay.Current().Symbol,
		"feed_connected":    h.feedListening(),
		"timestamp":         gateway.Unix(h.Now()),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	cur := h.Relay.Current()
	status := "healthy"
	if h.Calendar.IsMarketOpen(now) && !h.feedListening() {
		status = "degraded"
	}
	state := feed.Disconnected
	if h.Feed != nil {
		state = h.Feed.State()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"backend":           "running",
		"feed_connection":   state.String(),
		"clients_connected": h.Viewers.Count(),
		"current_symbol":    cur.Symbol,
		"data_mode":         cur.Mode,
		"timeframe":         cur.Timeframe,
		"symbols_cached":    h.Symbols.Count(),
		"uptime":            now.Sub(h.started).Seconds(),
	})
}

func (h *handlers) defaultSymbols(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(symbols.DefaultSymbols))
	for _, rec := range symbols.DefaultSymbols {
		names = append(names, rec.Symbol)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": names,
		"note":    "Use /symbols/dynamic for full symbol list",
	})
}

func (h *handlers) dynamicSymbols(w http.ResponseWriter, r *http.Request) {
	all := h.Symbols.All()
	names := make([]string, len(all))
	for i, rec := range all {
		names[i] = rec.Symbol
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": names,
		"count":   len(names),
		"source":  "cache",
	})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 2 {
		writeError(w, http.StatusBadRequest, "Query must be at least 2 characters")
		return
	}
	limit := limitParam(r, defaultSearchLimit)
	results := h.Symbols.Search(q, limit)
	if len(results) == 0 {
		stored, err := h.Symbols.SearchStored(r.Context(), q, limit)
		if err != nil {
			h.log.Warn("stored symbol search failed", "query", q, "err", err)
		}
		results = stored
	}
	if results == nil {
		results = []model.SymbolRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": results,
		"count":   len(results),
	})
}

func (h *handlers) popular(w http.ResponseWriter, r *http.Request) {
	results := h.Symbols.Popular(limitParam(r, defaultPopularLimit))
	if results == nil {
		results = []model.SymbolRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": results,
		"count":   len(results),
	})
}

func (h *handlers) unknown(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Audit.UnknownRequests(r.Context(), limitParam(r, defaultUnknownLimit))
	if err != nil {
		h.log.Error("read unknown-symbol log", "err", err)
		writeError(w, http.StatusInternalServerError, "could not read unknown-symbol log")
		return
	}
	if reqs == nil {
		reqs = []model.UnknownRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"count":    len(reqs),
	})
}

func (h *handlers) requestSymbol(w http.ResponseWriter, r *http.Request) {
	sym := symbols.Normalize(r.URL.Query().Get("symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if _, ok := h.Symbols.Get(sym); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Symbol " + sym + " already exists",
			"status":  "exists",
		})
		return
	}

	rec, err := h.Symbols.Resolve(r.Context(), sym)
	switch {
	case errors.Is(err, symbols.ErrNotFound):
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Symbol " + sym + " not found. Added to pending requests.",
			"status":  "pending",
		})
	case err != nil:
		h.log.Warn("symbol request failed", "symbol", sym, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Symbol " + sym + " added successfully",
			"status":      "added",
			"symbol_info": rec,
		})
	}
}

func (h *handlers) symbolInfo(w http.ResponseWriter, r *http.Request) {
	sym := symbols.Normalize(r.PathValue("symbol"))
	rec, err := h.Symbols.Resolve(r.Context(), sym)
	if errors.Is(err, symbols.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Symbol "+sym+" not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": sym, "info": rec})
}

func (h *handlers) marketStatus(w http.ResponseWriter, r *http.Request) {
	now := h.Now()
	status := h.Calendar.Status(now)
	resp := map[string]any{
		"is_market_hours":    status == markethours.StatusOpen,
		"current_time":       now.In(markethours.IST).Format(time.RFC3339),
		"market_status":      status,
		"next_market_open":   nil,
		"seconds_until_open": 0,
		"status":             markethours.StatusString(now),
	}
	if status != markethours.StatusOpen {
		resp["next_market_open"] = markethours.NextOpen(now).Format(time.RFC3339)
		resp["seconds_until_open"] = int64(markethours.TimeUntilOpen(now).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// snapshot validates the request and fetches off-market data, writing the
// error response itself on failure.
func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) (*historical.Snapshot, bool) {
	sym := symbols.Normalize(r.PathValue("symbol"))
	tf := timeframeParam(r)
	if !historical.ValidTimeframe(tf) {
		writeError(w, http.StatusBadRequest, "Invalid timeframe. Must be one of: 1min, 5min, 15min, 1hour, 1day")
		return nil, false
	}
	data, err := h.Historical.OffMarketData(r.Context(), sym, tf)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return data, true
}

func (h *handlers) historical(w http.ResponseWriter, r *http.Request) {
	if data, ok := h.snapshot(w, r); ok {
		h.writeEnvelope(w, gateway.OffMarketData{Snapshot: data})
	}
}

// writeEnvelope writes e exactly as viewers receive it over the socket.
func (h *handlers) writeEnvelope(w http.ResponseWriter, e gateway.Envelope) {
	b, err := gateway.Encode(e)
	if err != nil {
		h.log.Error("encode response", "type", e.Type(), "err", err)
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// offMarket also pushes the snapshot to every connected viewer.
func (h *handlers) offMarket(w http.ResponseWriter, r *http.Request) {
	data, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	env := gateway.OffMarketData{Snapshot: data}
	if h.Frames != nil {
		if f, err := gateway.EncodeFrame(env, time.Time{}); err == nil {
			select {
			case h.Frames <- f:
			default:
				h.log.Warn("broadcast queue full, off-market snapshot not pushed", "symbol", data.Symbol)
			}
		}
	}
	h.writeEnvelope(w, env)
}
