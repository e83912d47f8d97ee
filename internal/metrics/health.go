package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency that can be pinged for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the relay's health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedState       string    `json:"feed_state"`
	FeedListening   bool      `json:"feed_listening"`
	LastFeedMessage time.Time `json:"last_feed_message"`
	MarketOpen      bool      `json:"market_open"`
	ActiveSymbol    string    `json:"active_symbol"`
	DataMode        string    `json:"data_mode"`
	Viewers         int       `json:"viewers"`
	StoreOK         bool      `json:"store_ok"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`

	// Liveness check results
	StoreLatencyMs float64   `json:"store_latency_ms"`
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		FeedState: "disconnected",
		StoreOK:   true,
		now:       time.Now,
	}
}

func (h *HealthStatus) SetFeedState(state string, listening bool) {
	h.mu.Lock()
	h.FeedState = state
	h.FeedListening = listening
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFeedMessage(t time.Time) {
	h.mu.Lock()
	h.LastFeedMessage = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarket(open bool) {
	h.mu.Lock()
	h.MarketOpen = open
	h.mu.Unlock()
}

func (h *HealthStatus) SetActive(symbol, mode string) {
	h.mu.Lock()
	h.ActiveSymbol = symbol
	h.DataMode = mode
	h.mu.Unlock()
}

func (h *HealthStatus) SetViewers(n int) {
	h.mu.Lock()
	h.Viewers = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckStore pings the durable symbol store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, store Pinger) {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, store Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(pingCtx, rdb)
				}
				if store != nil {
					h.CheckStore(pingCtx, store)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. A down feed only degrades the
// relay while the market is open.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	feedDown := h.MarketOpen && !h.FeedListening
	redisDown := h.RedisEnabled && !h.RedisConnected
	if feedDown || redisDown || !h.StoreOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StoreOK && feedDown {
		overallStatus = "unhealthy"
	}

	feedAge := ""
	if !h.LastFeedMessage.IsZero() {
		feedAge = h.now().Sub(h.LastFeedMessage).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		FeedState      string  `json:"feed_state"`
		FeedAge        string  `json:"feed_age"`
		MarketOpen     bool    `json:"market_open"`
		ActiveSymbol   string  `json:"active_symbol"`
		DataMode       string  `json:"data_mode"`
		Viewers        int     `json:"viewers"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		RedisEnabled   bool    `json:"redis_enabled"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         h.now().Sub(h.StartedAt).Round(time.Second).String(),
		FeedState:      h.FeedState,
		FeedAge:        feedAge,
		MarketOpen:     h.MarketOpen,
		ActiveSymbol:   h.ActiveSymbol,
		DataMode:       h.DataMode,
		Viewers:        h.Viewers,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer nil means the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
