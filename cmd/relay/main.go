package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"orderflow-relay/config"
	"orderflow-relay/internal/api"
	"orderflow-relay/internal/feed"
	"orderflow-relay/internal/gateway"
	"orderflow-relay/internal/historical"
	"orderflow-relay/internal/logger"
	"orderflow-relay/internal/marketdata/agg"
	"orderflow-relay/internal/marketdata/bus"
	"orderflow-relay/internal/markethours"
	"orderflow-relay/internal/metrics"
	"orderflow-relay/internal/model"
	"orderflow-relay/internal/notification"
	"orderflow-relay/internal/relay"
	pgstore "orderflow-relay/internal/store/postgres"
	redisstore "orderflow-relay/internal/store/redis"
	sqlitestore "orderflow-relay/internal/store/sqlite"
	"orderflow-relay/internal/symbols"
	"orderflow-relay/pkg/dhan"
)

const frameBuffer = 1024

// symbolStore is the durable store plus a liveness check.
type symbolStore interface {
	model.SymbolStore
	metrics.Pinger
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[relay] starting...")

	cfg := config.Load()
	slogger := logger.Init("orderflow-relay", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Durable symbol store ----
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[relay] symbol store init failed: %v", err)
	}
	defer store.Close()
	log.Println("[relay] symbol store ready")

	// ---- Broker client & feed credentials ----
	broker := dhan.New(dhan.Config{
		AccessToken: cfg.DhanAccessToken,
		ClientID:    cfg.DhanClientID,
		RootURL:     cfg.DhanAPIURL,
		AuthURL:     cfg.DhanAuthURL,
	})
	var tokens feed.TokenSource = feed.StaticToken(cfg.DhanAccessToken)
	if cfg.UseTOTP() {
		login := &feed.TOTPLogin{Login: broker, PIN: cfg.DhanPIN, Secret: cfg.DhanTOTPSecret}
		// The first login also authorises the broker's REST calls.
		if _, err := login.Token(ctx); err != nil {
			log.Printf("[relay] WARNING: TOTP login failed: %v (lookups will use the secondary source)", err)
		}
		tokens = login
	}

	// ---- Symbol resolver ----
	resolver := symbols.New(store, []symbols.Source{
		symbols.PrimarySource{Client: broker},
		symbols.SecondarySource{
			BaseURL:    cfg.SecondaryLookupURL,
			HTTPClient: &http.Client{Timeout: cfg.LookupTimeout},
		},
	}, symbols.Config{
		LookupTimeout: cfg.LookupTimeout,
		Retention:     cfg.StaleAfter,
		Seed:          symbols.DefaultSymbols,
	}, slogger)
	resolver.OnResolve = func(source string, d time.Duration) {
		prom.SymbolResolutions.WithLabelValues(source).Inc()
		prom.SymbolLookupDur.WithLabelValues(source).Observe(d.Seconds())
	}
	resolver.OnSourceFailed = func(source string) {
		prom.SymbolSourceFailures.WithLabelValues(source).Inc()
	}
	resolver.OnSwept = func(n int) {
		prom.StaleSymbolsSwept.Add(float64(n))
	}
	if err := resolver.Load(ctx); err != nil {
		log.Fatalf("[relay] symbol cache warm-up failed: %v", err)
	}
	log.Printf("[relay] %d symbols cached", resolver.Count())

	initial, err := resolver.Resolve(ctx, cfg.DefaultSymbol)
	if err != nil {
		log.Fatalf("[relay] default symbol %s: %v", cfg.DefaultSymbol, err)
	}

	// ---- Historical provider ----
	hist := historical.New(broker, historical.Config{CacheTTL: cfg.HistoricalCacheTTL}, slogger)
	hist.OnFetch = func(d time.Duration, err error) {
		prom.HistoricalFetchDur.Observe(d.Seconds())
		if err != nil {
			prom.HistoricalFetchErrors.Inc()
		}
	}
	hist.OnCacheHit = func() { prom.HistoricalCacheHits.Inc() }

	// ---- Upstream feed ----
	feedClient := feed.New(feed.Config{
		URL:         cfg.FeedURL,
		ClientID:    cfg.DhanClientID,
		BackoffUnit: cfg.BackoffUnit,
	}, tokens, slogger)
	feedClient.OnMessage = func(msgType string) {
		prom.FeedMessages.WithLabelValues(msgType).Inc()
		health.SetLastFeedMessage(time.Now())
	}
	feedClient.OnDecodeError = func() { prom.FeedDecodeErrors.Inc() }
	feedClient.OnReconnect = func(int) { prom.FeedReconnects.Inc() }
	feedClient.OnDrop = func(kind string) { prom.FeedDrops.WithLabelValues(kind).Inc() }
	feedClient.OnState = func(s feed.State) {
		prom.FeedState.Set(float64(s))
		health.SetFeedState(s.String(), s == feed.Listening)
	}

	// ---- Aggregator ----
	aggregator := agg.New(slogger)
	aggregator.OnEvicted = func() { prom.TicksEvicted.Inc() }
	aggregator.OnFlush = func(n int) {
		prom.AggFlushes.Inc()
		prom.AggTradesPerFlush.Observe(float64(n))
	}
	aggregator.OnDroppedBatch = func() { prom.AggDroppedBatches.Inc() }

	// ---- Viewer hub ----
	hub := gateway.NewHub(slogger)
	hub.OnPrune = func() { prom.SessionsPruned.Inc() }
	hub.OnDelivered = func(n int) { prom.BroadcastDeliveries.Add(float64(n)) }
	hub.OnCount = func(n int) {
		prom.ViewersConnected.Set(float64(n))
		health.SetViewers(n)
	}
	broadcaster := gateway.NewBroadcaster(hub)
	broadcaster.OnBroadcast = func(msgType string, _ int) {
		prom.BroadcastFrames.WithLabelValues(msgType).Inc()
	}
	broadcaster.OnLatency = func(d time.Duration) {
		prom.BroadcastLatency.Observe(d.Seconds())
	}

	// ---- Broadcast bus: hub + optional redis mirror ----
	frames := make(chan model.Frame, frameBuffer)
	fanout := bus.New[model.Frame](frameBuffer)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	hubIn := fanout.Subscribe()

	var mirror *redisstore.Publisher
	var mirrorIn <-chan model.Frame
	if cfg.RedisAddr != "" {
		mirror, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[relay] WARNING: redis init failed: %v (continuing without mirror)", err)
			mirror = nil
		} else {
			mirror.OnError = func(error) { prom.RedisPublishErrors.Inc() }
			mirror.OnBreakerState = func(to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
			}
			mirrorIn = fanout.Subscribe()
			health.SetRedisEnabled(true)
			defer mirror.Close()
		}
	}

	// ---- Coordinator ----
	calendar := markethours.Calendar{IgnoreHolidays: cfg.IgnoreHolidays}
	notifier := notification.Build(notification.Options{
		WebhookURL:       cfg.AlertWebhookURL,
		TelegramBotToken: cfg.TelegramBotToken,
		TelegramChatID:   cfg.TelegramChatID,
	})
	coord := relay.New(relay.Deps{
		Resolver:   resolver,
		Feed:       feedClient,
		Historical: hist,
		Calendar:   calendar,
		Hub:        hub,
		Retained:   broadcaster,
		Aggregator: aggregator,
		Notifier:   notifier,
	}, frames, relay.Config{Symbol: initial.Symbol, Token: initial.Token}, slogger)
	coord.OnCommand = func(t string) { prom.Commands.WithLabelValues(t).Inc() }
	coord.OnSymbolChange = func(mode string) { prom.SymbolChanges.WithLabelValues(mode).Inc() }
	coord.OnFatal = func() { prom.FeedFatal.Inc() }

	// ---- HTTP surface ----
	router := api.NewRouter(api.Deps{
		Symbols:    resolver,
		Audit:      store,
		Historical: hist,
		Calendar:   calendar,
		Relay:      coord,
		Feed:       feedClient,
		Viewers:    hub,
		WS:         gateway.ServeWS(hub, coord, slogger),
		Frames:     frames,
	}, slogger)
	httpSrv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if mirror != nil {
		health.StartLivenessChecker(ctx, mirror.Client(), store, 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store, 10*time.Second)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fanout.Run(gctx, frames)
		return nil
	})
	g.Go(func() error {
		broadcaster.Run(gctx, hubIn)
		return nil
	})
	if mirror != nil {
		g.Go(func() error {
			mirror.Run(gctx, mirrorIn)
			return nil
		})
	}
	g.Go(func() error { return feedClient.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error {
		resolver.RunSweeper(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		watchSaturation(gctx, fanout, prom)
		return nil
	})
	g.Go(func() error {
		watchRelayState(gctx, coord, calendar, health, prom)
		return nil
	})
	g.Go(func() error {
		log.Printf("[relay] listening on %s (symbol %s, token %s)", cfg.RelayAddr, initial.Symbol, initial.Token)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[relay] shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Shutdown()
		metricsSrv.Stop(shutdownCtx)
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[relay] stopped with error: %v", err)
	}
	log.Println("[relay] shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (symbolStore, error) {
	if cfg.DatabaseURL != "" {
		s, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// watchSaturation reports how full each bus subscriber channel is.
func watchSaturation(ctx context.Context, fanout *bus.FanOut[model.Frame], prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
				}
			}
		}
	}
}

// watchRelayState mirrors the active symbol and market state into health.
func watchRelayState(ctx context.Context, coord *relay.Coordinator, cal markethours.Calendar, health *metrics.HealthStatus, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		cur := coord.Current()
		open := cal.IsMarketOpen(time.Now())
		health.SetActive(cur.Symbol, cur.Mode)
		health.SetMarket(open)
		if open {
			prom.MarketState.Set(1)
		} else {
			prom.MarketState.Set(0)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
