package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Upstream feed
	FeedMessages     *prometheus.CounterVec // labels: type
	FeedDecodeErrors prometheus.Counter
	FeedReconnects   prometheus.Counter
	FeedFatal        prometheus.Counter
	FeedState        prometheus.Gauge       // 0=disconnected 1=connecting 2=subscribed 3=listening
	FeedDrops        *prometheus.CounterVec // labels: kind

	// Aggregation
	TicksEvicted      prometheus.Counter
	AggFlushes        prometheus.Counter
	AggTradesPerFlush prometheus.Histogram
	AggDroppedBatches prometheus.Counter

	// Viewer fan-out
	ViewersConnected    prometheus.Gauge
	BroadcastDeliveries prometheus.Counter
	BroadcastFrames     *prometheus.CounterVec // labels: type
	SessionsPruned      prometheus.Counter
	BroadcastLatency    prometheus.Histogram // feed receipt to hub delivery

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Symbol resolution
	SymbolResolutions    *prometheus.CounterVec // labels: source
	SymbolLookupDur      *prometheus.HistogramVec
	SymbolSourceFailures *prometheus.CounterVec // labels: source

	// Historical data
	HistoricalFetchDur    prometheus.Histogram
	HistoricalFetchErrors prometheus.Counter
	HistoricalCacheHits   prometheus.Counter

	// Redis mirror
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisPublishErrors       prometheus.Counter

	// Coordinator
	MarketState       prometheus.Gauge       // 0=closed, 1=open
	Commands          *prometheus.CounterVec // labels: type
	SymbolChanges     *prometheus.CounterVec // labels: mode
	StaleSymbolsSwept prometheus.Counter
}

// NewMetrics creates every metric and registers it with reg. A nil reg
// means the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	latencyBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	m := &Metrics{
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_feed_messages_total",
			Help: "Upstream feed messages received (by envelope type)",
		}, []string{"type"}),
		FeedDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_feed_decode_errors_total",
			Help: "Upstream frames that could not be decoded",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_feed_reconnects_total",
			Help: "Upstream reconnection attempts",
		}),
		FeedFatal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_feed_fatal_total",
			Help: "Times the feed exhausted its reconnect attempts",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_feed_state",
			Help: "Feed connection state (0=disconnected, 1=connecting, 2=subscribed, 3=listening)",
		}),
		FeedDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_feed_dropped_events_total",
			Help: "Feed events dropped because the consumer channel was full",
		}, []string{"kind"}),

		TicksEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ticks_evicted_total",
			Help: "Ticks evicted from the full aggregation buffer",
		}),
		AggFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_aggregation_flushes_total",
			Help: "Non-empty aggregation windows flushed",
		}),
		AggTradesPerFlush: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_aggregation_price_levels",
			Help:    "Distinct price levels per flushed window",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		}),
		AggDroppedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_aggregation_dropped_batches_total",
			Help: "Aggregated batches dropped because the coordinator was behind",
		}),

		ViewersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_viewers_connected",
			Help: "Currently connected viewer sessions",
		}),
		BroadcastDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_deliveries_total",
			Help: "Messages queued to viewer sessions",
		}),
		BroadcastFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_broadcast_frames_total",
			Help: "Envelopes broadcast (by type)",
		}, []string{"type"}),
		SessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_pruned_total",
			Help: "Viewer sessions removed after a failed send",
		}),
		BroadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_broadcast_latency_seconds",
			Help:    "Latency from feed receipt to viewer fan-out",
			Buckets: latencyBuckets,
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_fanout_drops_total",
			Help: "Frames dropped by the broadcast bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		SymbolResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_symbol_resolutions_total",
			Help: "Symbol resolutions by the source that answered",
		}, []string{"source"}),
		SymbolLookupDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_symbol_lookup_duration_seconds",
			Help:    "Symbol resolution latency by answering source",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		SymbolSourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_symbol_source_failures_total",
			Help: "Lookup failures or timeouts per network source",
		}, []string{"source"}),

		HistoricalFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_historical_fetch_duration_seconds",
			Help:    "Historical candle fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		HistoricalFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_historical_fetch_errors_total",
			Help: "Failed historical candle fetches",
		}),
		HistoricalCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_historical_cache_hits_total",
			Help: "Historical requests served from cache",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_redis_publish_errors_total",
			Help: "Mirror publishes that failed or were rejected by the breaker",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_viewer_commands_total",
			Help: "Viewer commands handled (by type)",
		}, []string{"type"}),
		SymbolChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_symbol_changes_total",
			Help: "Active symbol changes (by resulting data mode)",
		}, []string{"mode"}),
		StaleSymbolsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_stale_symbols_swept_total",
			Help: "Symbol records deactivated by the stale sweep",
		}),
	}

	reg.MustRegister(
		m.FeedMessages,
		m.FeedDecodeErrors,
		m.FeedReconnects,
		m.FeedFatal,
		m.FeedState,
		m.FeedDrops,
		m.TicksEvicted,
		m.AggFlushes,
		m.AggTradesPerFlush,
		m.AggDroppedBatches,
		m.ViewersConnected,
		m.BroadcastDeliveries,
		m.BroadcastFrames,
		m.SessionsPruned,
		m.BroadcastLatency,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.SymbolResolutions,
		m.SymbolLookupDur,
		m.SymbolSourceFailures,
		m.HistoricalFetchDur,
		m.HistoricalFetchErrors,
		m.HistoricalCacheHits,
		m.RedisCircuitBreakerState,
		m.RedisPublishErrors,
		m.MarketState,
		m.Commands,
		m.SymbolChanges,
		m.StaleSymbolsSwept,
	)

	return m
}
