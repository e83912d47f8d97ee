package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func healthOf(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return rec.Code, body
}

func TestHealthStatus(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(h *HealthStatus)
		wantCode   int
		wantStatus string
	}{
		{"closed market without feed", func(h *HealthStatus) {}, 200, "healthy"},
		{"open market listening", func(h *HealthStatus) {
			h.SetMarket(true)
			h.SetFeedState("listening", true)
		}, 200, "healthy"},
		{"open market feed down", func(h *HealthStatus) {
			h.SetMarket(true)
		}, 503, "degraded"},
		{"redis down", func(h *HealthStatus) {
			h.SetRedisEnabled(true)
			h.RedisConnected = false
		}, 503, "degraded"},
		{"store down and feed down", func(h *HealthStatus) {
			h.SetMarket(true)
			h.CheckStore(context.Background(), pinger{err: errors.New("locked")})
		}, 503, "unhealthy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus()
			tc.setup(h)
			code, body := healthOf(t, h)
			if code != tc.wantCode || body["status"] != tc.wantStatus {
				t.Fatalf("got %d %v, want %d %s", code, body["status"], tc.wantCode, tc.wantStatus)
			}
		})
	}
}

func TestHealthStatus_FeedAge(t *testing.T) {
	h := NewHealthStatus()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.SetLastFeedMessage(now.Add(-1500 * time.Millisecond))
	h.SetActive("TCS", "live")

	_, body := healthOf(t, h)
	if body["feed_age"] != "1.5s" || body["active_symbol"] != "TCS" {
		t.Fatalf("got %v", body)
	}
}

func TestCheckRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := NewHealthStatus()
	h.SetRedisEnabled(true)
	h.CheckRedis(context.Background(), rdb)
	if !h.RedisConnected {
		t.Fatal("redis should be reachable")
	}

	mr.Close()
	h.CheckRedis(context.Background(), rdb)
	if h.RedisConnected {
		t.Fatal("closed redis should be reported")
	}
}

func TestServer_ExposesRelayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FeedMessages.WithLabelValues("tick").Add(3)
	m.ViewersConnected.Set(2)

	srv := httptest.NewServer(NewServer(":0", NewHealthStatus(), reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`relay_feed_messages_total{type="tick"} 3`,
		`relay_viewers_connected 2`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
