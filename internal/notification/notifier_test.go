package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type countingNotifier struct {
	n   int
	err error
}

func (c *countingNotifier) Send(context.Context, Alert) error {
	c.n++
	return c.err
}

func TestMulti_DeliversToAllBackends(t *testing.T) {
	failing := &countingNotifier{err: errors.New("down")}
	ok := &countingNotifier{}
	m := Multi{failing, ok}

	err := m.Send(context.Background(), Alert{Level: AlertCritical, Title: "feed"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if failing.n != 1 || ok.n != 1 {
		t.Fatal("every backend should be tried")
	}
}

func TestBuild(t *testing.T) {
	if got := len(Build(Options{})); got != 1 {
		t.Fatalf("log only: %d backends", got)
	}
	full := Build(Options{WebhookURL: "http://x", TelegramBotToken: "t", TelegramChatID: "c"})
	if len(full) != 3 {
		t.Fatalf("got %d backends, want 3", len(full))
	}
	if got := len(Build(Options{TelegramBotToken: "t"})); got != 1 {
		t.Fatal("telegram needs both token and chat id")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{
		Level:    AlertCritical,
		Title:    "Upstream feed down",
		Message:  "giving up",
		Symbol:   "RELIANCE",
		Token:    "2885633",
		Attempts: 5,
		At:       at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["service"] != "orderflow-relay" || got["level"] != "CRITICAL" || got["title"] != "Upstream feed down" {
		t.Fatalf("payload = %v", got)
	}
	if got["symbol"] != "RELIANCE" || got["token"] != "2885633" || got["attempts"] != float64(5) {
		t.Fatalf("instrument fields = %v", got)
	}
	if got["ts"] != "2024-03-04T04:00:00Z" {
		t.Fatalf("ts = %v", got["ts"])
	}
}

func TestWebhookNotifier_OmitsInstrumentWhenUnset(t *testing.T) {
	n := NewWebhookNotifier("http://unused")
	n.now = func() time.Time { return time.Unix(0, 0) }
	b, err := json.Marshal(n.payload(Alert{Level: AlertInfo, Title: "store"}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "symbol") || strings.Contains(string(b), "attempts") {
		t.Fatalf("unexpected instrument fields: %s", b)
	}
	if !strings.Contains(string(b), `"ts":"1970-01-01T00:00:00Z"`) {
		t.Fatalf("ts not defaulted: %s", b)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("123:abc", "-100")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "feed", Message: "retry 1.5s"}); err != nil {
		t.Fatal(err)
	}
	if path != "/bot123:abc/sendMessage" || body["chat_id"] != "-100" {
		t.Fatalf("path=%s body=%v", path, body)
	}
	if !strings.Contains(body["text"], `retry 1\.5s`) {
		t.Fatalf("text not escaped: %q", body["text"])
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b*c.d"); got != `a\_b\*c\.d` {
		t.Fatalf("got %q", got)
	}
}
