package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderflow-relay/internal/gateway"
	"orderflow-relay/internal/historical"
	"orderflow-relay/internal/model"
	"orderflow-relay/internal/notification"
	"orderflow-relay/internal/symbols"
)

type fakeResolver struct {
	table map[string]model.SymbolRecord
	err   error
}

func (r *fakeResolver) Resolve(_ context.Context, sym string) (model.SymbolRecord, error) {
	if r.err != nil {
		return model.SymbolRecord{}, r.err
	}
	if rec, ok := r.table[sym]; ok {
		return rec, nil
	}
	return model.SymbolRecord{}, &symbols.ResolutionError{Symbol: sym}
}

func (r *fakeResolver) Search(query string, limit int) []model.SymbolRecord {
	var out []model.SymbolRecord
	for _, rec := range r.table {
		if rec.Symbol == query && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out
}

type fakeFeed struct {
	events chan model.Event
	fatal  chan error

	// hold, when set, blocks Resubscribe(holdSymbol) after signalling
	// entered until release is closed.
	holdSymbol string
	entered    chan struct{}
	release    chan struct{}

	mu         sync.Mutex
	subs       []string
	reconnects int
	subErr     error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		events: make(chan model.Event, 16),
		fatal:  make(chan error, 1),
	}
}

func (f *fakeFeed) Resubscribe(symbol, token string) error {
	if f.holdSymbol != "" && symbol == f.holdSymbol {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, symbol+":"+token)
	return f.subErr
}

func (f *fakeFeed) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeFeed) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

func (f *fakeFeed) Events() <-chan model.Event { return f.events }
func (f *fakeFeed) Fatal() <-chan error        { return f.fatal }

type fakeHistorical struct {
	err   error
	calls atomic.Int32
}

func (h *fakeHistorical) OffMarketData(_ context.Context, symbol, tf string) (*historical.Snapshot, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	return &historical.Snapshot{Symbol: symbol, Timeframe: tf, MarketStatus: "closed"}, nil
}

type fakeCalendar struct{ open atomic.Bool }

func (c *fakeCalendar) IsMarketOpen(time.Time) bool { return c.open.Load() }

type fakeNotifier struct{ alerts chan notification.Alert }

func (n *fakeNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts <- a
	return nil
}

type recSession struct {
	mu  sync.Mutex
	got [][]byte
}

func (s *recSession) ID() string { return "viewer" }

func (s *recSession) Send(msg []byte) error {
	s.mu.Lock()
	s.got = append(s.got, msg)
	s.mu.Unlock()
	return nil
}

// types returns the envelope type of every message received so far.
func (s *recSession) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, m := range s.got {
		out[i] = typeOf(m)
	}
	return out
}

func (s *recSession) last(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		t.Fatal("no messages received")
	}
	var m map[string]any
	if err := json.Unmarshal(s.got[len(s.got)-1], &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return m
}

func typeOf(msg []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	json.Unmarshal(msg, &head)
	return head.Type
}

type harness struct {
	coord    *Coordinator
	feed     *fakeFeed
	hist     *fakeHistorical
	cal      *fakeCalendar
	hub      *gateway.Hub
	bc       *gateway.Broadcaster
	notifier *fakeNotifier
	frames   chan model.Frame
	viewer   *recSession
}

func newHarness(open bool) *harness {
	h := &harness{
		feed:     newFakeFeed(),
		hist:     &fakeHistorical{},
		cal:      &fakeCalendar{},
		hub:      gateway.NewHub(nil),
		notifier: &fakeNotifier{alerts: make(chan notification.Alert, 1)},
		frames:   make(chan model.Frame, 64),
		viewer:   &recSession{},
	}
	h.cal.open.Store(open)
	h.bc = gateway.NewBroadcaster(h.hub)
	h.hub.Register(h.viewer)

	res := &fakeResolver{table: map[string]model.SymbolRecord{
		"RELIANCE": {Symbol: "RELIANCE", Token: "2885633", Active: true},
		"TCS":      {Symbol: "TCS", Token: "2953217", Active: true},
	}}
	h.coord = New(Deps{
		Resolver:   res,
		Feed:       h.feed,
		Historical: h.hist,
		Calendar:   h.cal,
		Hub:        h.hub,
		Retained:   h.bc,
		Notifier:   h.notifier,
	}, h.frames, Config{Symbol: "RELIANCE", Token: "2885633", WatchInterval: 20 * time.Millisecond}, nil)
	return h
}

// nextFrame waits for the next broadcast frame of type typ, skipping others.
func (h *harness) nextFrame(t *testing.T, typ string) model.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-h.frames:
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame", typ)
		}
	}
}

var errBoom = errors.New("boom")
