package gateway

import (
	"errors"
	"sync"
	"testing"
)

type fakeSession struct {
	id   string
	fail bool

	mu     sync.Mutex
	got    [][]byte
	closed bool
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Send(msg []byte) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, m := range f.got {
		out[i] = string(m)
	}
	return out
}

func TestHub_BroadcastPrunesFailedSessions(t *testing.T) {
	h := NewHub(nil)
	s1 := &fakeSession{id: "1"}
	s2 := &fakeSession{id: "2", fail: true}
	s3 := &fakeSession{id: "3"}
	for _, s := range []Session{s1, s2, s3} {
		h.Register(s)
	}
	pruned := 0
	h.OnPrune = func() { pruned++ }

	if n := h.Broadcast([]byte("hello")); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if h.Count() != 2 {
		t.Fatalf("count = %d, want 2", h.Count())
	}
	if pruned != 1 || !s2.closed {
		t.Fatalf("session 2 should be pruned and closed (pruned=%d closed=%v)", pruned, s2.closed)
	}
	for _, s := range []*fakeSession{s1, s3} {
		if got := s.messages(); len(got) != 1 || got[0] != "hello" {
			t.Fatalf("session %s got %v", s.id, got)
		}
	}

	h.Broadcast([]byte("again"))
	if h.Count() != 2 || len(s1.messages()) != 2 {
		t.Fatal("healthy sessions should keep receiving")
	}
}

func TestHub_PerSessionOrder(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSession{id: "a"}
	h.Register(s)
	for _, m := range []string{"1", "2", "3", "4"} {
		h.Broadcast([]byte(m))
	}
	got := s.messages()
	for i, want := range []string{"1", "2", "3", "4"} {
		if got[i] != want {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestHub_SendFailureReturnsDeliveryError(t *testing.T) {
	h := NewHub(nil)
	s := &fakeSession{id: "x", fail: true}
	h.Register(s)

	err := h.Send(s, []byte("pong"))
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.SessionID != "x" {
		t.Fatalf("expected DeliveryError for x, got %v", err)
	}
	if h.Count() != 0 {
		t.Fatal("failed session should be removed")
	}
	if h.Unregister(s) {
		t.Fatal("second removal should report false")
	}
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(nil)
	a, b := &fakeSession{id: "a"}, &fakeSession{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Shutdown()
	if h.Count() != 0 || !a.closed || !b.closed {
		t.Fatal("shutdown should close and drop every session")
	}
}

func TestBroadcaster_RetainsLatest(t *testing.T) {
	h := NewHub(nil)
	b := NewBroadcaster(h)
	s := &fakeSession{id: "a"}
	h.Register(s)

	b.Broadcast(frameOf(TypeDepthUpdate, "d1"))
	b.Broadcast(frameOf(TypeDepthUpdate, "d2"))
	b.Broadcast(frameOf(TypeAggregatedTrades, "t1"))

	latest := b.Latest(TypeDepthUpdate, TypeAggregatedTrades, TypeQuoteUpdate)
	if len(latest) != 1 || string(latest[0]) != "d2" {
		t.Fatalf("latest = %q", latest)
	}
	b.Forget(TypeDepthUpdate)
	if len(b.Latest(TypeDepthUpdate)) != 0 {
		t.Fatal("forget should drop retained payload")
	}
	if len(s.messages()) != 3 {
		t.Fatalf("session got %d messages, want 3", len(s.messages()))
	}
}
