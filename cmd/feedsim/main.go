// cmd/feedsim: simulated upstream market-data feed.
// Speaks the same WebSocket protocol as the broker feed so the relay can run
// without real credentials: point FEED_WS_URL at ws://localhost:9001/ws.
//
// Each connection subscribes to one instrument with
//
//	{"action":"subscribe","instrument_token":"2885633","feed_type":"full_depth",...}
//
// and then receives tick, market_depth and quote messages for that token.
//
// Config (env vars):
//
//	FEEDSIM_ADDR         listen address (default: ":9001")
//	FEEDSIM_INTERVAL_MS  tick interval in milliseconds (default: "100")
//	FEEDSIM_GARBAGE_PCT  percent of ticks replaced by a malformed frame (default: "0")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
)

var defaultPrices = map[string]float64{
	"2885633": 2450.00, // RELIANCE
	"2953217": 3900.00, // TCS
	"341249":  1650.00, // HDFCBANK
	"408065":  1500.00, // INFY
}

type subscribeMsg struct {
	Action          string `json:"action"`
	InstrumentToken string `json:"instrument_token"`
}

type tickMsg struct {
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Side     string          `json:"side"`
}

type depthMsg struct {
	Type      string             `json:"type"`
	Token     string             `json:"instrument_token"`
	Bids      []model.PriceLevel `json:"bids"`
	Asks      []model.PriceLevel `json:"asks"`
	LastTrade *tickMsg           `json:"last_trade,omitempty"`
}

type quoteMsg struct {
	Type          string          `json:"type"`
	Token         string          `json:"instrument_token"`
	LTP           decimal.Decimal `json:"ltp"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
}

// instrument holds the simulated state for one subscribed token.
type instrument struct {
	token  string
	open   decimal.Decimal
	price  decimal.Decimal
	volume int64
}

func newInstrument(token string) *instrument {
	p, ok := defaultPrices[token]
	if !ok {
		p = 1000.00
	}
	d := decimal.NewFromFloat(p)
	return &instrument{token: token, open: d, price: d}
}

// step applies a small random walk and returns the traded tick.
func (in *instrument) step(rng *rand.Rand) tickMsg {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := in.price.Add(in.price.Mul(decimal.NewFromFloat(pct))).Round(1)
	if next.LessThan(decimal.NewFromFloat(0.1)) {
		next = decimal.NewFromFloat(0.1)
	}
	side := "buy"
	if next.LessThan(in.price) || (next.Equal(in.price) && rng.Intn(2) == 0) {
		side = "sell"
	}
	in.price = next
	qty := int64(rng.Intn(100) + 1)
	in.volume += qty
	return tickMsg{Type: "tick", Price: next, Quantity: qty, Side: side}
}

func (in *instrument) depth(last tickMsg) depthMsg {
	tick := decimal.NewFromFloat(0.05)
	bids := make([]model.PriceLevel, 0, 5)
	asks := make([]model.PriceLevel, 0, 5)
	for i := 1; i <= 5; i++ {
		off := tick.Mul(decimal.NewFromInt(int64(i)))
		bids = append(bids, model.PriceLevel{Price: in.price.Sub(off), Qty: int64(100 * i)})
		asks = append(asks, model.PriceLevel{Price: in.price.Add(off), Qty: int64(80 * i)})
	}
	return depthMsg{Type: "market_depth", Token: in.token, Bids: bids, Asks: asks, LastTrade: &last}
}

func (in *instrument) quote() quoteMsg {
	change := in.price.Sub(in.open)
	return quoteMsg{
		Type:          "quote",
		Token:         in.token,
		LTP:           in.price,
		Change:        change,
		ChangePercent: change.Div(in.open).Mul(decimal.NewFromInt(100)).Round(2),
		Volume:        in.volume,
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type session struct {
	conn *websocket.Conn

	mu   sync.Mutex
	inst *instrument
}

func (s *session) subscribe(token string) {
	s.mu.Lock()
	s.inst = newInstrument(token)
	s.mu.Unlock()
}

func (s *session) current() *instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst
}

func wsHandler(interval time.Duration, garbagePct int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)
		s := &session{conn: conn}
		done := make(chan struct{})
		defer func() {
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		go func() {
			defer close(done)
			for {
				var msg subscribeMsg
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				if msg.Action == "subscribe" && msg.InstrumentToken != "" {
					log.Printf("[feedsim] %s subscribed to %s", r.RemoteAddr, msg.InstrumentToken)
					s.subscribe(msg.InstrumentToken)
				}
			}
		}()

		generate(s, done, interval, garbagePct)
	}
}

// generate pushes ticks every interval, plus depth and a quote every tenth.
func generate(s *session, done <-chan struct{}, interval time.Duration, garbagePct int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		inst := s.current()
		if inst == nil {
			continue
		}
		n++

		if garbagePct > 0 && rng.Intn(100) < garbagePct {
			if write(s.conn, []byte(`{"type":"tick","price":`)) != nil {
				return
			}
			continue
		}

		t := inst.step(rng)
		out := []any{t}
		if n%10 == 0 {
			out = append(out, inst.depth(t), inst.quote())
		}
		for _, m := range out {
			b, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if write(s.conn, b) != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, b []byte) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting simulated feed...")

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 100)
	garbagePct := envIntOrDefault("FEEDSIM_GARBAGE_PCT", 0)

	http.HandleFunc("/ws", wsHandler(time.Duration(intervalMs)*time.Millisecond, garbagePct))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s (WebSocket: ws://localhost%s/ws, interval %dms)", addr, addr, intervalMs)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
