package relay

import (
	"sync"

	"orderflow-relay/internal/gateway"
)

// Snapshot is a point-in-time copy of the relay state.
type Snapshot struct {
	Symbol    string `json:"symbol"`
	Token     string `json:"token"`
	Mode      string `json:"data_mode"`
	Timeframe string `json:"timeframe"`
}

// RelayContext holds the single active instrument shared by every viewer.
type RelayContext struct {
	mu sync.RWMutex
	s  Snapshot
}

// NewRelayContext starts in historical mode; the first market check picks
// the real mode.
func NewRelayContext(symbol, token, timeframe string) *RelayContext {
	return &RelayContext{s: Snapshot{
		Symbol:    symbol,
		Token:     token,
		Mode:      gateway.DataModeHistorical,
		Timeframe: timeframe,
	}}
}

func (rc *RelayContext) Snapshot() Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.s
}

// SetSymbol switches the active instrument and mode together.
func (rc *RelayContext) SetSymbol(symbol, token, mode string) {
	rc.mu.Lock()
	rc.s.Symbol, rc.s.Token, rc.s.Mode = symbol, token, mode
	rc.mu.Unlock()
}

func (rc *RelayContext) SetMode(mode string) {
	rc.mu.Lock()
	rc.s.Mode = mode
	rc.mu.Unlock()
}

func (rc *RelayContext) SetTimeframe(tf string) {
	rc.mu.Lock()
	rc.s.Timeframe = tf
	rc.mu.Unlock()
}
