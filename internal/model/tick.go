package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of an executed trade.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// ParseSide maps the feed's side field onto a Side. Anything it does not
// recognise is SideUnknown.
func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "bid":
		return SideBuy
	case "sell", "s", "ask", "offer":
		return SideSell
	default:
		return SideUnknown
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Tick is one executed trade received from the upstream feed.
// It is consumed once by the aggregator and then discarded.
type Tick struct {
	Price decimal.Decimal `json:"price"`
	Qty   int64           `json:"quantity"`
	Side  Side            `json:"-"`
	TS    time.Time       `json:"timestamp"`
}
