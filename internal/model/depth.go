package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one rung of the order book. On the wire it is the
// two-element array [price, quantity].
type PriceLevel struct {
	Price decimal.Decimal
	Qty   int64
}

func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price.InexactFloat64(), float64(l.Qty)})
}

func (l *PriceLevel) UnmarshalJSON(b []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level: want 2 elements, got %d", len(pair))
	}
	p, err := decimal.NewFromString(pair[0].String())
	if err != nil {
		return fmt.Errorf("price level price: %w", err)
	}
	q, err := pair[1].Float64()
	if err != nil {
		return fmt.Errorf("price level qty: %w", err)
	}
	l.Price = p
	l.Qty = int64(q)
	return nil
}

// DepthUpdate is a full order-book snapshot for one instrument. Bids and
// asks are best-first. A new snapshot replaces the previous one.
type DepthUpdate struct {
	Token     string       `json:"instrument_token"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	LastTrade *Tick        `json:"last_trade,omitempty"`
	TS        time.Time    `json:"-"`
}

// Quote is the top-line price summary pushed by the feed.
type Quote struct {
	Token         string          `json:"instrument_token"`
	LTP           decimal.Decimal `json:"ltp"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	TS            time.Time       `json:"-"`
}
