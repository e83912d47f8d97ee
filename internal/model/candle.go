package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar from the historical chart API.
type Candle struct {
	TS     time.Time       `json:"timestamp"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Up reports whether the bar closed at or above its open.
func (c *Candle) Up() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}
