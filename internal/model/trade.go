package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregatedTrade summarises every tick at one price inside one
// aggregation window. TotalVolume == BuyVolume + SellVolume always holds.
type AggregatedTrade struct {
	Price       decimal.Decimal `json:"-"`
	TotalVolume int64           `json:"total_volume"`
	BuyVolume   int64           `json:"buy_volume"`
	SellVolume  int64           `json:"sell_volume"`
	TradeCount  int             `json:"trade_count"`
	WindowEnd   time.Time       `json:"-"`
}

// Add folds one tick into the summary. Ticks without side information are
// split evenly, with the odd unit going to the sell side.
func (a *AggregatedTrade) Add(t Tick) {
	a.TotalVolume += t.Qty
	a.TradeCount++
	switch t.Side {
	case SideBuy:
		a.BuyVolume += t.Qty
	case SideSell:
		a.SellVolume += t.Qty
	default:
		buy := t.Qty / 2
		a.BuyVolume += buy
		a.SellVolume += t.Qty - buy
	}
}
