package historical

import (
	"time"

	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
)

const (
	depthLevels     = 20
	maxTicksPerBar  = 50
	volumePerTick   = 100
	tickSpacing     = 100 * time.Millisecond
	dominantPercent = 70
)

var spreadRatio = decimal.New(1, -3) // 0.1%

// CandleView is a candle as sent to viewers.
type CandleView struct {
	Timestamp float64    `json:"timestamp"`
	Open      float64    `json:"open"`
	High      float64    `json:"high"`
	Low       float64    `json:"low"`
	Close     float64    `json:"close"`
	Volume    int64      `json:"volume"`
	OHLC      [4]float64 `json:"ohlc"`
}

// VolumeLevel is the estimated buy/sell split of one candle's volume at its
// close price.
type VolumeLevel struct {
	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	BuyVolume  int64   `json:"buy_volume"`
	SellVolume int64   `json:"sell_volume"`
	Timestamp  float64 `json:"timestamp"`
}

// FlowTick is one simulated trade.
type FlowTick struct {
	Type      string  `json:"type,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Side      string  `json:"side"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Depth is a simulated order book.
type Depth struct {
	Bids      []model.PriceLevel `json:"bids"`
	Asks      []model.PriceLevel `json:"asks"`
	LastTrade *FlowTick          `json:"last_trade,omitempty"`
}

// Snapshot is everything a viewer needs to render a closed market.
type Snapshot struct {
	Symbol        string        `json:"symbol"`
	Timeframe     string        `json:"timeframe"`
	Candles       []CandleView  `json:"candles"`
	VolumeProfile []VolumeLevel `json:"volume_profile"`
	OrderFlow     []FlowTick    `json:"order_flow"`
	MarketDepth   Depth         `json:"market_depth"`
	Timestamp     float64       `json:"timestamp"`
	MarketStatus  string        `json:"market_status"`
}

// BuildSnapshot derives a snapshot from candles. candles must not be empty.
func BuildSnapshot(symbol, tf string, candles []model.Candle, now time.Time) *Snapshot {
	views := make([]CandleView, len(candles))
	for i, c := range candles {
		o, h, l, cl := c.Open.InexactFloat64(), c.High.InexactFloat64(), c.Low.InexactFloat64(), c.Close.InexactFloat64()
		views[i] = CandleView{
			Timestamp: unixSeconds(c.TS),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     cl,
			Volume:    c.Volume,
			OHLC:      [4]float64{o, h, l, cl},
		}
	}
	return &Snapshot{
		Symbol:        symbol,
		Timeframe:     tf,
		Candles:       views,
		VolumeProfile: VolumeProfile(candles),
		OrderFlow:     OrderFlow(candles),
		MarketDepth:   SimulatedDepth(candles[len(candles)-1]),
		Timestamp:     unixSeconds(now),
		MarketStatus:  "closed",
	}
}

// VolumeProfile splits each candle's volume 70/30 towards the direction it
// closed in. Flat candles split evenly.
func VolumeProfile(candles []model.Candle) []VolumeLevel {
	out := make([]VolumeLevel, len(candles))
	for i, c := range candles {
		var buy, sell int64
		switch c.Close.Cmp(c.Open) {
		case 1:
			buy = c.Volume * dominantPercent / 100
			sell = c.Volume - buy
		case -1:
			sell = c.Volume * dominantPercent / 100
			buy = c.Volume - sell
		default:
			buy = c.Volume / 2
			sell = c.Volume - buy
		}
		out[i] = VolumeLevel{
			Price:      c.Close.InexactFloat64(),
			Volume:     c.Volume,
			BuyVolume:  buy,
			SellVolume: sell,
			Timestamp:  unixSeconds(c.TS),
		}
	}
	return out
}

// OrderFlow spreads up to 50 synthetic trades across each candle's range,
// one per 100 units of volume. Two in three trades follow the candle's
// direction.
func OrderFlow(candles []model.Candle) []FlowTick {
	var out []FlowTick
	for _, c := range candles {
		n := c.Volume / volumePerTick
		if n > maxTicksPerBar {
			n = maxTicksPerBar
		}
		if n <= 0 {
			continue
		}
		rng := c.High.Sub(c.Low)
		up := c.Close.GreaterThan(c.Open)
		qty := c.Volume / n
		if qty < 1 {
			qty = 1
		}
		for i := int64(0); i < n; i++ {
			price := c.Close
			if rng.IsPositive() {
				price = c.Low.Add(rng.Mul(decimal.NewFromInt(i)).Div(decimal.NewFromInt(n)))
			}
			side := model.SideSell
			if up == (i%3 != 0) {
				side = model.SideBuy
			}
			out = append(out, FlowTick{
				Type:      "tick",
				Price:     price.Round(2).InexactFloat64(),
				Quantity:  qty,
				Side:      side.String(),
				Timestamp: unixSeconds(c.TS.Add(time.Duration(i) * tickSpacing)),
			})
		}
	}
	return out
}

// SimulatedDepth lays 20 bid and ask levels around the candle's close,
// 0.1% of price apart, thinning out away from the touch.
func SimulatedDepth(last model.Candle) Depth {
	price := last.Close
	spread := price.Mul(spreadRatio)
	bids := make([]model.PriceLevel, depthLevels)
	asks := make([]model.PriceLevel, depthLevels)
	for i := 0; i < depthLevels; i++ {
		off := spread.Mul(decimal.NewFromInt(int64(i + 1)))
		qty := int64(1000 / (i + 1))
		if qty < 100 {
			qty = 100
		}
		bids[i] = model.PriceLevel{Price: price.Sub(off).Round(2), Qty: qty}
		asks[i] = model.PriceLevel{Price: price.Add(off).Round(2), Qty: qty}
	}
	side := model.SideSell
	if last.Close.GreaterThan(last.Open) {
		side = model.SideBuy
	}
	return Depth{
		Bids: bids,
		Asks: asks,
		LastTrade: &FlowTick{
			Price:    price.InexactFloat64(),
			Quantity: last.Volume,
			Side:     side.String(),
		},
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
