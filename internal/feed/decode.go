package feed

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
	"orderflow-relay/pkg/dhan"
)

// Upstream message types.
const (
	TypeTick        = "tick"
	TypeMarketDepth = "market_depth"
	TypeQuote       = "quote"
	TypeError       = "error"
)

type envelope struct {
	Type string `json:"type"`
}

type wireTick struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Side     string          `json:"side"`
}

func (w wireTick) tick(now time.Time) model.Tick {
	qty := w.Quantity.IntPart()
	if qty < 0 {
		qty = 0
	}
	return model.Tick{Price: w.Price, Qty: qty, Side: model.ParseSide(w.Side), TS: now}
}

type wireDepth struct {
	Token     dhan.FlexString    `json:"instrument_token"`
	Bids      []model.PriceLevel `json:"bids"`
	Asks      []model.PriceLevel `json:"asks"`
	LastTrade *wireTick          `json:"last_trade"`
}

type wireQuote struct {
	Token         dhan.FlexString `json:"instrument_token"`
	LTP           decimal.Decimal `json:"ltp"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// subscribeRequest is the only message the client ever sends upstream.
type subscribeRequest struct {
	Action          string `json:"action"`
	InstrumentToken string `json:"instrument_token"`
	FeedType        string `json:"feed_type"`
	Segment         string `json:"segment"`
	ClientID        string `json:"dhanClientId"`
}

func decodeType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &DecodeError{Raw: raw, Err: err}
	}
	return env.Type, nil
}

func decodeInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Raw: raw, Err: err}
	}
	return nil
}
