package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orderflow-relay/internal/historical"
	"orderflow-relay/internal/model"
)

// Inbound command types.
const (
	TypePing            = "ping"
	TypeChangeSymbol    = "change_symbol"
	TypeChangeTimeframe = "change_timeframe"
	TypeSearchSymbols   = "search_symbols"
)

// Outbound envelope types.
const (
	TypePong             = "pong"
	TypeSymbolChanged    = "symbol_changed"
	TypeSymbolError      = "symbol_error"
	TypeSearchResults    = "symbol_search_results"
	TypeDepthUpdate      = "depth_update"
	TypeAggregatedTrades = "aggregated_trades"
	TypeQuoteUpdate      = "quote_update"
	TypeMarketStatus     = "market_status"
	TypeOffMarketData    = "off_market_data"
	TypeTimeframeChanged = "timeframe_changed"
	TypeError            = "error"
)

// Data modes reported in symbol_changed.
const (
	DataModeLive       = "live"
	DataModeHistorical = "historical"
)

// ErrUnknownCommand is returned by DecodeCommand for an unrecognised type.
var ErrUnknownCommand = errors.New("unknown command type")

// Command is a decoded viewer request. The set of implementations is closed.
type Command interface {
	CommandType() string
}

type Ping struct{}

type ChangeSymbol struct {
	Symbol string `json:"symbol"`
}

type ChangeTimeframe struct {
	Timeframe string `json:"timeframe"`
}

type SearchSymbols struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (Ping) CommandType() string            { return TypePing }
func (ChangeSymbol) CommandType() string    { return TypeChangeSymbol }
func (ChangeTimeframe) CommandType() string { return TypeChangeTimeframe }
func (SearchSymbols) CommandType() string   { return TypeSearchSymbols }

// DecodeCommand parses one inbound frame.
func DecodeCommand(raw []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch head.Type {
	case TypePing:
		return Ping{}, nil
	case TypeChangeSymbol:
		var c ChangeSymbol
		err = json.Unmarshal(raw, &c)
		if err == nil && c.Symbol == "" {
			err = errors.New("symbol is required")
		}
		cmd = c
	case TypeChangeTimeframe:
		var c ChangeTimeframe
		err = json.Unmarshal(raw, &c)
		if err == nil && c.Timeframe == "" {
			err = errors.New("timeframe is required")
		}
		cmd = c
	case TypeSearchSymbols:
		var c SearchSymbols
		err = json.Unmarshal(raw, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return cmd, nil
}

// Envelope is an outbound message. Encode adds the type discriminator.
type Envelope interface {
	Type() string
}

// Encode marshals e and splices {"type":"..."} in front of its fields.
func Encode(e Envelope) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	typ := e.Type()
	buf := make([]byte, 0, len(body)+len(typ)+12)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, '"')
	if len(body) > 2 {
		buf = append(buf, ',')
		buf = append(buf, body[1:]...)
	} else {
		buf = append(buf, '}')
	}
	return buf, nil
}

// EncodeFrame encodes e into a bus frame.
func EncodeFrame(e Envelope, at time.Time) (model.Frame, error) {
	b, err := Encode(e)
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{Type: e.Type(), Payload: b, At: at}, nil
}

// Unix returns t as fractional unix seconds, the timestamp format used on
// the wire.
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

type Pong struct {
	Timestamp float64 `json:"timestamp"`
}

type SymbolChanged struct {
	Symbol     string             `json:"symbol"`
	SymbolInfo model.SymbolRecord `json:"symbol_info"`
	DataMode   string             `json:"data_mode"`
}

type SymbolError struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
}

type SearchResults struct {
	Query   string               `json:"query"`
	Results []model.SymbolRecord `json:"results"`
}

// TradeView is a trade as shown to viewers.
type TradeView struct {
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Side      string  `json:"side"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type DepthUpdateMsg struct {
	InstrumentToken string             `json:"instrument_token"`
	Symbol          string             `json:"symbol"`
	Bids            []model.PriceLevel `json:"bids"`
	Asks            []model.PriceLevel `json:"asks"`
	LastTrade       *TradeView         `json:"last_trade"`
	Timestamp       float64            `json:"timestamp"`
}

// NewDepthUpdate converts a feed snapshot for symbol.
func NewDepthUpdate(symbol string, d model.DepthUpdate) DepthUpdateMsg {
	m := DepthUpdateMsg{
		InstrumentToken: d.Token,
		Symbol:          symbol,
		Bids:            d.Bids,
		Asks:            d.Asks,
		Timestamp:       Unix(d.TS),
	}
	if m.Bids == nil {
		m.Bids = []model.PriceLevel{}
	}
	if m.Asks == nil {
		m.Asks = []model.PriceLevel{}
	}
	if lt := d.LastTrade; lt != nil {
		m.LastTrade = &TradeView{
			Price:     lt.Price.InexactFloat64(),
			Quantity:  lt.Qty,
			Side:      lt.Side.String(),
			Timestamp: Unix(lt.TS),
		}
	}
	return m
}

// TradeSummary is one price row of aggregated_trades.
type TradeSummary struct {
	model.AggregatedTrade
	Timestamp float64 `json:"timestamp"`
}

type AggregatedTradesMsg struct {
	Data      map[string]TradeSummary `json:"data"`
	Timestamp float64                 `json:"timestamp"`
}

// NewAggregatedTrades keys each summary by its exact price string.
func NewAggregatedTrades(trades []model.AggregatedTrade, windowEnd time.Time) AggregatedTradesMsg {
	ts := Unix(windowEnd)
	data := make(map[string]TradeSummary, len(trades))
	for _, t := range trades {
		data[t.Price.String()] = TradeSummary{AggregatedTrade: t, Timestamp: ts}
	}
	return AggregatedTradesMsg{Data: data, Timestamp: ts}
}

type QuoteUpdateMsg struct {
	InstrumentToken string  `json:"instrument_token"`
	Symbol          string  `json:"symbol"`
	LTP             float64 `json:"ltp"`
	Change          float64 `json:"change"`
	ChangePercent   float64 `json:"change_percent"`
	Volume          int64   `json:"volume"`
	Timestamp       float64 `json:"timestamp"`
}

// NewQuoteUpdate converts a feed quote for symbol.
func NewQuoteUpdate(symbol string, q model.Quote) QuoteUpdateMsg {
	return QuoteUpdateMsg{
		InstrumentToken: q.Token,
		Symbol:          symbol,
		LTP:             q.LTP.InexactFloat64(),
		Change:          q.Change.InexactFloat64(),
		ChangePercent:   q.ChangePercent.InexactFloat64(),
		Volume:          q.Volume,
		Timestamp:       Unix(q.TS),
	}
}

type MarketStatusMsg struct {
	IsMarketHours bool   `json:"is_market_hours"`
	MarketStatus  string `json:"market_status"`
	Message       string `json:"message,omitempty"`
}

// OffMarketData carries a historical snapshot while the market is closed.
type OffMarketData struct {
	*historical.Snapshot
}

type TimeframeChanged struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type ErrorMsg struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

func (Pong) Type() string                { return TypePong }
func (SymbolChanged) Type() string       { return TypeSymbolChanged }
func (SymbolError) Type() string         { return TypeSymbolError }
func (SearchResults) Type() string       { return TypeSearchResults }
func (DepthUpdateMsg) Type() string      { return TypeDepthUpdate }
func (AggregatedTradesMsg) Type() string { return TypeAggregatedTrades }
func (QuoteUpdateMsg) Type() string      { return TypeQuoteUpdate }
func (MarketStatusMsg) Type() string     { return TypeMarketStatus }
func (OffMarketData) Type() string       { return TypeOffMarketData }
func (TimeframeChanged) Type() string    { return TypeTimeframeChanged }
func (ErrorMsg) Type() string            { return TypeError }
