package dhan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
)

type candleRow struct {
	Timestamp string          `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

type historicalResponse struct {
	Data []candleRow `json:"data"`
}

// Historical fetches candles for symbol at the given period ("1min",
// "5min", ...) between from and to, inclusive by date.
func (c *Client) Historical(ctx context.Context, symbol, period string, from, to time.Time) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("segment", SegmentNSEEquity)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	q.Set("period", period)

	var resp historicalResponse
	if err := c.doRequest(ctx, http.MethodGet, c.rootURL, "api.historical", q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(resp.Data))
	for _, r := range resp.Data {
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("dhan: candle timestamp %q: %w", r.Timestamp, err)
		}
		out = append(out, model.Candle{
			TS:     ts,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return out, nil
}

// parseTimestamp accepts RFC 3339 and "2006-01-02 15:04:05" (IST).
func parseTimestamp(s string) (time.Time, error) {
	if strings.Contains(s, "T") {
		return time.Parse(time.RFC3339, s)
	}
	ist := time.FixedZone("IST", 5*3600+30*60)
	return time.ParseInLocation("2006-01-02 15:04:05", s, ist)
}
