package dhan

import (
	"context"
	"net/http"
	"net/url"
)

// SymbolInfo is the subset of a quote response needed to subscribe.
type SymbolInfo struct {
	InstrumentToken FlexString `json:"instrument_token"`
	CompanyName     string     `json:"companyName"`
	Industry        string     `json:"industry"`
	MarketCap       FlexString `json:"marketCap"`
}

type quoteResponse struct {
	Data []SymbolInfo `json:"data"`
}

// LookupSymbol resolves symbol to its instrument token via the quote API.
// Returns ErrNotFound when the response carries no usable token.
func (c *Client) LookupSymbol(ctx context.Context, symbol string) (SymbolInfo, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("segment", SegmentNSEEquity)

	var resp quoteResponse
	if err := c.doRequest(ctx, http.MethodGet, c.rootURL, "api.quote", q, nil, &resp); err != nil {
		return SymbolInfo{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].InstrumentToken == "" {
		return SymbolInfo{}, ErrNotFound
	}
	return resp.Data[0], nil
}
