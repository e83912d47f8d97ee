package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"orderflow-relay/internal/model"
	"orderflow-relay/pkg/dhan"
)

// PrimarySource looks symbols up through the broker quote API.
type PrimarySource struct {
	Client *dhan.Client
}

func (PrimarySource) Name() string { return "primary" }

func (s PrimarySource) Lookup(ctx context.Context, symbol string) (model.SymbolRecord, error) {
	info, err := s.Client.LookupSymbol(ctx, symbol)
	if err != nil {
		return model.SymbolRecord{}, err
	}
	return model.SymbolRecord{
		Symbol:      symbol,
		Token:       info.InstrumentToken.String(),
		DisplayName: firstNonEmpty(info.CompanyName, symbol),
		Sector:      info.Industry,
		MarketCap:   info.MarketCap.String(),
	}, nil
}

// SecondarySource looks symbols up through the exchange's public
// quote-equity endpoint.
type SecondarySource struct {
	BaseURL    string // e.g. https://www.nseindia.com
	HTTPClient *http.Client
}

func (SecondarySource) Name() string { return "secondary" }

type quoteEquity struct {
	Info *struct {
		Token       dhan.FlexString `json:"token"`
		CompanyName string          `json:"companyName"`
		Industry    string          `json:"industry"`
		MarketCap   dhan.FlexString `json:"marketCap"`
	} `json:"info"`
}

var errNoInfo = errors.New("quote-equity: no info block")

func (s SecondarySource) Lookup(ctx context.Context, symbol string) (model.SymbolRecord, error) {
	u := strings.TrimRight(s.BaseURL, "/") + "/api/quote-equity?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.SymbolRecord{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (orderflow-relay)")

	hc := s.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return model.SymbolRecord{}, fmt.Errorf("quote-equity %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.SymbolRecord{}, fmt.Errorf("quote-equity %s: http %d", symbol, resp.StatusCode)
	}

	var body quoteEquity
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return model.SymbolRecord{}, fmt.Errorf("quote-equity %s: decode: %w", symbol, err)
	}
	if body.Info == nil {
		return model.SymbolRecord{}, errNoInfo
	}
	return model.SymbolRecord{
		Symbol:      symbol,
		Token:       body.Info.Token.String(),
		DisplayName: firstNonEmpty(body.Info.CompanyName, symbol),
		Sector:      body.Info.Industry,
		MarketCap:   body.Info.MarketCap.String(),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
