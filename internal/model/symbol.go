package model

import "time"

// SymbolRecord maps a human ticker onto the exchange token used for feed
// subscriptions.
type SymbolRecord struct {
	Symbol      string    `json:"symbol"`
	Token       string    `json:"token"`
	DisplayName string    `json:"name"`
	Sector      string    `json:"sector,omitempty"`
	MarketCap   string    `json:"market_cap,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
}

// UnknownRequest is one row of the audit log of symbols no source could
// resolve.
type UnknownRequest struct {
	Symbol      string    `json:"symbol"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
}
