package symbols

import "orderflow-relay/internal/model"

// DefaultSymbols seeds an empty store so the relay can subscribe before any
// lookup API has been reached.
var DefaultSymbols = []model.SymbolRecord{
	{Symbol: "RELIANCE", Token: "2885633", DisplayName: "RELIANCE"},
	{Symbol: "TCS", Token: "2953217", DisplayName: "TCS"},
	{Symbol: "HDFCBANK", Token: "341249", DisplayName: "HDFC BANK"},
	{Symbol: "INFY", Token: "408065", DisplayName: "INFOSYS"},
	{Symbol: "ITC", Token: "424961", DisplayName: "ITC"},
	{Symbol: "BHARTIARTL", Token: "2714625", DisplayName: "BHARTI AIRTEL"},
	{Symbol: "SBIN", Token: "779521", DisplayName: "STATE BANK OF INDIA"},
	{Symbol: "ASIANPAINT", Token: "60417", DisplayName: "ASIAN PAINTS"},
	{Symbol: "KOTAKBANK", Token: "492033", DisplayName: "KOTAK MAHINDRA BANK"},
	{Symbol: "MARUTI", Token: "2815745", DisplayName: "MARUTI SUZUKI"},
}
