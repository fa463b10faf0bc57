package models

import "time"

// MarketSnapshot is the underlying price and VIX recorded at one instant.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	VIX       float64   `json:"vix"`
}

// GEXPeak is a recorded gamma-exposure concentration. Rank 1 is the strongest.
type GEXPeak struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Rank      int       `json:"rank"`
	Strike    float64   `json:"strike"`
	GEX       float64   `json:"gex"`
}

// OptionQuote is a recorded bid/ask for one strike and type.
type OptionQuote struct {
	Symbol    string     `json:"symbol"`
	Timestamp time.Time  `json:"timestamp"`
	Strike    float64    `json:"strike"`
	Type      OptionType `json:"type"`
	Bid       float64    `json:"bid"`
	Ask       float64    `json:"ask"`
}

// Quote is the bid/ask pair for a leg.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Quote returns the bid/ask pair of a recorded option quote.
func (q OptionQuote) Quote() Quote {
	return Quote{Bid: q.Bid, Ask: q.Ask}
}
