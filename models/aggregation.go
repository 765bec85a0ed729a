package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity selects the table a price query reads from.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
)

// BreakdownDimension is an axis a price query can be grouped by.
type BreakdownDimension string

const (
	BreakdownCoin     BreakdownDimension = "coin"
	BreakdownCurrency BreakdownDimension = "currency"
	BreakdownDate     BreakdownDimension = "date"
)

// Valid reports whether d is one of coin, currency or date.
func (d BreakdownDimension) Valid() bool {
	switch d {
	case BreakdownCoin, BreakdownCurrency, BreakdownDate:
		return true
	}
	return false
}

// PriceObservation is a stored price normalized across both tables.
type PriceObservation struct {
	CoinID       string
	CurrencyCode string
	Time         time.Time
	Price        decimal.Decimal
}

// AggregatedPrice is one output row. Dimensions not requested stay nil
// and are left out of the JSON.
type AggregatedPrice struct {
	Coin     *string `json:"coin,omitempty"`
	Currency *string `json:"currency,omitempty"`
	Date     *string `json:"date,omitempty"`
	Price    float64 `json:"price"`
}

// PriceQuery is a validated /prices request.
type PriceQuery struct {
	CoinIDs       []string
	CurrencyCodes []string
	DateFrom      time.Time
	DateTo        time.Time
	Granularity   Granularity
	Breakdown     []BreakdownDimension
}
