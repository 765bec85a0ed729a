package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChartPoint is one [timestamp, value] pair from a market chart.
// Value is invalid when the upstream sent null.
type ChartPoint struct {
	Timestamp time.Time
	Value     decimal.NullDecimal
}

// MarketChart is a price history for one coin in one currency.
// Only Prices is used by ingestion.
type MarketChart struct {
	Prices       []ChartPoint
	MarketCaps   []ChartPoint
	TotalVolumes []ChartPoint
}

// CoinDetail is the descriptive metadata of a coin.
type CoinDetail struct {
	ID          string
	Symbol      string
	Name        string
	Description string
	ImageURL    string
	HomepageURL string
}
