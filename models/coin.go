package models

import "time"

// Coin is a tracked instrument, keyed by its CoinGecko id.
type Coin struct {
	ID     string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Symbol string `gorm:"type:varchar(16);not null" json:"symbol"`
	Name   string `gorm:"type:varchar(128);not null" json:"name"`
}

func (Coin) TableName() string {
	return "coins"
}

// Currency is a quote currency. Codes are lowercase ("usd").
type Currency struct {
	Code string `gorm:"primaryKey;type:varchar(10)" json:"code"`
	Name string `gorm:"type:varchar(64);not null" json:"name"`
}

func (Currency) TableName() string {
	return "currencies"
}

// CoinMetadata is filled lazily the first time a coin's metadata is requested.
type CoinMetadata struct {
	CoinID      string    `gorm:"primaryKey;type:varchar(64)" json:"coinId"`
	Description *string   `gorm:"type:text" json:"description"`
	ImageURL    *string   `gorm:"type:text" json:"imageUrl"`
	HomepageURL *string   `gorm:"type:text" json:"homepageUrl"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (CoinMetadata) TableName() string {
	return "coin_metadata"
}

// DefaultCoins is the catalog ingested when no override is configured.
var DefaultCoins = []Coin{
	{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
	{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
	{ID: "solana", Symbol: "sol", Name: "Solana"},
	{ID: "cardano", Symbol: "ada", Name: "Cardano"},
	{ID: "ripple", Symbol: "xrp", Name: "XRP"},
	{ID: "polkadot", Symbol: "dot", Name: "Polkadot"},
	{ID: "dogecoin", Symbol: "doge", Name: "Dogecoin"},
	{ID: "avalanche-2", Symbol: "avax", Name: "Avalanche"},
	{ID: "chainlink", Symbol: "link", Name: "Chainlink"},
	{ID: "uniswap", Symbol: "uni", Name: "Uniswap"},
	{ID: "litecoin", Symbol: "ltc", Name: "Litecoin"},
}

// DefaultCurrencies is the quote currency catalog.
var DefaultCurrencies = []Currency{
	{Code: "usd", Name: "US Dollar"},
	{Code: "try", Name: "Turkish Lira"},
	{Code: "eur", Name: "Euro"},
	{Code: "gbp", Name: "British Pound"},
}

// CoinProfile is a coin joined with its metadata. Metadata fields are nil
// when unknown.
type CoinProfile struct {
	CoinID      string  `json:"coinId"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	HomepageURL *string `json:"homepageUrl"`
}
