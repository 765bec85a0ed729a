package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHourly is a fine-grained price observation. The upstream returns
// roughly 5 minute to 1 hour resolution for short windows.
type PriceHourly struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	CoinID       string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_price_hourly_key,priority:1" json:"coinId"`
	CurrencyCode string          `gorm:"type:varchar(10);not null;uniqueIndex:idx_price_hourly_key,priority:2" json:"currencyCode"`
	Timestamp    time.Time       `gorm:"not null;uniqueIndex:idx_price_hourly_key,priority:3;index" json:"timestamp"`
	Price        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (PriceHourly) TableName() string {
	return "price_hourly"
}

// PriceDaily holds one price per coin, currency and calendar day.
type PriceDaily struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	CoinID       string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_price_daily_key,priority:1" json:"coinId"`
	CurrencyCode string          `gorm:"type:varchar(10);not null;uniqueIndex:idx_price_daily_key,priority:2" json:"currencyCode"`
	Date         time.Time       `gorm:"type:date;not null;uniqueIndex:idx_price_daily_key,priority:3;index" json:"date"`
	Price        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (PriceDaily) TableName() string {
	return "price_daily"
}

// WriteMode selects how bulk writes treat rows whose key already exists.
type WriteMode string

const (
	// WriteInsertNewOnly skips rows whose key is already stored.
	WriteInsertNewOnly WriteMode = "insert"
	// WriteUpsertOverwrite replaces the stored price for existing keys.
	WriteUpsertOverwrite WriteMode = "upsert"
)

// ParseWriteMode accepts "insert" or "upsert".
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case WriteInsertNewOnly, WriteUpsertOverwrite:
		return WriteMode(s), nil
	}
	return "", &ValidationError{Field: "write_mode", Message: "must be insert or upsert, got " + s}
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
