// Package store persists reference data and price time series.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/notblessy/cryptodash/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// DefaultBatchSize bounds the number of rows per write statement.
const DefaultBatchSize = 500

// PriceFilter restricts price reads. Empty slices and zero times are unbounded.
// From and To are inclusive.
type PriceFilter struct {
	CoinIDs       []string
	CurrencyCodes []string
	From          time.Time
	To            time.Time
}

// DeleteResult counts rows removed from each price table.
type DeleteResult struct {
	Hourly int64 `json:"hourly"`
	Daily  int64 `json:"daily"`
}

// Stats counts rows per table.
type Stats struct {
	Coins      int64 `json:"coins"`
	Currencies int64 `json:"currencies"`
	Hourly     int64 `json:"hourlyPrices"`
	Daily      int64 `json:"dailyPrices"`
}

// PriceStore is the time series store for fine and coarse price rows.
//
// Bulk writes are split into chunks. When a chunk fails, the count of rows
// written by earlier chunks is returned together with a *models.StoreError
// and the remaining chunks are not attempted.
//
// Upserts collapse rows sharing a key to the last one before writing.
// Inserts keep the first.
type PriceStore interface {
	InsertNewOnlyHourly(ctx context.Context, rows []models.PriceHourly) (int64, error)
	UpsertOverwriteHourly(ctx context.Context, rows []models.PriceHourly) (int64, error)
	InsertNewOnlyDaily(ctx context.Context, rows []models.PriceDaily) (int64, error)
	UpsertOverwriteDaily(ctx context.Context, rows []models.PriceDaily) (int64, error)

	FindHourly(ctx context.Context, f PriceFilter) ([]models.PriceHourly, error)
	FindDaily(ctx context.Context, f PriceFilter) ([]models.PriceDaily, error)

	// DeleteAll empties both price tables atomically.
	DeleteAll(ctx context.Context) (DeleteResult, error)
	DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// ReferenceStore holds the coin and currency catalog plus coin metadata.
// Catalog upserts never overwrite existing rows.
type ReferenceStore interface {
	UpsertCoins(ctx context.Context, coins []models.Coin) error
	UpsertCurrencies(ctx context.Context, currencies []models.Currency) error
	FindCoins(ctx context.Context) ([]models.Coin, error)
	FindCoin(ctx context.Context, id string) (*models.Coin, error)
	FindCurrencies(ctx context.Context) ([]models.Currency, error)
	GetMetadata(ctx context.Context, coinID string) (*models.CoinMetadata, error)
	UpsertMetadata(ctx context.Context, m *models.CoinMetadata) error
}

// WriteHourly dispatches to the store operation selected by mode.
func WriteHourly(ctx context.Context, s PriceStore, mode models.WriteMode, rows []models.PriceHourly) (int64, error) {
	if mode == models.WriteInsertNewOnly {
		return s.InsertNewOnlyHourly(ctx, rows)
	}
	return s.UpsertOverwriteHourly(ctx, rows)
}

// WriteDaily dispatches to the store operation selected by mode.
func WriteDaily(ctx context.Context, s PriceStore, mode models.WriteMode, rows []models.PriceDaily) (int64, error) {
	if mode == models.WriteInsertNewOnly {
		return s.InsertNewOnlyDaily(ctx, rows)
	}
	return s.UpsertOverwriteDaily(ctx, rows)
}

// chunks returns [start, end) bounds for slicing n items by size.
func chunks(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// lastByKey replaces earlier rows with later rows of the same key, keeping
// the position of the first occurrence.
func lastByKey[T any, K comparable](rows []T, key func(T) K) []T {
	idx := make(map[K]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
