package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notblessy/cryptodash/cache"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

func TestResolveGranularity(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		to      time.Time
		want    models.Granularity
		wantErr bool
	}{
		{name: "single day", to: jan1, want: models.GranularityHourly},
		{name: "two days", to: jan1.AddDate(0, 0, 1), want: models.GranularityHourly},
		{name: "three days", to: jan1.AddDate(0, 0, 2), want: models.GranularityDaily},
		{name: "explicit daily", raw: "daily", to: jan1, want: models.GranularityDaily},
		{name: "explicit hourly", raw: "hourly", to: jan1.AddDate(0, 1, 0), want: models.GranularityHourly},
		{name: "unknown", raw: "weekly", to: jan1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveGranularity(tt.raw, jan1, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func seedPrices(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore(0)

	d := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := s.UpsertOverwriteDaily(ctx, []models.PriceDaily{
		{CoinID: "bitcoin", CurrencyCode: "usd", Date: d.AddDate(0, 0, 2), Price: decimal.NewFromInt(300)},
		{CoinID: "bitcoin", CurrencyCode: "usd", Date: d, Price: decimal.NewFromInt(100)},
		{CoinID: "bitcoin", CurrencyCode: "usd", Date: d.AddDate(0, 0, 1), Price: decimal.NewFromInt(200)},
		{CoinID: "ethereum", CurrencyCode: "usd", Date: d, Price: decimal.NewFromInt(10)},
		{CoinID: "bitcoin", CurrencyCode: "eur", Date: d.AddDate(0, 0, 5), Price: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)

	_, err = s.UpsertOverwriteHourly(ctx, []models.PriceHourly{
		{CoinID: "bitcoin", CurrencyCode: "usd", Timestamp: d.Add(23*time.Hour + 30*time.Minute), Price: decimal.NewFromInt(100)},
		{CoinID: "bitcoin", CurrencyCode: "usd", Timestamp: d.Add(23*time.Hour + 45*time.Minute), Price: decimal.NewFromInt(102)},
		{CoinID: "bitcoin", CurrencyCode: "usd", Timestamp: d.Add(24 * time.Hour), Price: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)
	return s
}

func TestPriceService_GetPricesDaily(t *testing.T) {
	svc := NewPriceService(seedPrices(t), nil, 0, nil, nil)

	from := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	got, err := svc.GetPrices(context.Background(), models.PriceQuery{
		CoinIDs:       []string{"bitcoin"},
		CurrencyCodes: []string{"usd"},
		DateFrom:      from,
		DateTo:        from.AddDate(0, 0, 2),
		Granularity:   models.GranularityDaily,
		Breakdown:     []models.BreakdownDimension{models.BreakdownDate},
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "2024-01-10", *got[0].Date)
	assert.Equal(t, float64(100), got[0].Price)
	assert.Equal(t, "2024-01-12", *got[2].Date)
}

func TestPriceService_GetPricesHourlyIncludesWholeLastDay(t *testing.T) {
	svc := NewPriceService(seedPrices(t), nil, 0, nil, nil)

	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	got, err := svc.GetPrices(context.Background(), models.PriceQuery{
		DateFrom:    day,
		DateTo:      day,
		Granularity: models.GranularityHourly,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "2024-01-10 23:00:00", *got[0].Date)
	assert.Equal(t, float64(101), got[0].Price)
}

func TestPriceService_NoDateDimensionKeepsGroupOrder(t *testing.T) {
	svc := NewPriceService(seedPrices(t), nil, 0, nil, nil)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := svc.GetPrices(context.Background(), models.PriceQuery{
		DateFrom:    from,
		DateTo:      from.AddDate(0, 1, 0),
		Granularity: models.GranularityDaily,
		Breakdown:   []models.BreakdownDimension{models.BreakdownCoin},
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "bitcoin", *got[0].Coin)
	assert.Nil(t, got[0].Date)
	assert.Equal(t, "ethereum", *got[1].Coin)
}

func TestPriceService_CachesResults(t *testing.T) {
	ctx := context.Background()
	s := seedPrices(t)
	c := cache.NewMemoryCache(time.Hour)
	defer c.Close()
	svc := NewPriceService(s, c, time.Minute, nil, nil)

	q := models.PriceQuery{
		CoinIDs:     []string{"ethereum"},
		DateFrom:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Granularity: models.GranularityDaily,
	}
	first, err := svc.GetPrices(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = s.UpsertOverwriteDaily(ctx, []models.PriceDaily{
		{CoinID: "ethereum", CurrencyCode: "usd", Date: q.DateFrom, Price: decimal.NewFromInt(99)},
	})
	require.NoError(t, err)

	cached, err := svc.GetPrices(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	require.NoError(t, c.DeletePrefix(ctx, PriceCachePrefix))
	fresh, err := svc.GetPrices(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, float64(99), fresh[0].Price)
}

func TestCacheKey_OrderInsensitive(t *testing.T) {
	a := models.PriceQuery{CoinIDs: []string{"a", "b"}, Breakdown: []models.BreakdownDimension{"coin", "date"}}
	b := models.PriceQuery{CoinIDs: []string{"b", "a"}, Breakdown: []models.BreakdownDimension{"date", "coin"}}
	assert.Equal(t, cacheKey(a), cacheKey(b))
	assert.Contains(t, cacheKey(a), PriceCachePrefix)
}
