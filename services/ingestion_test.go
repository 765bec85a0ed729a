package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

// fakeMarketClient serves canned charts keyed by coin/currency.
type fakeMarketClient struct {
	mu     sync.Mutex
	charts map[string][]models.ChartPoint
	fail   map[string]error
	calls  []string
	detail *models.CoinDetail
	dErr   error
}

func newFakeMarketClient() *fakeMarketClient {
	return &fakeMarketClient{
		charts: make(map[string][]models.ChartPoint),
		fail:   make(map[string]error),
	}
}

func pairKey(coinID, currency string) string { return coinID + "/" + currency }

func (f *fakeMarketClient) FetchWindow(_ context.Context, coinID, currency string, days int) (*models.MarketChart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%d", coinID, currency, days))
	if err, ok := f.fail[pairKey(coinID, currency)]; ok {
		return nil, err
	}
	return &models.MarketChart{Prices: f.charts[pairKey(coinID, currency)]}, nil
}

func (f *fakeMarketClient) FetchRange(ctx context.Context, coinID, currency string, _, _ time.Time) (*models.MarketChart, error) {
	return f.FetchWindow(ctx, coinID, currency, 0)
}

func (f *fakeMarketClient) FetchDetail(_ context.Context, _ string) (*models.CoinDetail, error) {
	return f.detail, f.dErr
}

// failingStore fails daily writes after the wrapped store accepted them.
type failingStore struct {
	*store.MemoryStore
	err error
}

func (s *failingStore) UpsertOverwriteDaily(context.Context, []models.PriceDaily) (int64, error) {
	return 0, &models.StoreError{Op: "upsert daily", Chunk: 0, Err: s.err}
}

func point(at time.Time, price string) models.ChartPoint {
	return models.ChartPoint{Timestamp: at, Value: decimal.NewNullDecimal(decimal.RequireFromString(price))}
}

func nullPoint(at time.Time) models.ChartPoint {
	return models.ChartPoint{Timestamp: at}
}

var (
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func twoCoinPipeline(client MarketDataClient, s *store.MemoryStore) *IngestionPipeline {
	return NewIngestionPipeline(client, s, s, IngestionOptions{
		Coins: []models.Coin{
			{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
			{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
		},
		Currencies: []models.Currency{{Code: "usd", Name: "US Dollar"}},
		FineDays:   30,
		CoarseDays: 365,
	}, nil)
}

func TestIngestionPipeline_RunWritesBothTables(t *testing.T) {
	client := newFakeMarketClient()
	client.charts["bitcoin/usd"] = []models.ChartPoint{
		point(day1.Add(1*time.Hour), "100"),
		point(day1.Add(2*time.Hour), "110"),
		point(day2.Add(1*time.Hour), "120"),
	}
	client.charts["ethereum/usd"] = []models.ChartPoint{point(day1, "10")}
	s := store.NewMemoryStore(2)

	report, err := twoCoinPipeline(client, s).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RunDone, report.State)
	assert.Equal(t, 4, report.PairsFetched)
	assert.Empty(t, report.FailedPairs)
	assert.Equal(t, int64(4), report.HourlyWritten)
	assert.Equal(t, int64(3), report.DailyWritten)
	assert.False(t, report.Cleaned)

	// Fine phase completes before coarse.
	assert.Equal(t, []string{
		"bitcoin/usd/30", "ethereum/usd/30",
		"bitcoin/usd/365", "ethereum/usd/365",
	}, client.calls)

	daily, err := s.FindDaily(context.Background(), store.PriceFilter{CoinIDs: []string{"bitcoin"}})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.True(t, daily[0].Price.Equal(decimal.NewFromInt(105)), daily[0].Price.String())
	assert.True(t, daily[1].Price.Equal(decimal.NewFromInt(120)))

	coins, err := s.FindCoins(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 2)
}

func TestIngestionPipeline_Idempotent(t *testing.T) {
	for _, mode := range []models.WriteMode{models.WriteInsertNewOnly, models.WriteUpsertOverwrite} {
		t.Run(string(mode), func(t *testing.T) {
			client := newFakeMarketClient()
			client.charts["bitcoin/usd"] = []models.ChartPoint{
				point(day1.Add(time.Hour), "100"),
				point(day2.Add(time.Hour), "200"),
			}
			s := store.NewMemoryStore(0)
			p := twoCoinPipeline(client, s)

			_, err := p.Run(context.Background(), RunOptions{Mode: mode})
			require.NoError(t, err)
			first, err := s.Stats(context.Background())
			require.NoError(t, err)

			_, err = p.Run(context.Background(), RunOptions{Mode: mode})
			require.NoError(t, err)
			second, err := s.Stats(context.Background())
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Equal(t, int64(2), second.Hourly)
			assert.Equal(t, int64(2), second.Daily)
		})
	}
}

func TestIngestionPipeline_PartialFailureIsolation(t *testing.T) {
	client := newFakeMarketClient()
	client.fail["bitcoin/usd"] = &models.UpstreamError{Endpoint: "market_chart", StatusCode: 404, Message: "coin not found"}
	client.charts["ethereum/usd"] = []models.ChartPoint{point(day1.Add(time.Hour), "10")}
	s := store.NewMemoryStore(0)

	report, err := twoCoinPipeline(client, s).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RunDone, report.State)
	assert.Equal(t, 2, report.PairsFetched)
	require.Len(t, report.FailedPairs, 2)
	assert.Equal(t, "bitcoin", report.FailedPairs[0].CoinID)
	assert.Equal(t, phaseFine, report.FailedPairs[0].Phase)
	assert.Equal(t, phaseCoarse, report.FailedPairs[1].Phase)

	rows, err := s.FindHourly(context.Background(), store.PriceFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ethereum", rows[0].CoinID)
}

func TestIngestionPipeline_SkipsInvalidPrices(t *testing.T) {
	client := newFakeMarketClient()
	client.charts["bitcoin/usd"] = []models.ChartPoint{
		point(day1.Add(1*time.Hour), "100"),
		nullPoint(day1.Add(2 * time.Hour)),
		point(day1.Add(3*time.Hour), "0"),
		point(day1.Add(4*time.Hour), "-5"),
		point(day1.Add(5*time.Hour), "200"),
	}
	s := store.NewMemoryStore(0)

	report, err := twoCoinPipeline(client, s).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.HourlyWritten)

	daily, err := s.FindDaily(context.Background(), store.PriceFilter{})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.True(t, daily[0].Price.Equal(decimal.NewFromInt(150)))
}

func TestIngestionPipeline_StoreFailureFailsRun(t *testing.T) {
	client := newFakeMarketClient()
	client.charts["bitcoin/usd"] = []models.ChartPoint{point(day1.Add(time.Hour), "100")}
	s := &failingStore{MemoryStore: store.NewMemoryStore(0), err: errors.New("connection reset")}

	p := NewIngestionPipeline(client, s, s, IngestionOptions{
		Coins:      []models.Coin{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}},
		Currencies: []models.Currency{{Code: "usd", Name: "US Dollar"}},
	}, nil)

	report, err := p.Run(context.Background(), RunOptions{Mode: models.WriteUpsertOverwrite})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStore)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, models.RunFailed, report.State)

	// Fine rows written before the failure remain.
	assert.Equal(t, int64(1), report.HourlyWritten)
}

func TestIngestionPipeline_CleanFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(0)
	_, err := s.UpsertOverwriteHourly(ctx, []models.PriceHourly{{
		CoinID: "litecoin", CurrencyCode: "usd", Timestamp: day1, Price: decimal.NewFromInt(1),
	}})
	require.NoError(t, err)

	client := newFakeMarketClient()
	client.charts["bitcoin/usd"] = []models.ChartPoint{point(day2, "100")}

	report, err := twoCoinPipeline(client, s).Run(ctx, RunOptions{CleanFirst: true})
	require.NoError(t, err)
	assert.True(t, report.Cleaned)

	rows, err := s.FindHourly(ctx, store.PriceFilter{CoinIDs: []string{"litecoin"}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIngestionPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := twoCoinPipeline(newFakeMarketClient(), store.NewMemoryStore(0)).Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunFailed, report.State)
}

func TestFineRows_DuplicateTimestampKeepsLast(t *testing.T) {
	rows := FineRows("bitcoin", "usd", []models.ChartPoint{
		point(day1, "1"),
		point(day1, "2"),
		point(day1.Add(time.Minute), "3"),
	})
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(2)))
}

func TestDailyRows_MeanRoundsHalfEven(t *testing.T) {
	rows := DailyRows("bitcoin", "usd", []models.ChartPoint{
		point(day1.Add(1*time.Hour), "0.00000001"),
		point(day1.Add(2*time.Hour), "0.00000002"),
	})
	require.Len(t, rows, 1)
	// 0.000000015 rounds half to even at 8 places.
	assert.Equal(t, "0.00000002", rows[0].Price.String())
	assert.Equal(t, day1, rows[0].Date)
}
