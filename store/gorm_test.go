package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/notblessy/cryptodash/db"
	"github.com/notblessy/cryptodash/models"
)

// setupGormStore starts a Postgres container and returns a migrated store.
func setupGormStore(t *testing.T, batchSize int) *GormStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cryptodash"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gdb, err := db.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, db.Migrate(gdb))

	return NewGormStore(gdb, batchSize)
}

func TestGormStore_HourlyWriteModes(t *testing.T) {
	s := setupGormStore(t, 2)
	ctx := context.Background()

	rows := []models.PriceHourly{
		hourly("bitcoin", "usd", t0, "100.123456789"),
		hourly("bitcoin", "usd", t0.Add(time.Hour), "101"),
		hourly("ethereum", "usd", t0, "10"),
	}
	n, err := s.InsertNewOnlyHourly(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.InsertNewOnlyHourly(ctx, rows)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.UpsertOverwriteHourly(ctx, []models.PriceHourly{hourly("bitcoin", "usd", t0, "200")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.FindHourly(ctx, PriceFilter{CoinIDs: []string{"bitcoin"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(t0))
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(200)))
}

func TestGormStore_DailyAndDelete(t *testing.T) {
	s := setupGormStore(t, 0)
	ctx := context.Background()

	_, err := s.UpsertOverwriteDaily(ctx, []models.PriceDaily{
		daily("bitcoin", "usd", models.TruncateDay(t0), "100"),
		daily("bitcoin", "eur", models.TruncateDay(t0), "90"),
		daily("bitcoin", "usd", models.TruncateDay(t0).AddDate(0, 0, 1), "110"),
	})
	require.NoError(t, err)

	got, err := s.FindDaily(ctx, PriceFilter{
		CurrencyCodes: []string{"usd"},
		From:          models.TruncateDay(t0),
		To:            models.TruncateDay(t0),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(100)))

	res, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Daily)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Daily)
}

func TestGormStore_Reference(t *testing.T) {
	s := setupGormStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.UpsertCoins(ctx, models.DefaultCoins))
	require.NoError(t, s.UpsertCoins(ctx, models.DefaultCoins))
	require.NoError(t, s.UpsertCurrencies(ctx, models.DefaultCurrencies))

	coins, err := s.FindCoins(ctx)
	require.NoError(t, err)
	assert.Len(t, coins, len(models.DefaultCoins))

	_, err = s.FindCoin(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	img := "https://example.com/btc.png"
	require.NoError(t, s.UpsertMetadata(ctx, &models.CoinMetadata{CoinID: "bitcoin", ImageURL: &img}))
	m, err := s.GetMetadata(ctx, "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, m.ImageURL)
	assert.Equal(t, img, *m.ImageURL)
	assert.Nil(t, m.Description)
}

func TestGormStore_ChunkFailureStopsWrite(t *testing.T) {
	s := setupGormStore(t, 2)
	ctx := context.Background()

	rows := []models.PriceHourly{
		hourly("bitcoin", "usd", t0, "1"),
		hourly("bitcoin", "usd", t0.Add(time.Hour), "2"),
		hourly("bitcoin", "usd", t0.Add(2*time.Hour), "3"),
		// currency_code is varchar(10)
		hourly("bitcoin", "not-a-currency", t0, "4"),
		hourly("ethereum", "usd", t0, "5"),
	}

	n, err := s.InsertNewOnlyHourly(ctx, rows)
	assert.Equal(t, int64(2), n)

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, 1, storeErr.Chunk)
	assert.ErrorIs(t, err, models.ErrStore)

	got, err := s.FindHourly(ctx, PriceFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "bitcoin", r.CoinID)
		assert.True(t, r.Timestamp.Before(t0.Add(2*time.Hour)))
	}
}

func TestGormStore_UpsertCollapsesRepeatedKeys(t *testing.T) {
	s := setupGormStore(t, 0)
	ctx := context.Background()

	n, err := s.UpsertOverwriteDaily(ctx, []models.PriceDaily{
		daily("bitcoin", "usd", models.TruncateDay(t0), "100"),
		daily("bitcoin", "usd", models.TruncateDay(t0), "150"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.FindDaily(ctx, PriceFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(150)))
}
