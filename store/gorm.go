package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notblessy/cryptodash/models"
)

// GormStore implements PriceStore and ReferenceStore on Postgres.
type GormStore struct {
	db        *gorm.DB
	batchSize int
}

// NewGormStore wraps db. batchSize <= 0 means DefaultBatchSize.
func NewGormStore(db *gorm.DB, batchSize int) *GormStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &GormStore{db: db, batchSize: batchSize}
}

var (
	hourlyKey = []clause.Column{{Name: "coin_id"}, {Name: "currency_code"}, {Name: "timestamp"}}
	dailyKey  = []clause.Column{{Name: "coin_id"}, {Name: "currency_code"}, {Name: "date"}}
)

func (s *GormStore) InsertNewOnlyHourly(ctx context.Context, rows []models.PriceHourly) (int64, error) {
	return writeChunks(ctx, s.db, s.batchSize, "insert hourly", rows,
		clause.OnConflict{Columns: hourlyKey, DoNothing: true})
}

func (s *GormStore) UpsertOverwriteHourly(ctx context.Context, rows []models.PriceHourly) (int64, error) {
	// Postgres rejects ON CONFLICT DO UPDATE touching one key twice in a statement.
	rows = lastByKey(rows, hourlyKeyOf)
	return writeChunks(ctx, s.db, s.batchSize, "upsert hourly", rows,
		clause.OnConflict{Columns: hourlyKey, DoUpdates: clause.AssignmentColumns([]string{"price"})})
}

func (s *GormStore) InsertNewOnlyDaily(ctx context.Context, rows []models.PriceDaily) (int64, error) {
	return writeChunks(ctx, s.db, s.batchSize, "insert daily", rows,
		clause.OnConflict{Columns: dailyKey, DoNothing: true})
}

func (s *GormStore) UpsertOverwriteDaily(ctx context.Context, rows []models.PriceDaily) (int64, error) {
	rows = lastByKey(rows, dailyKeyOf)
	return writeChunks(ctx, s.db, s.batchSize, "upsert daily", rows,
		clause.OnConflict{Columns: dailyKey, DoUpdates: clause.AssignmentColumns([]string{"price"})})
}

// writeChunks issues one multi-row INSERT per chunk and stops at the first
// failing chunk.
func writeChunks[T any](ctx context.Context, db *gorm.DB, size int, op string, rows []T, onConflict clause.OnConflict) (int64, error) {
	var written int64
	for i, b := range chunks(len(rows), size) {
		// Copy so gorm's primary key write-back does not touch the caller's rows.
		batch := make([]T, b[1]-b[0])
		copy(batch, rows[b[0]:b[1]])
		result := db.WithContext(ctx).Clauses(onConflict).Create(&batch)
		if result.Error != nil {
			return written, wrapErr(op, i, result.Error)
		}
		written += result.RowsAffected
	}
	return written, nil
}

func (s *GormStore) FindHourly(ctx context.Context, f PriceFilter) ([]models.PriceHourly, error) {
	var rows []models.PriceHourly
	q := applyFilter(s.db.WithContext(ctx), f, `"timestamp"`)
	if err := q.Order(`"timestamp" ASC, coin_id ASC, currency_code ASC`).Find(&rows).Error; err != nil {
		return nil, wrapErr("find hourly", -1, err)
	}
	return rows, nil
}

func (s *GormStore) FindDaily(ctx context.Context, f PriceFilter) ([]models.PriceDaily, error) {
	var rows []models.PriceDaily
	q := applyFilter(s.db.WithContext(ctx), f, `"date"`)
	if err := q.Order(`"date" ASC, coin_id ASC, currency_code ASC`).Find(&rows).Error; err != nil {
		return nil, wrapErr("find daily", -1, err)
	}
	return rows, nil
}

func applyFilter(q *gorm.DB, f PriceFilter, timeCol string) *gorm.DB {
	if len(f.CoinIDs) > 0 {
		q = q.Where("coin_id IN ?", f.CoinIDs)
	}
	if len(f.CurrencyCodes) > 0 {
		q = q.Where("currency_code IN ?", f.CurrencyCodes)
	}
	if !f.From.IsZero() {
		q = q.Where(timeCol+" >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where(timeCol+" <= ?", f.To.UTC())
	}
	return q
}

func (s *GormStore) DeleteAll(ctx context.Context) (DeleteResult, error) {
	var res DeleteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})

		hourly := all.Delete(&models.PriceHourly{})
		if hourly.Error != nil {
			return hourly.Error
		}
		daily := all.Delete(&models.PriceDaily{})
		if daily.Error != nil {
			return daily.Error
		}

		res.Hourly = hourly.RowsAffected
		res.Daily = daily.RowsAffected
		return nil
	})
	if err != nil {
		return DeleteResult{}, wrapErr("delete all", -1, err)
	}
	return res, nil
}

func (s *GormStore) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where(`"timestamp" < ?`, cutoff.UTC()).Delete(&models.PriceHourly{})
	if result.Error != nil {
		return 0, wrapErr("delete hourly", -1, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where(`"date" < ?`, models.TruncateDay(cutoff)).Delete(&models.PriceDaily{})
	if result.Error != nil {
		return 0, wrapErr("delete daily", -1, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	for _, c := range []struct {
		model any
		dst   *int64
	}{
		{&models.Coin{}, &st.Coins},
		{&models.Currency{}, &st.Currencies},
		{&models.PriceHourly{}, &st.Hourly},
		{&models.PriceDaily{}, &st.Daily},
	} {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return Stats{}, wrapErr("stats", -1, err)
		}
	}
	return st, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("ping", -1, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapErr("ping", -1, err)
	}
	return nil
}

func (s *GormStore) UpsertCoins(ctx context.Context, coins []models.Coin) error {
	if len(coins) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&coins).Error
	if err != nil {
		return wrapErr("upsert coins", -1, err)
	}
	return nil
}

func (s *GormStore) UpsertCurrencies(ctx context.Context, currencies []models.Currency) error {
	if len(currencies) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&currencies).Error
	if err != nil {
		return wrapErr("upsert currencies", -1, err)
	}
	return nil
}

func (s *GormStore) FindCoins(ctx context.Context) ([]models.Coin, error) {
	var coins []models.Coin
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&coins).Error; err != nil {
		return nil, wrapErr("find coins", -1, err)
	}
	return coins, nil
}

func (s *GormStore) FindCoin(ctx context.Context, id string) (*models.Coin, error) {
	var coin models.Coin
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&coin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("find coin", -1, err)
	}
	return &coin, nil
}

func (s *GormStore) FindCurrencies(ctx context.Context) ([]models.Currency, error) {
	var currencies []models.Currency
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&currencies).Error; err != nil {
		return nil, wrapErr("find currencies", -1, err)
	}
	return currencies, nil
}

func (s *GormStore) GetMetadata(ctx context.Context, coinID string) (*models.CoinMetadata, error) {
	var m models.CoinMetadata
	if err := s.db.WithContext(ctx).Where("coin_id = ?", coinID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get metadata", -1, err)
	}
	return &m, nil
}

func (s *GormStore) UpsertMetadata(ctx context.Context, m *models.CoinMetadata) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "coin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "image_url", "homepage_url", "updated_at"}),
		}).
		Create(m).Error
	if err != nil {
		return wrapErr("upsert metadata", -1, err)
	}
	return nil
}

// wrapErr turns a driver error into a *models.StoreError, keeping the
// Postgres SQLSTATE when there is one.
func wrapErr(op string, chunk int, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		err = fmt.Errorf("%s (sqlstate %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return &models.StoreError{Op: op, Chunk: chunk, Err: err}
}
