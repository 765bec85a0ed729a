package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notblessy/cryptodash/models"
)

type priceKey struct {
	coinID   string
	currency string
	at       int64
}

// MemoryStore is an in-memory PriceStore and ReferenceStore. It backs the
// --memory mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	batchSize  int
	nextID     uint
	hourly     map[priceKey]models.PriceHourly
	daily      map[priceKey]models.PriceDaily
	coins      map[string]models.Coin
	currencies map[string]models.Currency
	metadata   map[string]models.CoinMetadata
}

// NewMemoryStore creates an empty store. batchSize <= 0 means DefaultBatchSize.
func NewMemoryStore(batchSize int) *MemoryStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &MemoryStore{
		batchSize:  batchSize,
		hourly:     make(map[priceKey]models.PriceHourly),
		daily:      make(map[priceKey]models.PriceDaily),
		coins:      make(map[string]models.Coin),
		currencies: make(map[string]models.Currency),
		metadata:   make(map[string]models.CoinMetadata),
	}
}

func hourlyKeyOf(r models.PriceHourly) priceKey {
	return priceKey{r.CoinID, r.CurrencyCode, r.Timestamp.UTC().UnixNano()}
}

func dailyKeyOf(r models.PriceDaily) priceKey {
	return priceKey{r.CoinID, r.CurrencyCode, models.TruncateDay(r.Date).Unix()}
}

func (s *MemoryStore) InsertNewOnlyHourly(ctx context.Context, rows []models.PriceHourly) (int64, error) {
	return s.writeHourly(ctx, rows, false)
}

func (s *MemoryStore) UpsertOverwriteHourly(ctx context.Context, rows []models.PriceHourly) (int64, error) {
	return s.writeHourly(ctx, lastByKey(rows, hourlyKeyOf), true)
}

func (s *MemoryStore) writeHourly(ctx context.Context, rows []models.PriceHourly, overwrite bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written int64
	now := time.Now().UTC()
	for i, b := range chunks(len(rows), s.batchSize) {
		if err := ctx.Err(); err != nil {
			return written, &models.StoreError{Op: "write hourly", Chunk: i, Err: err}
		}
		for _, r := range rows[b[0]:b[1]] {
			k := hourlyKeyOf(r)
			existing, ok := s.hourly[k]
			if ok && !overwrite {
				continue
			}
			if ok {
				existing.Price = r.Price
				s.hourly[k] = existing
			} else {
				s.nextID++
				r.ID = s.nextID
				r.Timestamp = r.Timestamp.UTC()
				r.CreatedAt = now
				s.hourly[k] = r
			}
			written++
		}
	}
	return written, nil
}

func (s *MemoryStore) InsertNewOnlyDaily(ctx context.Context, rows []models.PriceDaily) (int64, error) {
	return s.writeDaily(ctx, rows, false)
}

func (s *MemoryStore) UpsertOverwriteDaily(ctx context.Context, rows []models.PriceDaily) (int64, error) {
	return s.writeDaily(ctx, lastByKey(rows, dailyKeyOf), true)
}

func (s *MemoryStore) writeDaily(ctx context.Context, rows []models.PriceDaily, overwrite bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written int64
	now := time.Now().UTC()
	for i, b := range chunks(len(rows), s.batchSize) {
		if err := ctx.Err(); err != nil {
			return written, &models.StoreError{Op: "write daily", Chunk: i, Err: err}
		}
		for _, r := range rows[b[0]:b[1]] {
			k := dailyKeyOf(r)
			existing, ok := s.daily[k]
			if ok && !overwrite {
				continue
			}
			if ok {
				existing.Price = r.Price
				s.daily[k] = existing
			} else {
				s.nextID++
				r.ID = s.nextID
				r.Date = models.TruncateDay(r.Date)
				r.CreatedAt = now
				s.daily[k] = r
			}
			written++
		}
	}
	return written, nil
}

func (s *MemoryStore) FindHourly(_ context.Context, f PriceFilter) ([]models.PriceHourly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coins, currencies := toSet(f.CoinIDs), toSet(f.CurrencyCodes)
	result := make([]models.PriceHourly, 0)
	for _, r := range s.hourly {
		if matches(f, coins, currencies, r.CoinID, r.CurrencyCode, r.Timestamp) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.CoinID != b.CoinID {
			return a.CoinID < b.CoinID
		}
		return a.CurrencyCode < b.CurrencyCode
	})
	return result, nil
}

func (s *MemoryStore) FindDaily(_ context.Context, f PriceFilter) ([]models.PriceDaily, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coins, currencies := toSet(f.CoinIDs), toSet(f.CurrencyCodes)
	result := make([]models.PriceDaily, 0)
	for _, r := range s.daily {
		if matches(f, coins, currencies, r.CoinID, r.CurrencyCode, r.Date) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.CoinID != b.CoinID {
			return a.CoinID < b.CoinID
		}
		return a.CurrencyCode < b.CurrencyCode
	})
	return result, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func matches(f PriceFilter, coins, currencies map[string]struct{}, coinID, currency string, at time.Time) bool {
	if coins != nil {
		if _, ok := coins[coinID]; !ok {
			return false
		}
	}
	if currencies != nil {
		if _, ok := currencies[currency]; !ok {
			return false
		}
	}
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && at.After(f.To) {
		return false
	}
	return true
}

func (s *MemoryStore) DeleteAll(_ context.Context) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := DeleteResult{Hourly: int64(len(s.hourly)), Daily: int64(len(s.daily))}
	s.hourly = make(map[priceKey]models.PriceHourly)
	s.daily = make(map[priceKey]models.PriceDaily)
	return res, nil
}

func (s *MemoryStore) DeleteHourlyBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, r := range s.hourly {
		if r.Timestamp.Before(cutoff) {
			delete(s.hourly, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteDailyBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := models.TruncateDay(cutoff)
	var n int64
	for k, r := range s.daily {
		if r.Date.Before(day) {
			delete(s.daily, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Coins:      int64(len(s.coins)),
		Currencies: int64(len(s.currencies)),
		Hourly:     int64(len(s.hourly)),
		Daily:      int64(len(s.daily)),
	}, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) UpsertCoins(_ context.Context, coins []models.Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range coins {
		if _, ok := s.coins[c.ID]; !ok {
			s.coins[c.ID] = c
		}
	}
	return nil
}

func (s *MemoryStore) UpsertCurrencies(_ context.Context, currencies []models.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range currencies {
		if _, ok := s.currencies[c.Code]; !ok {
			s.currencies[c.Code] = c
		}
	}
	return nil
}

func (s *MemoryStore) FindCoins(_ context.Context) ([]models.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Coin, 0, len(s.coins))
	for _, c := range s.coins {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) FindCoin(_ context.Context, id string) (*models.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) FindCurrencies(_ context.Context) ([]models.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Currency, 0, len(s.currencies))
	for _, c := range s.currencies {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, coinID string) (*models.CoinMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metadata[coinID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) UpsertMetadata(_ context.Context, m *models.CoinMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.metadata[m.CoinID] = cp
	return nil
}
