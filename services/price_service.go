package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/notblessy/cryptodash/cache"
	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/metrics"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

// PriceCachePrefix prefixes every cached price query. The ingestion runner
// drops the prefix after each successful run.
const PriceCachePrefix = "prices:"

// HourlyMaxDays is the widest inclusive day span served hourly by default.
const HourlyMaxDays = 2

// PriceService reads stored prices and aggregates them for the query API.
type PriceService struct {
	prices  store.PriceStore
	cache   cache.Cache
	ttl     time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewPriceService creates the service. A nil cache or zero ttl disables caching.
func NewPriceService(prices store.PriceStore, c cache.Cache, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *PriceService {
	if log == nil {
		log = logger.NewSilent()
	}
	return &PriceService{prices: prices, cache: c, ttl: ttl, log: log, metrics: m}
}

// ResolveGranularity parses raw, defaulting to hourly when the inclusive
// span from..to covers at most HourlyMaxDays days and daily otherwise.
func ResolveGranularity(raw string, from, to time.Time) (models.Granularity, error) {
	switch models.Granularity(raw) {
	case models.GranularityDaily, models.GranularityHourly:
		return models.Granularity(raw), nil
	case "":
	default:
		return "", &models.ValidationError{Field: "granularity", Message: "must be daily or hourly"}
	}

	span := int(models.TruncateDay(to).Sub(models.TruncateDay(from)).Hours()/24) + 1
	if span <= HourlyMaxDays {
		return models.GranularityHourly, nil
	}
	return models.GranularityDaily, nil
}

// GetPrices returns aggregated prices for q, sorted by date when the date
// dimension is present. DateFrom and DateTo are calendar days; both are
// inclusive.
func (s *PriceService) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.AggregatedPrice, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveQuery(string(q.Granularity), time.Since(start).Seconds())
	}()

	key := cacheKey(q)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	filter := store.PriceFilter{
		CoinIDs:       q.CoinIDs,
		CurrencyCodes: q.CurrencyCodes,
		From:          models.TruncateDay(q.DateFrom),
		To:            models.TruncateDay(q.DateTo).Add(24*time.Hour - time.Nanosecond),
	}

	var obs []models.PriceObservation
	if q.Granularity == models.GranularityHourly {
		rows, err := s.prices.FindHourly(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("find hourly prices: %w", err)
		}
		obs = make([]models.PriceObservation, len(rows))
		for i, r := range rows {
			obs[i] = models.PriceObservation{CoinID: r.CoinID, CurrencyCode: r.CurrencyCode, Time: r.Timestamp, Price: r.Price}
		}
	} else {
		rows, err := s.prices.FindDaily(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("find daily prices: %w", err)
		}
		obs = make([]models.PriceObservation, len(rows))
		for i, r := range rows {
			obs[i] = models.PriceObservation{CoinID: r.CoinID, CurrencyCode: r.CurrencyCode, Time: r.Date, Price: r.Price}
		}
	}

	result := Aggregate(obs, q.Granularity, q.Breakdown)
	if hasDate(result) {
		sort.SliceStable(result, func(i, j int) bool { return *result[i].Date < *result[j].Date })
	}

	s.toCache(ctx, key, result)
	return result, nil
}

func hasDate(rows []models.AggregatedPrice) bool {
	return len(rows) > 0 && rows[0].Date != nil
}

func cacheKey(q models.PriceQuery) string {
	norm := func(values []string) string {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		return strings.Join(sorted, ",")
	}
	breakdown := make([]string, len(q.Breakdown))
	for i, d := range q.Breakdown {
		breakdown[i] = string(d)
	}
	return fmt.Sprintf("%s%s|%s|%s|%s|%s|%s",
		PriceCachePrefix,
		norm(q.CoinIDs),
		norm(q.CurrencyCodes),
		q.DateFrom.UTC().Format(dailyLayout),
		q.DateTo.UTC().Format(dailyLayout),
		q.Granularity,
		norm(breakdown),
	)
}

func (s *PriceService) fromCache(ctx context.Context, key string) ([]models.AggregatedPrice, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}
	b, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		s.metrics.CacheResult(false)
		return nil, false
	}
	var result []models.AggregatedPrice
	if err := json.Unmarshal(b, &result); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		s.metrics.CacheResult(false)
		return nil, false
	}
	s.metrics.CacheResult(true)
	return result, true
}

func (s *PriceService) toCache(ctx context.Context, key string, result []models.AggregatedPrice) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
