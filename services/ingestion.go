package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/metrics"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

const (
	DefaultFineDays   = 30
	DefaultCoarseDays = 365

	// priceScale matches the decimal(20,8) price columns.
	priceScale = 8

	phaseFine   = "fine"
	phaseCoarse = "coarse"
)

type IngestionOptions struct {
	Coins      []models.Coin
	Currencies []models.Currency
	FineDays   int
	CoarseDays int
}

type RunOptions struct {
	// CleanFirst wipes both price tables before fetching.
	CleanFirst bool
	Mode       models.WriteMode
}

// IngestionPipeline fetches price history for every coin and currency pair
// and writes it to the price store. Pairs are fetched one at a time.
type IngestionPipeline struct {
	client  MarketDataClient
	prices  store.PriceStore
	refs    store.ReferenceStore
	opts    IngestionOptions
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewIngestionPipeline(client MarketDataClient, prices store.PriceStore, refs store.ReferenceStore, opts IngestionOptions, log *logger.Logger) *IngestionPipeline {
	if len(opts.Coins) == 0 {
		opts.Coins = models.DefaultCoins
	}
	if len(opts.Currencies) == 0 {
		opts.Currencies = models.DefaultCurrencies
	}
	if opts.FineDays <= 0 {
		opts.FineDays = DefaultFineDays
	}
	if opts.CoarseDays <= 0 {
		opts.CoarseDays = DefaultCoarseDays
	}
	if log == nil {
		log = logger.NewSilent()
	}
	return &IngestionPipeline{
		client: client,
		prices: prices,
		refs:   refs,
		opts:   opts,
		log:    log,
	}
}

// SetMetrics attaches collectors. Nil disables them.
func (p *IngestionPipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Run executes one ingestion. Per-pair fetch failures are recorded in the
// report and skipped. Clean, reference and write failures end the run in
// RunFailed and are returned.
func (p *IngestionPipeline) Run(ctx context.Context, opts RunOptions) (*models.RunReport, error) {
	if opts.Mode == "" {
		opts.Mode = models.WriteUpsertOverwrite
	}

	report := &models.RunReport{
		State:       models.RunIdle,
		StartedAt:   time.Now().UTC(),
		FailedPairs: []models.PairFailure{},
	}

	err := p.run(ctx, opts, report)
	report.FinishedAt = time.Now().UTC()
	duration := report.FinishedAt.Sub(report.StartedAt)

	if err != nil {
		p.transition(report, models.RunFailed)
		p.log.Error().Err(err).Dur("duration", duration).Msg("Ingestion run failed")
		p.metrics.ObserveRun(string(models.RunFailed), duration.Seconds(), 0)
		return report, err
	}

	p.transition(report, models.RunDone)
	p.log.Info().
		Int("pairs_fetched", report.PairsFetched).
		Int("pairs_failed", len(report.FailedPairs)).
		Int64("hourly_written", report.HourlyWritten).
		Int64("daily_written", report.DailyWritten).
		Dur("duration", duration).
		Msg("Ingestion run completed")
	p.metrics.ObserveRun(string(models.RunDone), duration.Seconds(), float64(report.FinishedAt.Unix()))
	return report, nil
}

func (p *IngestionPipeline) run(ctx context.Context, opts RunOptions, report *models.RunReport) error {
	if opts.CleanFirst {
		p.transition(report, models.RunCleaningIfRequested)
		res, err := p.prices.DeleteAll(ctx)
		if err != nil {
			return fmt.Errorf("clean price tables: %w", err)
		}
		report.Cleaned = true
		p.log.Info().Int64("hourly", res.Hourly).Int64("daily", res.Daily).Msg("Deleted existing price data")
	}

	p.transition(report, models.RunInitializingReference)
	if err := p.refs.UpsertCoins(ctx, p.opts.Coins); err != nil {
		return fmt.Errorf("initialize coins: %w", err)
	}
	if err := p.refs.UpsertCurrencies(ctx, p.opts.Currencies); err != nil {
		return fmt.Errorf("initialize currencies: %w", err)
	}

	p.transition(report, models.RunFetchingFine)
	err := p.eachPair(ctx, phaseFine, p.opts.FineDays, report, func(coinID, currency string, chart *models.MarketChart) error {
		rows := FineRows(coinID, currency, chart.Prices)
		n, err := store.WriteHourly(ctx, p.prices, opts.Mode, rows)
		report.HourlyWritten += n
		p.metrics.RowsWrittenTo("price_hourly", n)
		if err != nil {
			return fmt.Errorf("write hourly %s/%s: %w", coinID, currency, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.transition(report, models.RunFetchingCoarse)
	return p.eachPair(ctx, phaseCoarse, p.opts.CoarseDays, report, func(coinID, currency string, chart *models.MarketChart) error {
		rows := DailyRows(coinID, currency, chart.Prices)
		n, err := store.WriteDaily(ctx, p.prices, opts.Mode, rows)
		report.DailyWritten += n
		p.metrics.RowsWrittenTo("price_daily", n)
		if err != nil {
			return fmt.Errorf("write daily %s/%s: %w", coinID, currency, err)
		}
		return nil
	})
}

// eachPair fetches the trailing window for every coin/currency pair in
// catalog order and hands the chart to write. A fetch error skips the pair;
// a write error stops the phase.
func (p *IngestionPipeline) eachPair(ctx context.Context, phase string, days int, report *models.RunReport, write func(coinID, currency string, chart *models.MarketChart) error) error {
	for _, coin := range p.opts.Coins {
		for _, cur := range p.opts.Currencies {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%s phase interrupted: %w", phase, err)
			}

			chart, err := p.client.FetchWindow(ctx, coin.ID, cur.Code, days)
			if err != nil {
				p.log.Warn().Err(err).
					Str("coin", coin.ID).
					Str("currency", cur.Code).
					Str("phase", phase).
					Msg("Error fetching market chart, skipping pair")
				report.FailedPairs = append(report.FailedPairs, models.PairFailure{
					CoinID:       coin.ID,
					CurrencyCode: cur.Code,
					Phase:        phase,
					Error:        err.Error(),
				})
				p.metrics.PairFailed(phase)
				continue
			}

			if err := write(coin.ID, cur.Code, chart); err != nil {
				return err
			}
			report.PairsFetched++
			p.metrics.PairFetched(phase)
			p.log.Debug().
				Str("coin", coin.ID).
				Str("currency", cur.Code).
				Str("phase", phase).
				Int("points", len(chart.Prices)).
				Msg("Stored market chart")
		}
	}
	return nil
}

func (p *IngestionPipeline) transition(report *models.RunReport, next models.RunState) {
	p.log.Info().Str("from", string(report.State)).Str("to", string(next)).Msg("Ingestion state change")
	report.State = next
}

// FineRows converts chart points to hourly rows, dropping missing and
// non-positive prices. Repeated timestamps keep the last value.
func FineRows(coinID, currency string, points []models.ChartPoint) []models.PriceHourly {
	index := make(map[int64]int, len(points))
	rows := make([]models.PriceHourly, 0, len(points))
	for _, pt := range points {
		if !validPrice(pt) {
			continue
		}
		ts := pt.Timestamp.UTC()
		price := pt.Value.Decimal.RoundBank(priceScale)
		if !price.IsPositive() {
			continue
		}
		if i, ok := index[ts.UnixMilli()]; ok {
			rows[i].Price = price
			continue
		}
		index[ts.UnixMilli()] = len(rows)
		rows = append(rows, models.PriceHourly{
			CoinID:       coinID,
			CurrencyCode: currency,
			Timestamp:    ts,
			Price:        price,
		})
	}
	return rows
}

// DailyRows reduces chart points to one row per UTC calendar day holding the
// arithmetic mean of that day's valid prices, rounded half-to-even to the
// column scale. Rows are ordered by date.
func DailyRows(coinID, currency string, points []models.ChartPoint) []models.PriceDaily {
	type acc struct {
		sum   decimal.Decimal
		count int64
	}
	days := make(map[time.Time]*acc)
	for _, pt := range points {
		if !validPrice(pt) {
			continue
		}
		day := models.TruncateDay(pt.Timestamp)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		a.sum = a.sum.Add(pt.Value.Decimal)
		a.count++
	}

	rows := make([]models.PriceDaily, 0, len(days))
	for day, a := range days {
		mean := a.sum.DivRound(decimal.NewFromInt(a.count), priceScale+4).RoundBank(priceScale)
		if !mean.IsPositive() {
			continue
		}
		rows = append(rows, models.PriceDaily{
			CoinID:       coinID,
			CurrencyCode: currency,
			Date:         day,
			Price:        mean,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

func validPrice(pt models.ChartPoint) bool {
	return pt.Value.Valid && pt.Value.Decimal.IsPositive()
}
