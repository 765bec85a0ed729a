package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/services"
)

const dateLayout = "2006-01-02"

type PriceReader interface {
	GetPrices(ctx context.Context, q models.PriceQuery) ([]models.AggregatedPrice, error)
}

type PriceHandler struct {
	prices PriceReader
	log    *logger.Logger
}

func NewPriceHandler(prices PriceReader, log *logger.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		log:    log,
	}
}

type PriceFilters struct {
	CoinIDs       []string `json:"coinIds"`
	CurrencyCodes []string `json:"currencyCodes"`
}

type PriceMeta struct {
	Count       int                         `json:"count"`
	Granularity models.Granularity          `json:"granularity"`
	DateFrom    string                      `json:"dateFrom"`
	DateTo      string                      `json:"dateTo"`
	Breakdown   []models.BreakdownDimension `json:"breakdown"`
	Filters     PriceFilters                `json:"filters"`
}

type PriceResponse struct {
	Data []models.AggregatedPrice `json:"data"`
	Meta PriceMeta                `json:"meta"`
}

// GetPrices returns aggregated prices for a date range
// GET /api/prices?coinIds=&currencyCodes=&dateFrom=&dateTo=&breakdown=&granularity=
func (h *PriceHandler) GetPrices(c echo.Context) error {
	q, err := ParsePriceQuery(
		c.QueryParam("coinIds"),
		c.QueryParam("currencyCodes"),
		c.QueryParam("dateFrom"),
		c.QueryParam("dateTo"),
		c.QueryParam("breakdown"),
		c.QueryParam("granularity"),
	)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}

	h.log.Info().
		Strs("coin_ids", q.CoinIDs).
		Strs("currency_codes", q.CurrencyCodes).
		Str("date_from", q.DateFrom.Format(dateLayout)).
		Str("date_to", q.DateTo.Format(dateLayout)).
		Str("granularity", string(q.Granularity)).
		Msg("Fetching prices")

	rows, err := h.prices.GetPrices(c.Request().Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch prices")
		return fail(c, statusFor(err), "Failed to fetch prices", nil)
	}

	breakdown := q.Breakdown
	if breakdown == nil {
		breakdown = []models.BreakdownDimension{}
	}
	return success(c, http.StatusOK, PriceResponse{
		Data: rows,
		Meta: PriceMeta{
			Count:       len(rows),
			Granularity: q.Granularity,
			DateFrom:    q.DateFrom.Format(dateLayout),
			DateTo:      q.DateTo.Format(dateLayout),
			Breakdown:   breakdown,
			Filters: PriceFilters{
				CoinIDs:       nonNil(q.CoinIDs),
				CurrencyCodes: nonNil(q.CurrencyCodes),
			},
		},
	}, "")
}

// ParsePriceQuery validates raw query parameters. Currency codes are
// lowercased. Breakdown values must be coin, currency or date.
func ParsePriceQuery(coinIDs, currencyCodes, dateFrom, dateTo, breakdown, granularity string) (models.PriceQuery, error) {
	var q models.PriceQuery

	if dateFrom == "" || dateTo == "" {
		return q, &models.ValidationError{Message: "dateFrom and dateTo are required"}
	}
	from, err := time.ParseInLocation(dateLayout, dateFrom, time.UTC)
	if err != nil {
		return q, &models.ValidationError{Field: "dateFrom", Message: "invalid date format, use YYYY-MM-DD"}
	}
	to, err := time.ParseInLocation(dateLayout, dateTo, time.UTC)
	if err != nil {
		return q, &models.ValidationError{Field: "dateTo", Message: "invalid date format, use YYYY-MM-DD"}
	}
	if from.After(to) {
		return q, &models.ValidationError{Message: "dateFrom must be before or equal to dateTo"}
	}

	q.DateFrom = from
	q.DateTo = to
	q.CoinIDs = splitCSV(coinIDs, false)
	q.CurrencyCodes = splitCSV(currencyCodes, true)

	for _, d := range splitCSV(breakdown, false) {
		dim := models.BreakdownDimension(d)
		if !dim.Valid() {
			return q, &models.ValidationError{Field: "breakdown", Message: "unknown dimension " + d + ", use coin, currency or date"}
		}
		q.Breakdown = append(q.Breakdown, dim)
	}

	q.Granularity, err = services.ResolveGranularity(granularity, from, to)
	if err != nil {
		return q, err
	}
	return q, nil
}

func splitCSV(raw string, lower bool) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
