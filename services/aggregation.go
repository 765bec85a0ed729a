package services

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notblessy/cryptodash/models"
)

const (
	dailyLayout  = "2006-01-02"
	hourlyLayout = "2006-01-02 15:00:00"
)

// FormatGroupDate renders t as the group key for the granularity: the UTC
// day for daily, the UTC clock hour for hourly.
func FormatGroupDate(t time.Time, g models.Granularity) string {
	if g == models.GranularityHourly {
		return t.UTC().Format(hourlyLayout)
	}
	return t.UTC().Format(dailyLayout)
}

type group struct {
	row   models.AggregatedPrice
	sum   decimal.Decimal
	count int64
}

// Aggregate averages observations grouped by the requested breakdown
// dimensions. An empty breakdown groups by date only. Unknown dimensions are
// ignored. Groups are returned in the order they were first seen.
func Aggregate(obs []models.PriceObservation, g models.Granularity, breakdown []models.BreakdownDimension) []models.AggregatedPrice {
	var byCoin, byCurrency, byDate bool
	for _, d := range breakdown {
		switch d {
		case models.BreakdownCoin:
			byCoin = true
		case models.BreakdownCurrency:
			byCurrency = true
		case models.BreakdownDate:
			byDate = true
		}
	}
	if len(breakdown) == 0 {
		byDate = true
	}

	groups := make(map[string]*group)
	order := make([]string, 0)
	var key strings.Builder

	for _, o := range obs {
		var coin, currency, date string
		key.Reset()
		if byCoin {
			coin = o.CoinID
			key.WriteString(coin)
		}
		key.WriteByte('|')
		if byCurrency {
			currency = strings.ToUpper(o.CurrencyCode)
			key.WriteString(currency)
		}
		key.WriteByte('|')
		if byDate {
			date = FormatGroupDate(o.Time, g)
			key.WriteString(date)
		}

		k := key.String()
		grp, ok := groups[k]
		if !ok {
			grp = &group{}
			if byCoin {
				grp.row.Coin = &coin
			}
			if byCurrency {
				grp.row.Currency = &currency
			}
			if byDate {
				grp.row.Date = &date
			}
			groups[k] = grp
			order = append(order, k)
		}
		grp.sum = grp.sum.Add(o.Price)
		grp.count++
	}

	out := make([]models.AggregatedPrice, 0, len(order))
	for _, k := range order {
		grp := groups[k]
		mean := grp.sum.Div(decimal.NewFromInt(grp.count))
		grp.row.Price = mean.InexactFloat64()
		out = append(out, grp.row)
	}
	return out
}
