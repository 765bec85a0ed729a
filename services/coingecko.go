package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/metrics"
	"github.com/notblessy/cryptodash/models"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout      = 30 * time.Second
	// DefaultRequestDelay keeps chart requests under 30 per minute.
	DefaultRequestDelay = 2 * time.Second

	apiKeyHeader = "x-cg-demo-api-key"
)

// MarketDataClient fetches historical prices and coin metadata.
type MarketDataClient interface {
	FetchWindow(ctx context.Context, coinID, currency string, days int) (*models.MarketChart, error)
	FetchRange(ctx context.Context, coinID, currency string, from, to time.Time) (*models.MarketChart, error)
	FetchDetail(ctx context.Context, coinID string) (*models.CoinDetail, error)
}

type CoinGeckoClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	log     *logger.Logger
	metrics *metrics.Metrics
}

type ClientOption func(*CoinGeckoClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *CoinGeckoClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithAPIKey(key string) ClientOption {
	return func(c *CoinGeckoClient) {
		c.apiKey = key
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *CoinGeckoClient) {
		c.client.Timeout = timeout
	}
}

// WithRequestDelay makes every chart request, the first included, wait
// delay. Waits are measured between request starts, not from the previous
// response. Zero disables pacing.
func WithRequestDelay(delay time.Duration) ClientOption {
	return func(c *CoinGeckoClient) {
		c.limiter = newPacer(delay)
	}
}

func WithLogger(log *logger.Logger) ClientOption {
	return func(c *CoinGeckoClient) {
		c.log = log
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *CoinGeckoClient) {
		c.metrics = m
	}
}

func NewCoinGeckoClient(opts ...ClientOption) *CoinGeckoClient {
	c := &CoinGeckoClient{
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL: DefaultCoinGeckoURL,
		limiter: newPacer(DefaultRequestDelay),
		log:     logger.NewSilent(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// newPacer allows one request per delay with no bursting. The bucket starts
// empty so the first request waits too.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	l := rate.NewLimiter(rate.Every(delay), 1)
	l.Allow()
	return l
}

// chartResponse is the market_chart payload: arrays of [ms, value] pairs.
type chartResponse struct {
	Prices       []chartPair `json:"prices"`
	MarketCaps   []chartPair `json:"market_caps"`
	TotalVolumes []chartPair `json:"total_volumes"`
}

type chartPair models.ChartPoint

// UnmarshalJSON decodes [timestamp_ms, value]. A null value is kept as an
// invalid NullDecimal so callers can skip it.
func (p *chartPair) UnmarshalJSON(data []byte) error {
	var raw []*json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 || raw[0] == nil {
		return fmt.Errorf("malformed chart point %s", string(data))
	}

	ms, err := strconv.ParseFloat(raw[0].String(), 64)
	if err != nil {
		return fmt.Errorf("parse chart timestamp: %w", err)
	}
	p.Timestamp = time.UnixMilli(int64(ms)).UTC()

	p.Value = decimal.NullDecimal{}
	if raw[1] != nil {
		v, err := decimal.NewFromString(raw[1].String())
		if err != nil {
			return fmt.Errorf("parse chart value: %w", err)
		}
		p.Value = decimal.NewNullDecimal(v)
	}
	return nil
}

func toPoints(pairs []chartPair) []models.ChartPoint {
	points := make([]models.ChartPoint, len(pairs))
	for i, p := range pairs {
		points[i] = models.ChartPoint(p)
	}
	return points
}

type detailResponse struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Description struct {
		En string `json:"en"`
	} `json:"description"`
	Image struct {
		Large string `json:"large"`
	} `json:"image"`
	Links struct {
		Homepage []string `json:"homepage"`
	} `json:"links"`
}

// FetchWindow returns the price history of the last days days. The upstream
// picks the resolution: ~5 minutes for 1 day, hourly up to 90 days, daily beyond.
func (c *CoinGeckoClient) FetchWindow(ctx context.Context, coinID, currency string, days int) (*models.MarketChart, error) {
	params := url.Values{}
	params.Set("vs_currency", currency)
	params.Set("days", strconv.Itoa(days))

	var resp chartResponse
	path := fmt.Sprintf("/coins/%s/market_chart", url.PathEscape(coinID))
	if err := c.get(ctx, "market_chart", path, params, true, &resp); err != nil {
		return nil, err
	}
	return &models.MarketChart{
		Prices:       toPoints(resp.Prices),
		MarketCaps:   toPoints(resp.MarketCaps),
		TotalVolumes: toPoints(resp.TotalVolumes),
	}, nil
}

// FetchRange returns the price history between from and to.
func (c *CoinGeckoClient) FetchRange(ctx context.Context, coinID, currency string, from, to time.Time) (*models.MarketChart, error) {
	params := url.Values{}
	params.Set("vs_currency", currency)
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))

	var resp chartResponse
	path := fmt.Sprintf("/coins/%s/market_chart/range", url.PathEscape(coinID))
	if err := c.get(ctx, "market_chart_range", path, params, true, &resp); err != nil {
		return nil, err
	}
	return &models.MarketChart{
		Prices:       toPoints(resp.Prices),
		MarketCaps:   toPoints(resp.MarketCaps),
		TotalVolumes: toPoints(resp.TotalVolumes),
	}, nil
}

// FetchDetail returns descriptive metadata for a coin. It is not paced.
func (c *CoinGeckoClient) FetchDetail(ctx context.Context, coinID string) (*models.CoinDetail, error) {
	params := url.Values{}
	for _, k := range []string{"localization", "tickers", "market_data", "community_data", "developer_data", "sparkline"} {
		params.Set(k, "false")
	}

	var resp detailResponse
	path := fmt.Sprintf("/coins/%s", url.PathEscape(coinID))
	if err := c.get(ctx, "coin_detail", path, params, false, &resp); err != nil {
		return nil, err
	}

	detail := &models.CoinDetail{
		ID:          resp.ID,
		Symbol:      resp.Symbol,
		Name:        resp.Name,
		Description: resp.Description.En,
		ImageURL:    resp.Image.Large,
	}
	for _, h := range resp.Links.Homepage {
		if h != "" {
			detail.HomepageURL = h
			break
		}
	}
	return detail, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, endpoint, path string, params url.Values, paced bool, result any) error {
	if paced {
		if err := c.limiter.Wait(ctx); err != nil {
			return &models.UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &models.UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	c.log.Debug().Str("endpoint", endpoint).Str("path", path).Msg("CoinGecko request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(endpoint, "error", time.Since(start).Seconds())
		return &models.UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.ObserveUpstream(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &models.UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		c.metrics.ObserveUpstream(endpoint, "decode_error", time.Since(start).Seconds())
		return &models.UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.metrics.ObserveUpstream(endpoint, "ok", time.Since(start).Seconds())
	return nil
}
