package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/notblessy/cryptodash/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Prices  *PriceHandler
	Coins   *CoinHandler
	Cron    *CronHandler
	Health  *HealthHandler
	Metrics http.Handler
}

// NewRouter builds the echo server with middleware and all API routes.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(cfg.Log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := cfg.Log.Info()
			if v.Status >= http.StatusInternalServerError {
				event = cfg.Log.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api := e.Group("/api")
	api.GET("/prices", cfg.Prices.GetPrices)
	api.GET("/coins", cfg.Coins.ListCoins)
	api.GET("/coins/:id/metadata", cfg.Coins.GetMetadata)
	api.GET("/currencies", cfg.Coins.ListCurrencies)
	api.GET("/health", cfg.Health.Health)

	cron := api.Group("/cron", cfg.Cron.Auth()...)
	cron.POST("/fetch-data", cfg.Cron.FetchData)
	cron.GET("/fetch-data", cfg.Cron.Status)

	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	return e
}
