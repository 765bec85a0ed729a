package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/notblessy/cryptodash/logger"
)

// IngestionTrigger starts a background ingestion run. It reports false when
// a run is already in flight.
type IngestionTrigger interface {
	Trigger(cleanFirst bool) bool
}

type CronHandler struct {
	secret  string
	trigger IngestionTrigger
	log     *logger.Logger
}

func NewCronHandler(secret string, trigger IngestionTrigger, log *logger.Logger) *CronHandler {
	return &CronHandler{secret: secret, trigger: trigger, log: log}
}

// Auth returns the middleware chain guarding the cron routes: 500 when no
// secret is configured, 401 unless the request carries the bearer secret.
func (h *CronHandler) Auth() []echo.MiddlewareFunc {
	configured := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.secret == "" {
				h.log.Error().Msg("CRON_SECRET environment variable not configured")
				return fail(c, http.StatusInternalServerError, "Cron job not configured", nil)
			}
			return next(c)
		}
	}

	keyAuth := middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(h.secret)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			h.log.Warn().Str("ip", c.RealIP()).Msg("Unauthorized cron job attempt")
			return fail(c, http.StatusUnauthorized, "Unauthorized", nil)
		},
	})

	return []echo.MiddlewareFunc{configured, keyAuth}
}

type FetchStarted struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// FetchData starts an ingestion run without cleaning and returns at once
// POST /api/cron/fetch-data
func (h *CronHandler) FetchData(c echo.Context) error {
	message := "Data fetch started successfully"
	if h.trigger.Trigger(false) {
		h.log.Info().Msg("Cron job triggered, starting data fetch")
	} else {
		message = "Data fetch already in progress"
	}

	return success(c, http.StatusAccepted, FetchStarted{
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Status:    "processing",
	}, "")
}

type CronStatus struct {
	Status      string `json:"status"`
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Status is a credential check for schedulers
// GET /api/cron/fetch-data
func (h *CronHandler) Status(c echo.Context) error {
	return success(c, http.StatusOK, CronStatus{
		Status:      "ready",
		Endpoint:    "/api/cron/fetch-data",
		Method:      http.MethodPost,
		Description: "Scheduled data fetch endpoint for CoinGecko API",
	}, "")
}
