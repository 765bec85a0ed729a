package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

type CoinReader interface {
	ListCoins(ctx context.Context) ([]models.Coin, error)
	ListCurrencies(ctx context.Context) ([]models.Currency, error)
	GetProfile(ctx context.Context, coinID string) (*models.CoinProfile, error)
}

type CoinHandler struct {
	coins CoinReader
	log   *logger.Logger
}

func NewCoinHandler(coins CoinReader, log *logger.Logger) *CoinHandler {
	return &CoinHandler{coins: coins, log: log}
}

// ListCoins returns the tracked coins
// GET /api/coins
func (h *CoinHandler) ListCoins(c echo.Context) error {
	coins, err := h.coins.ListCoins(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch coins")
		return fail(c, http.StatusInternalServerError, "Failed to fetch coins", nil)
	}
	return success(c, http.StatusOK, coins, "")
}

// ListCurrencies returns the quote currencies
// GET /api/currencies
func (h *CoinHandler) ListCurrencies(c echo.Context) error {
	currencies, err := h.coins.ListCurrencies(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch currencies")
		return fail(c, http.StatusInternalServerError, "Failed to fetch currencies", nil)
	}
	return success(c, http.StatusOK, currencies, "")
}

// GetMetadata returns description, image and homepage for a coin
// GET /api/coins/:id/metadata
func (h *CoinHandler) GetMetadata(c echo.Context) error {
	coinID := c.Param("id")

	profile, err := h.coins.GetProfile(c.Request().Context(), coinID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, fmt.Sprintf("Coin '%s' not found", coinID), nil)
	}
	if err != nil {
		h.log.Error().Err(err).Str("coin", coinID).Msg("Failed to fetch coin metadata")
		return fail(c, http.StatusInternalServerError, "Failed to fetch coin metadata", nil)
	}
	return success(c, http.StatusOK, profile, "")
}
