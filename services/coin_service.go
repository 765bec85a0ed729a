package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/store"
)

// CoinService serves the reference catalog and lazily filled coin metadata.
type CoinService struct {
	refs   store.ReferenceStore
	client MarketDataClient
	log    *logger.Logger
}

func NewCoinService(refs store.ReferenceStore, client MarketDataClient, log *logger.Logger) *CoinService {
	if log == nil {
		log = logger.NewSilent()
	}
	return &CoinService{refs: refs, client: client, log: log}
}

func (s *CoinService) ListCoins(ctx context.Context) ([]models.Coin, error) {
	return s.refs.FindCoins(ctx)
}

func (s *CoinService) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	return s.refs.FindCurrencies(ctx)
}

// GetProfile returns the coin with its metadata. Missing metadata is fetched
// upstream and stored. If that fetch fails the profile is returned with nil
// metadata fields. Unknown coins yield store.ErrNotFound.
func (s *CoinService) GetProfile(ctx context.Context, coinID string) (*models.CoinProfile, error) {
	coin, err := s.refs.FindCoin(ctx, coinID)
	if err != nil {
		return nil, err
	}

	profile := &models.CoinProfile{
		CoinID: coin.ID,
		Name:   coin.Name,
		Symbol: coin.Symbol,
	}

	meta, err := s.refs.GetMetadata(ctx, coinID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info().Str("coin", coinID).Msg("Metadata not found, fetching from CoinGecko")
		meta, err = s.fetchMetadata(ctx, coinID)
		if errors.Is(err, models.ErrUpstream) {
			s.log.Error().Err(err).Str("coin", coinID).Msg("Failed to fetch metadata from CoinGecko")
			return profile, nil
		}
	}
	if err != nil {
		return nil, err
	}

	profile.Description = meta.Description
	profile.ImageURL = meta.ImageURL
	profile.HomepageURL = meta.HomepageURL
	return profile, nil
}

func (s *CoinService) fetchMetadata(ctx context.Context, coinID string) (*models.CoinMetadata, error) {
	detail, err := s.client.FetchDetail(ctx, coinID)
	if err != nil {
		return nil, err
	}

	meta := &models.CoinMetadata{
		CoinID:      coinID,
		Description: nonEmpty(detail.Description),
		ImageURL:    nonEmpty(detail.ImageURL),
		HomepageURL: nonEmpty(detail.HomepageURL),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.refs.UpsertMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("store metadata for %s: %w", coinID, err)
	}
	s.log.Info().Str("coin", coinID).Msg("Stored coin metadata")
	return meta, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
