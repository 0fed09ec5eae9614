package repository

import (
	"context"
	"sync/atomic"
	"time"

	"locamove/internal/domain"
	"locamove/internal/models"

	"github.com/rs/zerolog"
)

type FailoverQuoteRepository struct {
	primary   domain.QuoteRepository
	fallback  domain.QuoteRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverQuoteRepository(primary, fallback domain.QuoteRepository, logger *zerolog.Logger) *FailoverQuoteRepository {
	return &FailoverQuoteRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverQuoteRepository) GetQuote(ctx context.Context, key string) (*models.Quote, error) {
	if !r.isDown.Load() {
		quote, err := r.primary.GetQuote(ctx, key)
		if err == nil {
			return quote, nil
		}
		r.logger.Error().Err(err).Msg("Primary quote repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		quote, err := r.primary.GetQuote(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return quote, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetQuote(ctx, key)
}

func (r *FailoverQuoteRepository) SetQuote(ctx context.Context, quote *models.Quote) error {
	if !r.isDown.Load() {
		err := r.primary.SetQuote(ctx, quote)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary quote repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SetQuote(ctx, quote)
}

func (r *FailoverQuoteRepository) ClearQuote(ctx context.Context, key string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearQuote(ctx, key)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary quote repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.ClearQuote(ctx, key)
}

func (r *FailoverQuoteRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, clientKey, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary quote repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.CheckRateLimit(ctx, clientKey, limit, window)
}
