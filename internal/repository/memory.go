package repository

import (
	"context"
	"sync"
	"time"

	"locamove/internal/models"
)

type MemoryQuoteRepository struct {
	quotes     sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemoryQuoteRepository(ttl time.Duration) *MemoryQuoteRepository {
	return &MemoryQuoteRepository{
		ttl: ttl,
	}
}

type quoteEntry struct {
	quote     *models.Quote
	expiresAt time.Time
}

func (r *MemoryQuoteRepository) GetQuote(ctx context.Context, key string) (*models.Quote, error) {
	val, ok := r.quotes.Load(key)
	if !ok {
		return nil, nil
	}
	entry := val.(*quoteEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.quotes.Delete(key)
		return nil, nil
	}
	return entry.quote, nil
}

func (r *MemoryQuoteRepository) SetQuote(ctx context.Context, quote *models.Quote) error {
	r.quotes.Store(quote.Key, &quoteEntry{
		quote:     quote,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryQuoteRepository) ClearQuote(ctx context.Context, key string) error {
	r.quotes.Delete(key)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryQuoteRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(clientKey)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(clientKey, entry)
	return entry.count <= limit, nil
}
