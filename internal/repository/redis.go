package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"locamove/internal/config"
	"locamove/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisQuoteRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisQuoteRepository(client *redis.Client, ttl time.Duration) *RedisQuoteRepository {
	return &RedisQuoteRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisQuoteRepository) GetQuote(ctx context.Context, key string) (*models.Quote, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, quoteKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote from redis: %w", err)
	}

	var quote models.Quote
	if err := json.Unmarshal([]byte(val), &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}

	return &quote, nil
}

func (r *RedisQuoteRepository) SetQuote(ctx context.Context, quote *models.Quote) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	if err := r.client.Set(ctx, quoteKey(quote.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set quote in redis: %w", err)
	}

	return nil
}

func (r *RedisQuoteRepository) ClearQuote(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, quoteKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete quote from redis: %w", err)
	}
	return nil
}

func (r *RedisQuoteRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rate_limit:%s", clientKey)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

func quoteKey(key string) string {
	return fmt.Sprintf("quote:%s", key)
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
