package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rs/zerolog"

	"locamove/internal/config"
)

const (
	maxRetries     = 5
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

type Client struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewClient connects with exponential backoff and verifies the connection.
func NewClient(cfg config.MongoConfig, logger *zerolog.Logger) (*Client, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var client *mongo.Client
	var err error

	backoff := initialBackoff
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)

		client, err = mongo.Connect(ctx, clientOpts)
		if err != nil {
			cancel()
			if attempt == maxRetries {
				return nil, fmt.Errorf("connect to mongo after %d attempts: %w", maxRetries, err)
			}
			logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("mongo connect failed, retrying")
			time.Sleep(backoff)
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}

		if err = client.Ping(ctx, nil); err != nil {
			cancel()
			_ = client.Disconnect(context.Background())
			if attempt == maxRetries {
				return nil, fmt.Errorf("ping mongo after %d attempts: %w", maxRetries, err)
			}
			logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("mongo ping failed, retrying")
			time.Sleep(backoff)
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}

		cancel()
		break
	}

	db := client.Database(cfg.Database)
	return &Client{Client: client, DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
