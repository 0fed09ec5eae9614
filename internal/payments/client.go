package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"locamove/internal/config"

	"github.com/rs/zerolog"
)

// Client talks to the payment gateway's refund endpoint. The gateway is
// external; every call is bounded by the configured timeout.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

type refundRequest struct {
	BookingReference string  `json:"booking_reference"`
	Amount           float64 `json:"amount"`
}

func NewClient(cfg config.PaymentsConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// IssueRefund posts a refund payout for the booking. A non-2xx response is an
// error so the worker's retry policy applies.
func (c *Client) IssueRefund(ctx context.Context, bookingReference string, amount float64) error {
	body, err := json.Marshal(refundRequest{
		BookingReference: bookingReference,
		Amount:           amount,
	})
	if err != nil {
		return fmt.Errorf("encode refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, string(snippet))
	}

	if c.logger != nil {
		c.logger.Info().
			Str("reference", bookingReference).
			Float64("amount", amount).
			Msg("refund issued")
	}
	return nil
}
