// Package payment wraps the external payment-capture collaborator
// behind a narrow interface. Amounts cross this boundary only as
// integer minor units.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alsawah/go-shop/internal/config"
)

// Gateway captures a charge against an opaque payment token supplied by
// the buyer's browser. The order id travels as metadata so charges can
// be reconciled against orders later.
type Gateway interface {
	Capture(ctx context.Context, amountMinorUnits int64, currency, token string, orderID int64) (transactionID string, err error)
}

// CaptureError is a capture the gateway refused or failed to process.
// It is never swallowed: checkout surfaces it and marks the order.
type CaptureError struct {
	StatusCode int
	Message    string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("payment capture failed (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to a charges-style REST endpoint with form-encoded
// requests and bearer-key auth.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.PaymentConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Capture(ctx context.Context, amountMinorUnits int64, currency, token string, orderID int64) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinorUnits, 10))
	form.Set("currency", currency)
	form.Set("source", token)
	form.Set("description", "Shop order")
	form.Set("metadata[order_id]", strconv.FormatInt(orderID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("capture request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = "charge declined"
		}
		return "", &CaptureError{StatusCode: resp.StatusCode, Message: msg}
	}

	var charge struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return "", fmt.Errorf("decode capture response: %w", err)
	}
	if charge.ID == "" {
		return "", &CaptureError{StatusCode: resp.StatusCode, Message: "gateway returned no transaction id"}
	}

	return charge.ID, nil
}
