package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// ErrDeliveryFailed marks transport-level and non-2xx delivery outcomes.
// Callers queue or retry on it; anything else is a hard error.
var ErrDeliveryFailed = errors.New("delivery failed")

// Ack is the backend acknowledgement for an accepted transaction.
type Ack struct {
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"`
}

// Reporter receives the observed result of every upstream exchange.
type Reporter interface {
	ReportSuccess()
	ReportFailure()
}

// Client is the single network primitive for transaction delivery. Both the
// online submit path and the sync drain go through Deliver, so transport
// semantics live in exactly one place.
type Client struct {
	submitURL string
	http      *http.Client
	reporter  Reporter
	logger    *zap.Logger
}

func New(upstreamURL string, httpClient *http.Client, reporter Reporter, logger *zap.Logger) *Client {
	return &Client{
		submitURL: upstreamURL + "/transactions/new",
		http:      httpClient,
		reporter:  reporter,
		logger:    logger,
	}
}

// Deliver POSTs the payload exactly as submitted and decodes the JSON
// acknowledgement. A reachable backend that rejects the payload still counts
// as a delivery failure for the caller, but as connectivity for the reporter.
func (c *Client) Deliver(ctx context.Context, payload json.RawMessage) (*Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if c.reporter != nil {
			c.reporter.ReportFailure()
		}
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if c.reporter != nil {
		c.reporter.ReportSuccess()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("Backend rejected transaction",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: backend returned status %d", ErrDeliveryFailed, resp.StatusCode)
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode backend acknowledgement: %w", err)
	}
	return &ack, nil
}
