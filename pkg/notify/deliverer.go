package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/livelaunch/platform/pkg/gateway/httpclient"
	"github.com/livelaunch/platform/pkg/subscription"
)

// ErrGone means the destination no longer exists and should be cleared.
var ErrGone = errors.New("destination gone")

const codeUnknownWebhook = 10015

// Deliverer pushes one payload to one destination.
type Deliverer interface {
	Deliver(ctx context.Context, dest subscription.Destination, payload Payload) error
}

// DeliveryError is a non-2xx answer from a destination.
type DeliveryError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver: status %d code %d: %s", e.Status, e.Code, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	if e.Status == http.StatusNotFound || e.Code == codeUnknownWebhook {
		return ErrGone
	}
	return nil
}

// WebhookDeliverer posts payloads to webhook URLs.
type WebhookDeliverer struct {
	client   *http.Client
	limiter  *rate.Limiter
	attempts int
}

func NewWebhookDeliverer(timeout time.Duration, perSecond float64) *WebhookDeliverer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &WebhookDeliverer{
		client:   httpclient.New(timeout),
		limiter:  rate.NewLimiter(limit, 5),
		attempts: 3,
	}
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, dest subscription.Destination, payload Payload) error {
	if !dest.Configured() {
		return fmt.Errorf("deliver: %w: no webhook configured", ErrGone)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return httpclient.Retry(ctx, d.attempts, 500*time.Millisecond, func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return httpclient.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return httpclient.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("deliver: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}

		derr := &DeliveryError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, derr) != nil || derr.Message == "" {
			derr.Message = http.StatusText(resp.StatusCode)
		}
		status := &httpclient.StatusError{Status: resp.StatusCode}
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := time.ParseDuration(v + "s"); err == nil {
				status.RetryAfter = secs
			}
		}
		if httpclient.IsRetriable(status) {
			return fmt.Errorf("%w (%w)", derr, status)
		}
		return httpclient.Permanent(derr)
	})
}
