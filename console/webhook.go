package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/dashctl/section"
)

// ErrWebhookClosed is returned by the hook once Close has been called.
var ErrWebhookClosed = errors.New("webhook: closed")

// Webhook tells an external data loader that a section became visible.
// Each activation is delivered in the background so Show never waits on
// the loader. Server errors and timeouts are retried with exponential
// backoff; a 4xx other than 408 and 429 means the loader rejected the
// activation and is not retried.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookTimeout sets the per-request timeout. Default: 10s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.client.Timeout = d }
}

// WithWebhookBackoff sets the first retry delay; it doubles per attempt.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// activation is the body POSTed to the loader.
type activation struct {
	Section string    `json:"section"`
	At      time.Time `json:"at"`
	Attempt int       `json:"attempt"`
}

// Hook returns the post-activation hook.
func (w *Webhook) Hook() section.Hook {
	return func(_ context.Context, id string) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return ErrWebhookClosed
		}
		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			if err := w.deliver(w.ctx, id, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("webhook: delivery failed", "url", w.url, "section", id, "error", err)
			}
		}()
		return nil
	}
}

// Wait blocks until every delivery in flight has finished.
func (w *Webhook) Wait() { w.inflight.Wait() }

// Close refuses new activations, abandons pending retries and waits for
// deliveries to return. Safe to call twice.
func (w *Webhook) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()
	w.inflight.Wait()
	return nil
}

// deliver posts one activation until it is accepted, rejected, or the
// retries run out. Each attempt carries its number so the loader can tell
// a retry from a new activation.
func (w *Webhook) deliver(ctx context.Context, id string, at time.Time) error {
	var lastErr error
	delay := w.backoff
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			delay *= 2
		}

		retry, err := w.send(ctx, activation{Section: id, At: at, Attempt: attempt})
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		w.logger.Warn("webhook: attempt failed", "section", id, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("webhook: %d attempts: %w", w.maxRetries+1, lastErr)
}

// send performs one POST and reports whether a failure is worth retrying.
func (w *Webhook) send(ctx context.Context, body activation) (retry bool, err error) {
	data, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: rejected with status %d", resp.StatusCode)
	}
}
