// Package webhook implements the webhook dispatcher (C7): a timer-driven
// worker that claims due jobs from the store, HMAC-signs and POSTs them,
// and reschedules failures with exponential backoff, adapted from
// integrations/webhooks/rewards.go's in-memory Dispatcher to the
// store-backed claim_due polling, so a crash between claim and delivery
// never silently drops a job.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"cryptogateway/internal/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 32
	backoffBase         = 30 * time.Second
	backoffCap          = time.Hour
	jitterPercent       = 0.25
	deliveryTimeout     = 10 * time.Second
)

// Store is the subset of store.Store the dispatcher needs.
type Store interface {
	ClaimDueWebhooks(ctx context.Context, now time.Time, limit int) ([]*domain.Webhook, error)
	MarkWebhookSent(ctx context.Context, id string) error
	MarkWebhookFailed(ctx context.Context, id string, nextRetry time.Time, status domain.WebhookStatus) error
}

// envelope is the JSON wire shape used for every delivery regardless of
// event type.
type envelope struct {
	EventType domain.WebhookEventType `json:"event_type"`
	Data      domain.WebhookPayload   `json:"data"`
	InvoiceID string                  `json:"invoice_id"`
	Timestamp time.Time               `json:"timestamp"`
}

// Dispatcher polls the store for due webhook jobs and delivers them.
type Dispatcher struct {
	store        Store
	client       *http.Client
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
}

// New constructs a Dispatcher. A nil client defaults to one with a
// 10s outbound POST timeout.
func New(st Store, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: deliveryTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:        st,
		client:       client,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		logger:       logger,
	}
}

// Run polls on a fixed interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	jobs, err := d.store.ClaimDueWebhooks(ctx, time.Now().UTC(), d.batchSize)
	if err != nil {
		d.logger.Error("claim due webhooks failed", "error", err)
		return
	}
	for _, job := range jobs {
		d.deliver(ctx, job)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job *domain.Webhook) {
	body, err := json.Marshal(envelope{
		EventType: job.Payload.EventType,
		Data:      job.Payload,
		InvoiceID: job.InvoiceID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		d.logger.Error("marshal webhook payload failed", "webhook_id", job.ID, "error", err)
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	err = d.send(deliverCtx, job, body)
	cancel()
	if err == nil {
		if mErr := d.store.MarkWebhookSent(ctx, job.ID); mErr != nil {
			d.logger.Error("mark webhook sent failed", "webhook_id", job.ID, "error", mErr)
		}
		return
	}

	d.logger.Warn("webhook delivery failed", "webhook_id", job.ID, "url", job.URL, "attempt", job.Attempts+1, "error", err)
	attempts := job.Attempts + 1
	status := domain.WebhookStatusPending
	nextRetry := jitteredBackoff(job.Attempts)
	if attempts >= job.MaxRetries {
		status = domain.WebhookStatusFailed
	}
	if mErr := d.store.MarkWebhookFailed(ctx, job.ID, time.Now().UTC().Add(nextRetry), status); mErr != nil {
		d.logger.Error("mark webhook failed failed", "webhook_id", job.ID, "error", mErr)
	}
}

func (d *Dispatcher) send(ctx context.Context, job *domain.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if job.Secret != "" {
		req.Header.Set("X-Signature", sign(job.Secret, body))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery returned status %d", resp.StatusCode)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// jitteredBackoff computes the retry delay from the attempt count already
// on record before this failure (0 on the first failure, 1 on the second,
// ...): min(cap, base * 2^attempts) * (1 ± jitter).
func jitteredBackoff(attempts uint32) time.Duration {
	d := backoffBase
	for i := uint32(0); i < attempts && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*2-1)*jitterPercent
	return time.Duration(float64(d) * jitter)
}
