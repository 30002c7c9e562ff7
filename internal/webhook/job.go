package webhook

import (
	"time"

	"github.com/google/uuid"

	"cryptogateway/internal/domain"
)

// DefaultMaxRetries mirrors integrations/webhooks/rewards.go's
// defaultMaxAttempts: after this many failed deliveries a job moves to
// Failed rather than rescheduling.
const DefaultMaxRetries = 5

// NewJob builds a Pending webhook row scheduled for immediate delivery
// (next_retry = now), the shape every ingest/reconcile/janitor enqueue
// call uses regardless of which event type fired.
func NewJob(inv *domain.Invoice, payload domain.WebhookPayload) *domain.Webhook {
	return &domain.Webhook{
		ID:         uuid.New().String(),
		InvoiceID:  inv.ID,
		URL:        inv.WebhookURL,
		Secret:     inv.WebhookSecret,
		Payload:    payload,
		Status:     domain.WebhookStatusPending,
		Attempts:   0,
		MaxRetries: DefaultMaxRetries,
		NextRetry:  time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}
