package domain

import "time"

// WebhookStatus is the delivery lifecycle state of a queued Webhook.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "Pending"
	WebhookStatusProcessing WebhookStatus = "Processing"
	WebhookStatusSent       WebhookStatus = "Sent"
	WebhookStatusFailed     WebhookStatus = "Failed"
	WebhookStatusCancelled  WebhookStatus = "Cancelled"
)

// WebhookEventType tags the payload variant carried by a Webhook, encoded
// on the wire as a `{event_type, data}` tagged union.
type WebhookEventType string

const (
	EventTxDetected     WebhookEventType = "tx_detected"
	EventTxConfirmed    WebhookEventType = "tx_confirmed"
	EventInvoicePaid    WebhookEventType = "invoice_paid"
	EventInvoiceExpired WebhookEventType = "invoice_expired"
)

// WebhookPayload is the data carried by a webhook delivery, shaped to
// marshal under the {event_type, data, invoice_id, timestamp} envelope
// every delivery uses. Only the fields relevant to EventType are set.
type WebhookPayload struct {
	EventType     WebhookEventType `json:"event_type"`
	InvoiceID     string           `json:"invoice_id"`
	TxHash        string           `json:"tx_hash,omitempty"`
	Amount        string           `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Confirmations uint64           `json:"confirmations,omitempty"`
	PaidAmount    string           `json:"paid_amount,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Webhook is a queued delivery job for a merchant's webhook_url.
type Webhook struct {
	ID         string
	InvoiceID  string
	URL        string
	Secret     string
	Payload    WebhookPayload
	Status     WebhookStatus
	Attempts   uint32
	MaxRetries uint32
	NextRetry  time.Time
	CreatedAt  time.Time
}

// WebhookFilter narrows a GET /webhook listing.
type WebhookFilter struct {
	InvoiceID  string
	EventType  string
	URL        string
	Status     *WebhookStatus
	Pagination Pagination
}
