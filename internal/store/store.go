// Package store defines the persistence contract shared by every
// component and its two implementations: a PostgreSQL backend for
// production and an in-memory mock for tests and the
// DATABASE_TYPE=mock escape hatch.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"

	"cryptogateway/internal/domain"
)

// Sentinel errors returned by Store implementations. Callers translate
// these into apierr.Kind at the API boundary.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: conflict")
	ErrInUse     = errors.New("store: resource still in use")
	ErrDuplicate = errors.New("store: duplicate key")
)

// AuditEntry is one request/response pair recorded for the audit trail,
// grounded in payments-gateway.storage's audit_log table.
type AuditEntry struct {
	OccurredAt     time.Time
	Method         string
	Path           string
	RequestBody    []byte
	ResponseStatus int
	ResponseBody   []byte
}

// IdempotencyRecord caches a prior POST /invoice response so retries with
// the same Idempotency-Key header replay it instead of creating a
// duplicate invoice.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	InvoiceID    string
	ResponseBody []byte
}

// Store is the full persistence contract. Every mutating operation is
// transactional at row scope; RecordPayment and ConfirmPayment in
// particular must be serializable with respect to concurrent callers.
type Store interface {
	// Chains
	AddChain(ctx context.Context, cfg *domain.ChainConfig) error
	GetChain(ctx context.Context, name string) (*domain.ChainConfig, error)
	ListChains(ctx context.Context) ([]*domain.ChainConfig, error)
	RemoveChain(ctx context.Context, name string) error
	UpdateChainPartial(ctx context.Context, name string, patch domain.PartialChainUpdate) (*domain.ChainConfig, error)
	SetLastProcessedBlock(ctx context.Context, network string, block uint64) error

	// Tokens
	AddToken(ctx context.Context, network string, token domain.TokenConfig) error
	GetToken(ctx context.Context, network, symbol string) (*domain.TokenConfig, error)
	ListTokens(ctx context.Context, network string) ([]domain.TokenConfig, error)
	RemoveToken(ctx context.Context, network, symbol string) error

	// Watch set
	AddWatchAddress(ctx context.Context, network, address string) error
	RemoveWatchAddress(ctx context.Context, network, address string) error
	WatchAddresses(ctx context.Context, network string) ([]string, error)

	// Invoices
	AddInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceByAddress(ctx context.Context, network, address string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]*domain.Invoice, error)
	CancelInvoice(ctx context.Context, id string) error
	ExpireDueInvoices(ctx context.Context, now time.Time) ([]*domain.Invoice, error)
	GetFreeSlot(ctx context.Context, network string) (uint32, bool, error)

	// Payments + invoice ledger, atomic together.
	RecordPayment(ctx context.Context, event domain.PaymentEvent) (domain.InsertResult, *domain.Invoice, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error)
	ListConfirmingPayments(ctx context.Context, network string, maxBlock uint64) ([]*domain.Payment, error)
	// ConfirmPayment promotes a Confirming payment to Confirmed and, if
	// the owning invoice becomes fully paid under strict, transitions the
	// invoice to Paid and frees its watch address/slot.
	ConfirmPayment(ctx context.Context, paymentID string, head uint64, strict bool) (payment *domain.Payment, invoice *domain.Invoice, becamePaid bool, err error)
	// CancelPayment marks a non-terminal payment Cancelled and subtracts it
	// from its invoice's paid_raw, so an operator can back out a payment
	// recorded in error (e.g. a misattributed transfer) without waiting for
	// invariant 1 to be violated by a stale ledger entry.
	CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, *domain.Invoice, error)

	// Webhooks
	EnqueueWebhook(ctx context.Context, wh *domain.Webhook) error
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
	ListWebhooks(ctx context.Context, filter domain.WebhookFilter) ([]*domain.Webhook, error)
	ClaimDueWebhooks(ctx context.Context, now time.Time, limit int) ([]*domain.Webhook, error)
	MarkWebhookSent(ctx context.Context, id string) error
	MarkWebhookFailed(ctx context.Context, id string, nextRetry time.Time, status domain.WebhookStatus) error
	CancelWebhook(ctx context.Context, id string) error

	// Idempotency + audit
	LookupIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error
	InsertAudit(ctx context.Context, entry AuditEntry) error

	Close() error
}

// amountOrZero returns v, or a fresh zero uint256 if v is nil, so store
// implementations never persist or compare against a nil pointer.
func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
