// Package reconcile implements the confirmation reconciler (C5):
// timer-driven promotion of Confirming payments to Confirmed once they
// clear required_confirmations.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/webhook"
)

const defaultInterval = 5 * time.Second

// Store is the subset of store.Store the reconciler needs.
type Store interface {
	ListChains(ctx context.Context) ([]*domain.ChainConfig, error)
	ListConfirmingPayments(ctx context.Context, network string, maxBlock uint64) ([]*domain.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID string, head uint64, strict bool) (*domain.Payment, *domain.Invoice, bool, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	EnqueueWebhook(ctx context.Context, wh *domain.Webhook) error
}

// HeadReader reads the current chain head. Production wires this to
// chain.RPCHeadReader, which dials the chain's RPC endpoints on its own
// connection, separate from the scanner's; tests supply a fake.
type HeadReader interface {
	BlockHead(ctx context.Context, cfg *domain.ChainConfig) (uint64, error)
}

// Reconciler periodically reconciles every configured chain.
type Reconciler struct {
	store    Store
	heads    HeadReader
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a Reconciler. interval <= 0 uses the default (5s).
func New(st Store, heads HeadReader, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, heads: heads, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	chains, err := r.store.ListChains(ctx)
	if err != nil {
		r.logger.Error("list chains failed", "error", err)
		return
	}
	for _, cfg := range chains {
		r.reconcileChain(ctx, cfg)
	}
}

func (r *Reconciler) reconcileChain(ctx context.Context, cfg *domain.ChainConfig) {
	head, err := r.heads.BlockHead(ctx, cfg)
	if err != nil {
		r.logger.Error("read chain head failed", "network", cfg.Name, "error", err)
		return
	}
	if head < cfg.RequiredConfirmations {
		return
	}
	maxBlock := head - cfg.RequiredConfirmations
	payments, err := r.store.ListConfirmingPayments(ctx, cfg.Name, maxBlock)
	if err != nil {
		r.logger.Error("list confirming payments failed", "network", cfg.Name, "error", err)
		return
	}
	for _, p := range payments {
		r.confirm(ctx, cfg, p, head)
	}
}

func (r *Reconciler) confirm(ctx context.Context, cfg *domain.ChainConfig, payment *domain.Payment, head uint64) {
	confirmed, inv, becamePaid, err := r.store.ConfirmPayment(ctx, payment.ID, head, cfg.StrictConfirmation)
	if err != nil {
		r.logger.Error("confirm payment failed", "payment_id", payment.ID, "error", err)
		return
	}
	if inv == nil {
		return
	}

	confirmations := head - confirmed.BlockNumber
	r.enqueueTxConfirmed(ctx, inv, confirmed, confirmations)
	if becamePaid {
		r.enqueueInvoicePaid(ctx, inv)
	}
}

func (r *Reconciler) enqueueTxConfirmed(ctx context.Context, inv *domain.Invoice, payment *domain.Payment, confirmations uint64) {
	if inv.WebhookURL == "" {
		return
	}
	payload := domain.WebhookPayload{
		EventType:     domain.EventTxConfirmed,
		InvoiceID:     inv.ID,
		TxHash:        payment.TxHash,
		Confirmations: confirmations,
		Timestamp:     time.Now().UTC(),
	}
	if err := r.store.EnqueueWebhook(ctx, webhook.NewJob(inv, payload)); err != nil {
		r.logger.Error("enqueue tx_confirmed webhook failed", "invoice_id", inv.ID, "error", err)
	}
}

func (r *Reconciler) enqueueInvoicePaid(ctx context.Context, inv *domain.Invoice) {
	if inv.WebhookURL == "" {
		return
	}
	payload := domain.WebhookPayload{
		EventType:  domain.EventInvoicePaid,
		InvoiceID:  inv.ID,
		PaidAmount: inv.Paid,
		Currency:   inv.Token,
		Timestamp:  time.Now().UTC(),
	}
	if err := r.store.EnqueueWebhook(ctx, webhook.NewJob(inv, payload)); err != nil {
		r.logger.Error("enqueue invoice_paid webhook failed", "invoice_id", inv.ID, "error", err)
	}
}
