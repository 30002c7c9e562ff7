// Package ingest implements the payment ingestor (C4): it drains the
// scanner event channel and turns each PaymentEvent into a Payment row
// and invoice ledger update.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/store"
	"cryptogateway/internal/webhook"
)

// Store is the subset of store.Store the ingestor needs.
type Store interface {
	RecordPayment(ctx context.Context, event domain.PaymentEvent) (domain.InsertResult, *domain.Invoice, error)
	GetChain(ctx context.Context, name string) (*domain.ChainConfig, error)
	EnqueueWebhook(ctx context.Context, wh *domain.Webhook) error
}

// Ingestor drains a single shared event channel fed by every active
// chain's scanner goroutine: one ingestor task for all chains.
type Ingestor struct {
	store  Store
	events <-chan domain.PaymentEvent
	logger *slog.Logger
}

// New constructs an Ingestor reading from events until the channel closes
// or ctx is cancelled.
func New(st Store, events <-chan domain.PaymentEvent, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: st, events: events, logger: logger}
}

// Run drains the event channel until ctx is cancelled or the channel closes.
func (in *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-in.events:
			if !ok {
				return
			}
			in.process(ctx, event)
		}
	}
}

func (in *Ingestor) process(ctx context.Context, event domain.PaymentEvent) {
	result, inv, err := in.store.RecordPayment(ctx, event)
	if err != nil {
		in.logger.Error("record payment failed", "network", event.Network, "tx_hash", event.TxHash, "error", err)
		return
	}
	switch result {
	case domain.AlreadyPresent:
		return
	case domain.NoMatchingInvoice:
		in.logger.Warn("payment event matches no pending invoice", "network", event.Network, "to", event.To, "tx_hash", event.TxHash)
		return
	case domain.InvoiceMismatch:
		in.logger.Info("payment event token/network mismatch", "network", event.Network, "to", event.To, "token", event.Token)
		return
	case domain.Inserted:
		in.enqueueTxDetected(ctx, inv, event)
	}
}

func (in *Ingestor) enqueueTxDetected(ctx context.Context, inv *domain.Invoice, event domain.PaymentEvent) {
	if inv == nil || inv.WebhookURL == "" {
		return
	}
	payload := domain.WebhookPayload{
		EventType: domain.EventTxDetected,
		InvoiceID: inv.ID,
		TxHash:    event.TxHash,
		Amount:    inv.Paid,
		Currency:  inv.Token,
		Timestamp: time.Now().UTC(),
	}
	wh := webhook.NewJob(inv, payload)
	if err := in.store.EnqueueWebhook(ctx, wh); err != nil {
		in.logger.Error("enqueue tx_detected webhook failed", "invoice_id", inv.ID, "error", err)
	}
}

// Compile-time check that *store.Mock and *store.Postgres satisfy Store.
var (
	_ Store = (*store.Mock)(nil)
	_ Store = (*store.Postgres)(nil)
)
