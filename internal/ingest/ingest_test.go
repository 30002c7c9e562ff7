package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/ingest"
	"cryptogateway/internal/store"
)

func newChain(name string) *domain.ChainConfig {
	return &domain.ChainConfig{
		Name:                  name,
		ChainType:             domain.ChainTypeEVM,
		RPCURLs:               []string{"https://rpc.example/" + name},
		Xpub:                  "xpub-fake",
		NativeSymbol:          "MATIC",
		Decimals:              18,
		BlockLag:              5,
		RequiredConfirmations: 12,
	}
}

func newInvoice(network, address string) *domain.Invoice {
	now := time.Now().UTC()
	return &domain.Invoice{
		Network:   network,
		Address:   address,
		Token:     "USDC",
		Amount:    "25.37",
		AmountRaw: uint256.NewInt(25_370_000),
		Paid:      "0",
		PaidRaw:   uint256.NewInt(0),
		Decimals:  6,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		Status:    domain.InvoiceStatusPending,
		WebhookURL: "https://merchant.example/hook",
	}
}

func runIngestorOnce(t *testing.T, st *store.Mock, event domain.PaymentEvent) {
	t.Helper()
	events := make(chan domain.PaymentEvent, 1)
	in := ingest.New(st, events, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()
	events <- event
	// give the single-consumer goroutine a moment to process the event
	// before tearing the ingestor down.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}

func TestIngestor_RecordsPaymentAndEnqueuesTxDetected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD")
	require.NoError(t, st.AddInvoice(ctx, inv))

	runIngestorOnce(t, st, domain.PaymentEvent{
		Network: "polygon", To: inv.Address, Token: "USDC", TxHash: "0x1",
		AmountRaw: uint256.NewInt(10_000_000), BlockNumber: 100,
	})

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "10000000", got.PaidRaw.Dec())

	webhooks, err := st.ListWebhooks(ctx, domain.WebhookFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	require.Equal(t, domain.EventTxDetected, webhooks[0].Payload.EventType)
}

func TestIngestor_DropsEventForWrongToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD")
	require.NoError(t, st.AddInvoice(ctx, inv))

	runIngestorOnce(t, st, domain.PaymentEvent{
		Network: "polygon", To: inv.Address, Token: "USDT", TxHash: "0x1",
		AmountRaw: uint256.NewInt(10_000_000), BlockNumber: 100,
	})

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, got.PaidRaw.IsZero())

	webhooks, err := st.ListWebhooks(ctx, domain.WebhookFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Empty(t, webhooks)
}

func TestIngestor_IdempotentOnDuplicateEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD")
	require.NoError(t, st.AddInvoice(ctx, inv))

	event := domain.PaymentEvent{
		Network: "polygon", To: inv.Address, Token: "USDC", TxHash: "0xdup",
		AmountRaw: uint256.NewInt(25_370_000), BlockNumber: 100, LogIndex: 2,
	}
	runIngestorOnce(t, st, event)
	runIngestorOnce(t, st, event)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "25370000", got.PaidRaw.Dec())

	webhooks, err := st.ListWebhooks(ctx, domain.WebhookFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
}
