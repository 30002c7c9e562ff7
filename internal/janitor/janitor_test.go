package janitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/janitor"
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

func newInvoice(network, address string, expiresAt time.Time) *domain.Invoice {
	return &domain.Invoice{
		Network:    network,
		Address:    address,
		Token:      "USDC",
		Amount:     "25.37",
		AmountRaw:  uint256.NewInt(25_370_000),
		Paid:       "0",
		PaidRaw:    uint256.NewInt(0),
		Decimals:   6,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		ExpiresAt:  expiresAt,
		Status:     domain.InvoiceStatusPending,
		WebhookURL: "https://merchant.example/hook",
	}
}

func runJanitorTick(t *testing.T, st *store.Mock) {
	t.Helper()
	j := janitor.New(st, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done
}

func TestJanitor_ExpiresStaleZeroPaidInvoiceAndFreesSlot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", time.Now().Add(-time.Minute))
	require.NoError(t, st.AddInvoice(ctx, inv))

	runJanitorTick(t, st)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusExpired, got.Status)

	webhooks, err := st.ListWebhooks(ctx, domain.WebhookFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	require.Equal(t, domain.EventInvoiceExpired, webhooks[0].Payload.EventType)

	idx, ok, err := st.GetFreeSlot(ctx, "polygon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inv.AddressIndex, idx)
}

func TestJanitor_NeverExpiresInvoiceAlreadyFullyPaidButStillPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", time.Now().Add(-time.Minute))
	inv.PaidRaw = uint256.NewInt(25_370_000)
	inv.Paid = "25.37"
	require.NoError(t, st.AddInvoice(ctx, inv))

	runJanitorTick(t, st)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPending, got.Status)

	webhooks, err := st.ListWebhooks(ctx, domain.WebhookFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Empty(t, webhooks)
}

func TestJanitor_NeverTouchesFuturePendingInvoice(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	inv := newInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", time.Now().Add(time.Hour))
	require.NoError(t, st.AddInvoice(ctx, inv))

	runJanitorTick(t, st)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPending, got.Status)
}
