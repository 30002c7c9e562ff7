package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/store"
)

func newTestChain(name string) *domain.ChainConfig {
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

func newTestInvoice(network, address string, amountRaw uint64, decimals uint8) *domain.Invoice {
	now := time.Now().UTC()
	return &domain.Invoice{
		Network:   network,
		Address:   address,
		Token:     "USDC",
		Amount:    "25.37",
		AmountRaw: uint256.NewInt(amountRaw),
		Paid:      "0",
		PaidRaw:   uint256.NewInt(0),
		Decimals:  decimals,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		Status:    domain.InvoiceStatusPending,
	}
}

func TestRecordPayment_InsertsAndAccumulates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))

	inv := newTestInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", 25_370_000, 6)
	require.NoError(t, m.AddInvoice(ctx, inv))

	result, got, err := m.RecordPayment(ctx, domain.PaymentEvent{
		Network:     "polygon",
		To:          inv.Address,
		Token:       "USDC",
		TxHash:      "0x01",
		AmountRaw:   uint256.NewInt(10_000_000),
		BlockNumber: 100,
		LogIndex:    1,
	})
	require.NoError(t, err)
	require.Equal(t, domain.Inserted, result)
	require.Equal(t, "10000000", got.PaidRaw.Dec())

	_, got2, err := m.RecordPayment(ctx, domain.PaymentEvent{
		Network:     "polygon",
		To:          inv.Address,
		Token:       "USDC",
		TxHash:      "0x02",
		AmountRaw:   uint256.NewInt(15_370_000),
		BlockNumber: 102,
		LogIndex:    0,
	})
	require.NoError(t, err)
	require.Equal(t, "25370000", got2.PaidRaw.Dec())
}

func TestRecordPayment_DedupesByNetworkTxLogIndex(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))
	inv := newTestInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", 25_370_000, 6)
	require.NoError(t, m.AddInvoice(ctx, inv))

	event := domain.PaymentEvent{
		Network:     "polygon",
		To:          inv.Address,
		Token:       "USDC",
		TxHash:      "0xdup",
		AmountRaw:   uint256.NewInt(25_370_000),
		BlockNumber: 50,
		LogIndex:    3,
	}
	result, _, err := m.RecordPayment(ctx, event)
	require.NoError(t, err)
	require.Equal(t, domain.Inserted, result)

	result, _, err = m.RecordPayment(ctx, event)
	require.NoError(t, err)
	require.Equal(t, domain.AlreadyPresent, result)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "25370000", got.PaidRaw.Dec())
}

func TestRecordPayment_WrongTokenDropsEvent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))
	inv := newTestInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", 25_370_000, 6)
	require.NoError(t, m.AddInvoice(ctx, inv))

	result, _, err := m.RecordPayment(ctx, domain.PaymentEvent{
		Network:     "polygon",
		To:          inv.Address,
		Token:       "USDT",
		TxHash:      "0xwrong",
		AmountRaw:   uint256.NewInt(25_370_000),
		BlockNumber: 50,
		LogIndex:    0,
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceMismatch, result)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, got.PaidRaw.IsZero())
}

func TestRecordPayment_NoMatchingInvoice(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))

	result, inv, err := m.RecordPayment(ctx, domain.PaymentEvent{
		Network:     "polygon",
		To:          "0xNoOneIsWatchingThisAddress00000000000000",
		Token:       "USDC",
		TxHash:      "0xorphan",
		AmountRaw:   uint256.NewInt(1),
		BlockNumber: 1,
	})
	require.NoError(t, err)
	require.Equal(t, domain.NoMatchingInvoice, result)
	require.Nil(t, inv)
}

func TestGetFreeSlot_SkipsHeldIndicesAndReusesFreedOnes(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))

	idx0, ok, err := m.GetFreeSlot(ctx, "polygon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx0)

	inv0 := newTestInvoice("polygon", "0x0000000000000000000000000000000000aaaa", 1, 6)
	inv0.AddressIndex = 0
	require.NoError(t, m.AddInvoice(ctx, inv0))

	idx1, ok, err := m.GetFreeSlot(ctx, "polygon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), idx1)

	require.NoError(t, m.CancelInvoice(ctx, inv0.ID))

	idxReused, ok, err := m.GetFreeSlot(ctx, "polygon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), idxReused)
}

func TestConfirmPayment_PromotesInvoiceToPaidAndFreesWatchSet(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))
	inv := newTestInvoice("polygon", "0xAbC0000000000000000000000000000000dEaD", 25_370_000, 6)
	require.NoError(t, m.AddInvoice(ctx, inv))

	_, _, err := m.RecordPayment(ctx, domain.PaymentEvent{
		Network: "polygon", To: inv.Address, Token: "USDC", TxHash: "0x1",
		AmountRaw: uint256.NewInt(25_370_000), BlockNumber: 100,
	})
	require.NoError(t, err)

	payments, err := m.ListConfirmingPayments(ctx, "polygon", 200)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	_, gotInv, becamePaid, err := m.ConfirmPayment(ctx, payments[0].ID, 112, false)
	require.NoError(t, err)
	require.True(t, becamePaid)
	require.Equal(t, domain.InvoiceStatusPaid, gotInv.Status)

	addrs, err := m.WatchAddresses(ctx, "polygon")
	require.NoError(t, err)
	require.NotContains(t, addrs, stringsToLower(inv.Address))
}

func TestExpireDueInvoices_OnlyExpiresPastDeadlineAndUnderpaid(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))

	stale := newTestInvoice("polygon", "0x0000000000000000000000000000000000bbbb", 100, 6)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, m.AddInvoice(ctx, stale))

	fresh := newTestInvoice("polygon", "0x0000000000000000000000000000000000cccc", 100, 6)
	require.NoError(t, m.AddInvoice(ctx, fresh))

	expired, err := m.ExpireDueInvoices(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, stale.ID, expired[0].ID)

	got, err := m.GetInvoice(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPending, got.Status)
}

func TestExpireDueInvoices_NeverExpiresPendingInvoiceAlreadyFullyPaid(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	require.NoError(t, m.AddChain(ctx, newTestChain("polygon")))

	inv := newTestInvoice("polygon", "0x0000000000000000000000000000000000dddd", 100, 6)
	inv.ExpiresAt = time.Now().Add(-time.Minute)
	inv.PaidRaw = uint256.NewInt(100)
	inv.Paid = "0.0001"
	require.NoError(t, m.AddInvoice(ctx, inv))

	expired, err := m.ExpireDueInvoices(ctx, time.Now())
	require.NoError(t, err)
	require.Empty(t, expired)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPending, got.Status)
}

func TestClaimDueWebhooks_OnlyPendingAndDue(t *testing.T) {
	ctx := context.Background()
	m := store.NewMock()
	now := time.Now().UTC()

	due := &domain.Webhook{InvoiceID: "inv-1", URL: "https://merchant.example/hook", NextRetry: now.Add(-time.Second)}
	notYet := &domain.Webhook{InvoiceID: "inv-2", URL: "https://merchant.example/hook", NextRetry: now.Add(time.Hour)}
	require.NoError(t, m.EnqueueWebhook(ctx, due))
	require.NoError(t, m.EnqueueWebhook(ctx, notYet))

	claimed, err := m.ClaimDueWebhooks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, due.ID, claimed[0].ID)
	require.Equal(t, domain.WebhookStatusProcessing, claimed[0].Status)
}

func stringsToLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
