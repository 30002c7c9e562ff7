package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/orchestrator"
	"cryptogateway/internal/store"
)

func newChain(name string) *domain.ChainConfig {
	return &domain.ChainConfig{
		Name:                  name,
		ChainType:             domain.ChainTypeEVM,
		RPCURLs:               []string{"https://rpc.invalid.example/" + name},
		Xpub:                  "xpub-fake",
		NativeSymbol:          "MATIC",
		Decimals:              18,
		BlockLag:              5,
		RequiredConfirmations: 12,
	}
}

// newOrchestrator builds an Orchestrator whose scanners fail on their first
// RPC call (the RPC host does not resolve), so each scanner goroutine exits
// quickly with a logged error rather than holding a live connection open.
func newOrchestrator(st *store.Mock) *orchestrator.Orchestrator {
	events := make(chan domain.PaymentEvent, 16)
	return orchestrator.New(st, events, nil)
}

func TestOrchestrator_AddChainPersistsAndTracksChain(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	o := newOrchestrator(st)

	cfg := newChain("polygon")
	require.NoError(t, o.AddChain(ctx, cfg))

	got, err := st.GetChain(ctx, "polygon")
	require.NoError(t, err)
	require.Equal(t, "polygon", got.Name)

	// Give the scanner goroutine time to dial-fail and exit on its own;
	// Shutdown must still complete cleanly afterward.
	time.Sleep(20 * time.Millisecond)
	o.Shutdown()
}

func TestOrchestrator_RemoveChainRefusesWithNonTerminalInvoices(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	o := newOrchestrator(st)

	cfg := newChain("polygon")
	require.NoError(t, o.AddChain(ctx, cfg))
	time.Sleep(10 * time.Millisecond)

	inv := &domain.Invoice{
		Network:   "polygon",
		Address:   "0xAbC0000000000000000000000000000000dEaD",
		Token:     "USDC",
		Status:    domain.InvoiceStatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, st.AddInvoice(ctx, inv))

	err := o.RemoveChain(ctx, "polygon")
	require.Error(t, err)

	_, getErr := st.GetChain(ctx, "polygon")
	require.NoError(t, getErr, "chain must still exist after a refused removal")

	o.Shutdown()
}

func TestOrchestrator_RemoveChainDeletesWhenNoOpenInvoices(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	o := newOrchestrator(st)

	cfg := newChain("polygon")
	require.NoError(t, o.AddChain(ctx, cfg))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, o.RemoveChain(ctx, "polygon"))

	_, err := st.GetChain(ctx, "polygon")
	require.Error(t, err)
}

func TestOrchestrator_UpdateChainPartialRestartsScanner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	o := newOrchestrator(st)

	cfg := newChain("polygon")
	require.NoError(t, o.AddChain(ctx, cfg))
	time.Sleep(10 * time.Millisecond)

	newLag := uint8(9)
	patch := domain.PartialChainUpdate{BlockLag: &newLag}
	updated, err := o.UpdateChainPartial(ctx, "polygon", patch)
	require.NoError(t, err)
	require.Equal(t, newLag, updated.BlockLag)

	got, err := st.GetChain(ctx, "polygon")
	require.NoError(t, err)
	require.Equal(t, newLag, got.BlockLag)

	o.Shutdown()
}

func TestOrchestrator_GetFreeSlotPassesThroughToStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	o := newOrchestrator(st)

	require.NoError(t, o.AddChain(ctx, newChain("polygon")))
	time.Sleep(10 * time.Millisecond)

	idx, ok, err := o.GetFreeSlot(ctx, "polygon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)

	o.Shutdown()
}

func TestOrchestrator_StartAllResumesPersistedChains(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	bootstrapOrch := newOrchestrator(st)
	require.NoError(t, st.AddChain(ctx, newChain("polygon")))
	require.NoError(t, st.AddChain(ctx, newChain("ethereum")))

	require.NoError(t, bootstrapOrch.StartAll(ctx))
	time.Sleep(10 * time.Millisecond)
	bootstrapOrch.Shutdown()

	chains, err := st.ListChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 2)
}
