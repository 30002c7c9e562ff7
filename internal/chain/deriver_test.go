package chain

import (
	"testing"

	"github.com/btcsuite/btcutil/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
)

func testXpub(t *testing.T) string {
	t.Helper()
	seed := []byte("deterministic test seed for derivation 0123456789")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	pub, err := master.Neuter()
	require.NoError(t, err)
	return pub.String()
}

func TestDeriveAddress_Deterministic(t *testing.T) {
	xpub := testXpub(t)
	a1, err := DeriveAddress(domain.ChainTypeEVM, xpub, 0)
	require.NoError(t, err)
	a2, err := DeriveAddress(domain.ChainTypeEVM, xpub, 0)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Len(t, a1, 42)
	require.Equal(t, "0x", a1[:2])
}

func TestDeriveAddress_DistinctIndices(t *testing.T) {
	xpub := testXpub(t)
	a0, err := DeriveAddress(domain.ChainTypeEVM, xpub, 0)
	require.NoError(t, err)
	a1, err := DeriveAddress(domain.ChainTypeEVM, xpub, 1)
	require.NoError(t, err)
	require.NotEqual(t, a0, a1)
}

func TestDeriveAddress_MalformedXpub(t *testing.T) {
	_, err := DeriveAddress(domain.ChainTypeEVM, "not-an-xpub", 0)
	require.Error(t, err)
	var derr *DeriveError
	require.ErrorAs(t, err, &derr)
}

func TestDeriveAddress_RejectsHardenedIndex(t *testing.T) {
	xpub := testXpub(t)
	_, err := DeriveAddress(domain.ChainTypeEVM, xpub, hdkeychain.HardenedKeyStart)
	require.Error(t, err)
}

func TestDeriveAddress_RejectsPrivateKey(t *testing.T) {
	seed := []byte("another deterministic seed for priv key test!!!")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	_, err = DeriveAddress(domain.ChainTypeEVM, master.String(), 0)
	require.Error(t, err)
}

func TestDeriveAddress_RejectsUnsupportedChainType(t *testing.T) {
	xpub := testXpub(t)
	_, err := DeriveAddress(domain.ChainType("BTC"), xpub, 0)
	require.Error(t, err)
}
