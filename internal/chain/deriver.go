package chain

import (
	"fmt"

	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"

	"cryptogateway/internal/domain"
)

// DeriveError is returned by DeriveAddress when the extended public key is
// malformed or the requested index cannot be derived non-hardened.
type DeriveError struct {
	Xpub  string
	Index uint32
	Err   error
}

func (e *DeriveError) Error() string {
	return fmt.Sprintf("chain: derive address for index %d: %v", e.Index, e.Err)
}

func (e *DeriveError) Unwrap() error { return e.Err }

// DeriveAddress performs a non-hardened BIP32 child derivation of xpub at
// index and encodes the resulting public key as the canonical address form
// for chainType. It is pure: no network or disk I/O.
func DeriveAddress(chainType domain.ChainType, xpub string, index uint32) (string, error) {
	if !chainType.Valid() {
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("unsupported chain type %q", chainType)}
	}
	if index >= hdkeychain.HardenedKeyStart {
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("index %d is not a valid non-hardened index", index)}
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("parse xpub: %w", err)}
	}
	if key.IsPrivate() {
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("expected an extended public key, got a private key")}
	}

	child, err := key.Child(index)
	if err != nil {
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("derive child %d: %w", index, err)}
	}

	switch chainType {
	case domain.ChainTypeEVM:
		return evmAddressFromChild(child)
	default:
		return "", &DeriveError{Xpub: xpub, Index: index, Err: fmt.Errorf("unsupported chain type %q", chainType)}
	}
}

func evmAddressFromChild(child *hdkeychain.ExtendedKey) (string, error) {
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("extract public key: %w", err)
	}
	ecdsaPub := pubKey.ToECDSA()
	return crypto.PubkeyToAddress(*ecdsaPub).Hex(), nil
}
