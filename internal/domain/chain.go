// Package domain holds the persistence-agnostic model shared by every
// component: chain/token configuration, invoices, payments, webhooks, and
// the events that flow between the scanner, ingestor, and dispatcher.
package domain

import "sync"

// ChainType is a closed sum type over supported blockchain families.
// Adding a family means adding a variant here plus a chain.Scanner and
// chain.DeriveAddress case, never a dynamic plugin registry.
type ChainType string

const (
	ChainTypeEVM ChainType = "EVM"
)

func (t ChainType) Valid() bool {
	switch t {
	case ChainTypeEVM:
		return true
	default:
		return false
	}
}

// TokenConfig describes one ERC-20-style token tracked on a chain. Unique
// per (chain, symbol) and per (chain, contract) — enforced by the store.
type TokenConfig struct {
	Symbol   string
	Contract string
	Decimals uint8
}

// ChainConfig is a supported chain and its scanner parameters.
type ChainConfig struct {
	Name                  string
	ChainType             ChainType
	RPCURLs               []string
	Xpub                  string
	NativeSymbol          string
	Decimals              uint8
	LastProcessedBlock    uint64
	BlockLag              uint8
	RequiredConfirmations uint64
	// StrictConfirmation counts only Confirmed payments (not Confirming
	// ones) toward the invoice amount when deciding the transition to Paid.
	StrictConfirmation bool

	mu             sync.RWMutex
	watchAddresses map[string]struct{}
	tokens         map[string]TokenConfig
}

// WatchAddresses returns a snapshot of the chain's watched addresses.
func (c *ChainConfig) WatchAddresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.watchAddresses))
	for addr := range c.watchAddresses {
		out = append(out, addr)
	}
	return out
}

// AddWatchAddress registers addr as watched. Safe for concurrent use; the
// store is the source of truth, this is an in-process scanner-side cache.
func (c *ChainConfig) AddWatchAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchAddresses == nil {
		c.watchAddresses = make(map[string]struct{})
	}
	c.watchAddresses[addr] = struct{}{}
}

// RemoveWatchAddress drops addr from the watched set.
func (c *ChainConfig) RemoveWatchAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchAddresses, addr)
}

// Tokens returns a snapshot of the chain's configured tokens.
func (c *ChainConfig) Tokens() []TokenConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TokenConfig, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	return out
}

// SetTokens replaces the chain's token set snapshot (called after the
// store mutates persisted tokens, to refresh the scanner's cache).
func (c *ChainConfig) SetTokens(tokens []TokenConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]TokenConfig, len(tokens))
	for _, t := range tokens {
		c.tokens[t.Symbol] = t
	}
}

// TokenByContract finds a configured token by its contract address,
// case-insensitively, as EVM addresses vary in checksum casing.
func (c *ChainConfig) TokenByContract(contract string) (TokenConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tokens {
		if equalFoldHex(t.Contract, contract) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// PartialChainUpdate is a sparse patch applied to a ChainConfig, mirroring
// the admin PATCH /chain/{name} contract.
type PartialChainUpdate struct {
	RPCURLs               []string
	LastProcessedBlock    *uint64
	Xpub                  *string
	BlockLag              *uint8
	RequiredConfirmations *uint64
}
