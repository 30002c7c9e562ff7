package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"cryptogateway/internal/domain"
)

// RPCHeadReader answers BlockHead for the reconciler (C5) by reusing one
// ethclient connection per chain, dialed lazily and kept for the process
// lifetime — the same RPC endpoints the chain's own Scanner dials, but an
// independent connection since reconciliation runs on its own timer, not
// the scanner's block loop.
type RPCHeadReader struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewRPCHeadReader constructs an empty RPCHeadReader.
func NewRPCHeadReader() *RPCHeadReader {
	return &RPCHeadReader{clients: make(map[string]*ethclient.Client)}
}

// BlockHead returns the current chain head, dialing and caching a client
// for cfg.Name on first use.
func (r *RPCHeadReader) BlockHead(ctx context.Context, cfg *domain.ChainConfig) (uint64, error) {
	client, err := r.clientFor(ctx, cfg)
	if err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	return client.BlockNumber(callCtx)
}

func (r *RPCHeadReader) clientFor(ctx context.Context, cfg *domain.ChainConfig) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[cfg.Name]; ok {
		return c, nil
	}
	var lastErr error
	for _, url := range cfg.RPCURLs {
		dialCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err == nil {
			r.clients[cfg.Name] = client
			return client, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("chain %s: no rpc_urls configured", cfg.Name)
	}
	return nil, lastErr
}
