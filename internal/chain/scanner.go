package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"cryptogateway/internal/domain"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var transferValueArgs = abi.Arguments{{Type: mustUint256Type()}}

func mustUint256Type() abi.Type {
	t, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultRPCTimeout    = 15 * time.Second
	backoffBase          = 500 * time.Millisecond
	backoffCap           = 30 * time.Second
	backoffJitterPercent = 0.25
)

// ChainStore is the narrow view of the store a Scanner needs: the watched
// address/token snapshot and the cursor persistence hook. Scanners hold a
// handle to the store and the event channel sender, never the reverse —
// watch sets live in the store so scanner state is restartable.
type ChainStore interface {
	WatchAddresses(ctx context.Context, network string) ([]string, error)
	ListTokens(ctx context.Context, network string) ([]domain.TokenConfig, error)
	SetLastProcessedBlock(ctx context.Context, network string, block uint64) error
}

// Scanner pulls blocks sequentially for one chain, decodes native
// transfers and ERC-20 Transfer logs targeting watched addresses, and
// emits PaymentEvents block by block in increasing block order; within a
// block, native transfers (log index LogIndexNative) come first, then
// token Transfer logs in log order.
type Scanner struct {
	cfg          *domain.ChainConfig
	store        ChainStore
	events       chan<- domain.PaymentEvent
	pollInterval time.Duration
	logger       *slog.Logger

	client   *ethclient.Client
	rpcIndex int
}

// NewScanner constructs a Scanner for cfg. Dial of the RPC endpoint is
// deferred to Run so construction never blocks or fails on the network.
func NewScanner(cfg *domain.ChainConfig, store ChainStore, events chan<- domain.PaymentEvent, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:          cfg,
		store:        store,
		events:       events,
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "scanner"), slog.String("network", cfg.Name)),
	}
}

// Run drives the scanner loop until ctx is cancelled. Cancellation is
// checked between blocks; a cancellation that arrives mid-block (during an
// RPC retry wait or while blocked on a full event channel) abandons that
// block before its cursor is persisted, so the block is scanned again from
// its start on the next run.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return fmt.Errorf("scanner %s: fatal startup error: %w", s.cfg.Name, err)
	}
	defer s.client.Close()

	cursor, err := s.startCursor(ctx)
	if err != nil {
		return fmt.Errorf("scanner %s: fatal startup error: %w", s.cfg.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, err := s.headWithBackoff(ctx, "get head", s.blockNumber)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			continue
		}

		lag := uint64(s.cfg.BlockLag)
		if head <= lag {
			if !sleepCtx(ctx, s.pollInterval) {
				return ctx.Err()
			}
			continue
		}
		target := head - lag
		if target <= cursor {
			if !sleepCtx(ctx, s.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		for b := cursor + 1; b <= target; b++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := s.processBlock(ctx, b); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.logger.Error("abandoning block after repeated failures", "block", b, "error", err)
				break
			}
			cursor = b
		}
	}
}

func (s *Scanner) processBlock(ctx context.Context, blockNum uint64) error {
	block, err := s.blockWithBackoff(ctx, blockNum)
	if err != nil {
		return err
	}

	watch, err := s.store.WatchAddresses(ctx, s.cfg.Name)
	if err != nil {
		return fmt.Errorf("load watch addresses: %w", err)
	}
	tokens, err := s.store.ListTokens(ctx, s.cfg.Name)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	watchSet := make(map[string]struct{}, len(watch))
	for _, a := range watch {
		watchSet[strings.ToLower(a)] = struct{}{}
	}

	if err := s.emitNativeTransfers(ctx, block, watchSet); err != nil {
		return err
	}
	if err := s.emitTokenTransfers(ctx, blockNum, tokens, watchSet); err != nil {
		return err
	}

	if err := s.store.SetLastProcessedBlock(ctx, s.cfg.Name, blockNum); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}

func (s *Scanner) emitNativeTransfers(ctx context.Context, block *types.Block, watchSet map[string]struct{}) error {
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil {
			continue
		}
		if _, ok := watchSet[strings.ToLower(to.Hex())]; !ok {
			continue
		}
		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			from = common.Address{}
		}
		event := domain.PaymentEvent{
			Network:     s.cfg.Name,
			TxHash:      tx.Hash().Hex(),
			From:        from.Hex(),
			To:          to.Hex(),
			Token:       s.cfg.NativeSymbol,
			AmountRaw:   weiToUint256(tx.Value()),
			Decimals:    s.cfg.Decimals,
			BlockNumber: block.NumberU64(),
			LogIndex:    domain.LogIndexNative,
		}
		if err := s.send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) emitTokenTransfers(ctx context.Context, blockNum uint64, tokens []domain.TokenConfig, watchSet map[string]struct{}) error {
	if len(tokens) == 0 {
		return nil
	}
	contracts := make([]common.Address, 0, len(tokens))
	byContract := make(map[common.Address]domain.TokenConfig, len(tokens))
	for _, t := range tokens {
		addr := common.HexToAddress(t.Contract)
		contracts = append(contracts, addr)
		byContract[addr] = t
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockNum),
		ToBlock:   new(big.Int).SetUint64(blockNum),
		Addresses: contracts,
		Topics:    [][]common.Hash{{transferTopic}},
	}

	var logs []types.Log
	op := func(ctx context.Context) error {
		var err error
		logs, err = s.client.FilterLogs(ctx, query)
		return err
	}
	if err := s.withBackoff(ctx, "filter logs", op); err != nil {
		return err
	}

	for _, lg := range logs {
		if len(lg.Topics) != 3 {
			continue
		}
		token, ok := byContract[lg.Address]
		if !ok {
			continue
		}
		to := common.HexToAddress(lg.Topics[2].Hex())
		if _, ok := watchSet[strings.ToLower(to.Hex())]; !ok {
			continue
		}
		from := common.HexToAddress(lg.Topics[1].Hex())
		values, err := transferValueArgs.Unpack(lg.Data)
		if err != nil || len(values) != 1 {
			s.logger.Warn("failed to decode Transfer log data", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		event := domain.PaymentEvent{
			Network:     s.cfg.Name,
			TxHash:      lg.TxHash.Hex(),
			From:        from.Hex(),
			To:          to.Hex(),
			Token:       token.Symbol,
			AmountRaw:   weiToUint256(amount),
			Decimals:    token.Decimals,
			BlockNumber: lg.BlockNumber,
			LogIndex:    uint64(lg.Index),
		}
		if err := s.send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// send delivers an event to the bounded channel, blocking (intended
// backpressure) unless ctx is cancelled first.
func (s *Scanner) send(ctx context.Context, event domain.PaymentEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scanner) startCursor(ctx context.Context) (uint64, error) {
	if s.cfg.LastProcessedBlock != 0 {
		return s.cfg.LastProcessedBlock, nil
	}
	head, err := s.blockNumber(ctx)
	if err != nil {
		return 0, err
	}
	lag := uint64(s.cfg.BlockLag)
	if head <= lag {
		return 0, nil
	}
	return head - lag - 1, nil
}

func (s *Scanner) dial(ctx context.Context) error {
	var lastErr error
	for _, url := range s.cfg.RPCURLs {
		dialCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err == nil {
			s.client = client
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no rpc_urls configured")
	}
	return lastErr
}

func (s *Scanner) blockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	return s.client.BlockNumber(callCtx)
}

// headWithBackoff calls op once; on failure it logs, waits a fixed 2s and
// returns the error, leaving the retry to the outer loop so it can
// re-check ctx between attempts.
func (s *Scanner) headWithBackoff(ctx context.Context, label string, op func(context.Context) (uint64, error)) (uint64, error) {
	v, err := op(ctx)
	if err == nil {
		return v, nil
	}
	s.logger.Warn("rpc call failed, retrying", "call", label, "error", err)
	if !sleepCtx(ctx, 2*time.Second) {
		return 0, ctx.Err()
	}
	return 0, err
}

func (s *Scanner) blockWithBackoff(ctx context.Context, blockNum uint64) (*types.Block, error) {
	var block *types.Block
	op := func(ctx context.Context) error {
		var err error
		block, err = s.client.BlockByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return err
	}
	if err := s.withBackoff(ctx, "get block", op); err != nil {
		return nil, err
	}
	return block, nil
}

// withBackoff retries op indefinitely with exponential backoff (base
// 500ms, factor 2, cap 30s, jitter ±25%). It only
// returns early on context cancellation.
func (s *Scanner) withBackoff(ctx context.Context, label string, op func(context.Context) error) error {
	backoff := backoffBase
	for {
		callCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("rpc call failed, retrying", "call", label, "error", err, "backoff", backoff)
		if !sleepCtx(ctx, jitter(backoff)) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * backoffJitterPercent
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func weiToUint256(v *big.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	n, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0)
	}
	return n
}
