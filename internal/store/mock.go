package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"cryptogateway/internal/amount"
	"cryptogateway/internal/domain"
)

// Mock is an in-memory Store backing unit tests and DATABASE_TYPE=mock,
// providing an in-memory escape hatch for local
// development without a running database.
type Mock struct {
	mu sync.Mutex

	chains      map[string]*domain.ChainConfig
	invoices    map[string]*domain.Invoice
	payments    map[string]*domain.Payment
	paymentKey  map[string]string // network|txhash|logindex -> payment id
	webhooks    map[string]*domain.Webhook
	idempotency map[string]IdempotencyRecord
	audit       []AuditEntry
}

// NewMock constructs an empty in-memory store.
func NewMock() *Mock {
	return &Mock{
		chains:      make(map[string]*domain.ChainConfig),
		invoices:    make(map[string]*domain.Invoice),
		payments:    make(map[string]*domain.Payment),
		paymentKey:  make(map[string]string),
		webhooks:    make(map[string]*domain.Webhook),
		idempotency: make(map[string]IdempotencyRecord),
	}
}

func (m *Mock) Close() error { return nil }

func paymentDedupKey(network, txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s|%s|%d", network, strings.ToLower(txHash), logIndex)
}

// --- Chains ---

func (m *Mock) AddChain(_ context.Context, cfg *domain.ChainConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[cfg.Name]; ok {
		return fmt.Errorf("%w: chain %s already exists", ErrDuplicate, cfg.Name)
	}
	m.chains[cfg.Name] = cfg
	return nil
}

func (m *Mock) GetChain(_ context.Context, name string) (*domain.ChainConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, name)
	}
	return cfg, nil
}

func (m *Mock) ListChains(_ context.Context) ([]*domain.ChainConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ChainConfig, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Mock) RemoveChain(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[name]; !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, name)
	}
	for _, inv := range m.invoices {
		if inv.Network == name && !inv.Status.Terminal() {
			return fmt.Errorf("%w: chain %s has non-terminal invoices", ErrInUse, name)
		}
	}
	delete(m.chains, name)
	return nil
}

func (m *Mock) UpdateChainPartial(_ context.Context, name string, patch domain.PartialChainUpdate) (*domain.ChainConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, name)
	}
	if patch.RPCURLs != nil {
		cfg.RPCURLs = patch.RPCURLs
	}
	if patch.LastProcessedBlock != nil {
		cfg.LastProcessedBlock = *patch.LastProcessedBlock
	}
	if patch.Xpub != nil {
		cfg.Xpub = *patch.Xpub
	}
	if patch.BlockLag != nil {
		cfg.BlockLag = *patch.BlockLag
	}
	if patch.RequiredConfirmations != nil {
		cfg.RequiredConfirmations = *patch.RequiredConfirmations
	}
	return cfg, nil
}

func (m *Mock) SetLastProcessedBlock(_ context.Context, network string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	cfg.LastProcessedBlock = block
	return nil
}

// --- Tokens ---

func (m *Mock) AddToken(_ context.Context, network string, token domain.TokenConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	for _, t := range cfg.Tokens() {
		if t.Symbol == token.Symbol || strings.EqualFold(t.Contract, token.Contract) {
			return fmt.Errorf("%w: token %s already configured on %s", ErrDuplicate, token.Symbol, network)
		}
	}
	tokens := append(cfg.Tokens(), token)
	cfg.SetTokens(tokens)
	return nil
}

func (m *Mock) GetToken(_ context.Context, network, symbol string) (*domain.TokenConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	for _, t := range cfg.Tokens() {
		if t.Symbol == symbol {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: token %s on %s", ErrNotFound, symbol, network)
}

func (m *Mock) ListTokens(_ context.Context, network string) ([]domain.TokenConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	return cfg.Tokens(), nil
}

func (m *Mock) RemoveToken(_ context.Context, network, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	tokens := cfg.Tokens()
	out := tokens[:0]
	found := false
	for _, t := range tokens {
		if t.Symbol == symbol {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		return fmt.Errorf("%w: token %s on %s", ErrNotFound, symbol, network)
	}
	cfg.SetTokens(out)
	return nil
}

// --- Watch set ---

func (m *Mock) AddWatchAddress(_ context.Context, network, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	cfg.AddWatchAddress(strings.ToLower(address))
	return nil
}

func (m *Mock) RemoveWatchAddress(_ context.Context, network, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	cfg.RemoveWatchAddress(strings.ToLower(address))
	return nil
}

func (m *Mock) WatchAddresses(_ context.Context, network string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[network]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrNotFound, network)
	}
	return cfg.WatchAddresses(), nil
}

// --- Invoices ---

func (m *Mock) AddInvoice(_ context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("%w: invoice %s already exists", ErrDuplicate, inv.ID)
	}
	m.invoices[inv.ID] = inv
	if cfg, ok := m.chains[inv.Network]; ok {
		cfg.AddWatchAddress(strings.ToLower(inv.Address))
	}
	return nil
}

func (m *Mock) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, id)
	}
	return inv, nil
}

func (m *Mock) GetInvoiceByAddress(_ context.Context, network, address string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.findPendingInvoiceLocked(network, address)
	if inv == nil {
		return nil, fmt.Errorf("%w: invoice for %s on %s", ErrNotFound, address, network)
	}
	return inv, nil
}

func (m *Mock) findPendingInvoiceLocked(network, address string) *domain.Invoice {
	for _, inv := range m.invoices {
		if inv.Network == network && strings.EqualFold(inv.Address, address) && inv.Status == domain.InvoiceStatusPending {
			return inv
		}
	}
	return nil
}

func (m *Mock) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range m.invoices {
		if filter.Address != "" && !strings.EqualFold(inv.Address, filter.Address) {
			continue
		}
		if filter.Network != "" && inv.Network != filter.Network {
			continue
		}
		if filter.Token != "" && inv.Token != filter.Token {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, filter.Pagination), nil
}

func paginate[T any](items []T, p domain.Pagination) []T {
	limit := p.Limit
	if limit == 0 || limit > 100 {
		limit = 20
	}
	offset := p.Offset
	if offset >= uint64(len(items)) {
		return nil
	}
	end := offset + uint64(limit)
	if end > uint64(len(items)) {
		end = uint64(len(items))
	}
	return items[offset:end]
}

func (m *Mock) CancelInvoice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return fmt.Errorf("%w: invoice %s", ErrNotFound, id)
	}
	if inv.Status.Terminal() {
		return fmt.Errorf("%w: invoice %s is already terminal", ErrConflict, id)
	}
	inv.Status = domain.InvoiceStatusCancelled
	if cfg, ok := m.chains[inv.Network]; ok {
		cfg.RemoveWatchAddress(strings.ToLower(inv.Address))
	}
	return nil
}

func (m *Mock) ExpireDueInvoices(_ context.Context, now time.Time) ([]*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*domain.Invoice
	for _, inv := range m.invoices {
		if inv.Status == domain.InvoiceStatusPending && inv.ExpiresAt.Before(now) && !inv.FullyPaid() {
			inv.Status = domain.InvoiceStatusExpired
			if cfg, ok := m.chains[inv.Network]; ok {
				cfg.RemoveWatchAddress(strings.ToLower(inv.Address))
			}
			expired = append(expired, inv)
		}
	}
	return expired, nil
}

func (m *Mock) GetFreeSlot(_ context.Context, network string) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	busy := make(map[uint32]struct{})
	for _, inv := range m.invoices {
		if inv.Network == network && !inv.Status.Terminal() {
			busy[inv.AddressIndex] = struct{}{}
		}
	}
	for i := uint32(0); ; i++ {
		if _, taken := busy[i]; !taken {
			return i, true, nil
		}
		if i == ^uint32(0) {
			return 0, false, nil
		}
	}
}

// --- Payments ---

func (m *Mock) RecordPayment(_ context.Context, event domain.PaymentEvent) (domain.InsertResult, *domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := paymentDedupKey(event.Network, event.TxHash, event.LogIndex)
	if _, seen := m.paymentKey[key]; seen {
		return domain.AlreadyPresent, nil, nil
	}

	inv := m.findPendingInvoiceLocked(event.Network, event.To)
	if inv == nil {
		return domain.NoMatchingInvoice, nil, nil
	}
	if inv.Token != event.Token || inv.Network != event.Network {
		return domain.InvoiceMismatch, inv, nil
	}

	payment := &domain.Payment{
		ID:          uuid.New().String(),
		InvoiceID:   inv.ID,
		From:        event.From,
		To:          event.To,
		Network:     event.Network,
		Token:       event.Token,
		TxHash:      event.TxHash,
		AmountRaw:   amountOrZero(event.AmountRaw),
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		Status:      domain.PaymentStatusConfirming,
		CreatedAt:   time.Now().UTC(),
	}
	m.payments[payment.ID] = payment
	m.paymentKey[key] = payment.ID

	inv.PaidRaw = new(uint256.Int).Add(amountOrZero(inv.PaidRaw), amountOrZero(event.AmountRaw))
	if formatted, err := amount.FormatUnits(inv.PaidRaw, inv.Decimals); err == nil {
		inv.Paid = formatted
	}

	return domain.Inserted, inv, nil
}

func (m *Mock) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *Mock) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if filter.InvoiceID != "" && p.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.From != "" && !strings.EqualFold(p.From, filter.From) {
			continue
		}
		if filter.To != "" && !strings.EqualFold(p.To, filter.To) {
			continue
		}
		if filter.Network != "" && p.Network != filter.Network {
			continue
		}
		if filter.Token != "" && p.Token != filter.Token {
			continue
		}
		if filter.BlockNumber != nil && p.BlockNumber != *filter.BlockNumber {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, filter.Pagination), nil
}

func (m *Mock) ListConfirmingPayments(_ context.Context, network string, maxBlock uint64) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.Network == network && p.Status == domain.PaymentStatusConfirming && p.BlockNumber <= maxBlock {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

func (m *Mock) ConfirmPayment(_ context.Context, paymentID string, head uint64, strict bool) (*domain.Payment, *domain.Invoice, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[paymentID]
	if !ok {
		return nil, nil, false, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	payment.Status = domain.PaymentStatusConfirmed

	inv, ok := m.invoices[payment.InvoiceID]
	if !ok {
		return payment, nil, false, nil
	}
	if inv.Status != domain.InvoiceStatusPending {
		return payment, inv, false, nil
	}

	paidRaw := m.sumInvoicePaymentsLocked(inv.ID, strict)
	if paidRaw.Cmp(amountOrZero(inv.AmountRaw)) < 0 {
		return payment, inv, false, nil
	}

	inv.Status = domain.InvoiceStatusPaid
	if cfg, ok := m.chains[inv.Network]; ok {
		cfg.RemoveWatchAddress(strings.ToLower(inv.Address))
	}
	return payment, inv, true, nil
}

func (m *Mock) CancelPayment(_ context.Context, paymentID string) (*domain.Payment, *domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if payment.Status == domain.PaymentStatusCancelled {
		return nil, nil, fmt.Errorf("%w: payment %s is already cancelled", ErrConflict, paymentID)
	}
	inv, ok := m.invoices[payment.InvoiceID]
	if ok && inv.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: invoice %s is already terminal", ErrConflict, inv.ID)
	}
	payment.Status = domain.PaymentStatusCancelled
	if ok {
		inv.PaidRaw = m.sumInvoicePaymentsLocked(inv.ID, false)
		if formatted, err := amount.FormatUnits(inv.PaidRaw, inv.Decimals); err == nil {
			inv.Paid = formatted
		}
	}
	return payment, inv, nil
}

func (m *Mock) sumInvoicePaymentsLocked(invoiceID string, strict bool) *uint256.Int {
	sum := uint256.NewInt(0)
	for _, p := range m.payments {
		if p.InvoiceID != invoiceID {
			continue
		}
		switch p.Status {
		case domain.PaymentStatusConfirmed:
			sum = sum.Add(sum, amountOrZero(p.AmountRaw))
		case domain.PaymentStatusConfirming:
			if !strict {
				sum = sum.Add(sum, amountOrZero(p.AmountRaw))
			}
		}
	}
	return sum
}

// --- Webhooks ---

func (m *Mock) EnqueueWebhook(_ context.Context, wh *domain.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh.ID == "" {
		wh.ID = uuid.New().String()
	}
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = time.Now().UTC()
	}
	if wh.Status == "" {
		wh.Status = domain.WebhookStatusPending
	}
	m.webhooks[wh.ID] = wh
	return nil
}

func (m *Mock) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}
	return wh, nil
}

func (m *Mock) ListWebhooks(_ context.Context, filter domain.WebhookFilter) ([]*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Webhook
	for _, wh := range m.webhooks {
		if filter.InvoiceID != "" && wh.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.EventType != "" && string(wh.Payload.EventType) != filter.EventType {
			continue
		}
		if filter.URL != "" && wh.URL != filter.URL {
			continue
		}
		if filter.Status != nil && wh.Status != *filter.Status {
			continue
		}
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, filter.Pagination), nil
}

func (m *Mock) ClaimDueWebhooks(_ context.Context, now time.Time, limit int) ([]*domain.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*domain.Webhook
	var ids []string
	for id, wh := range m.webhooks {
		if wh.Status == domain.WebhookStatusPending && !wh.NextRetry.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return m.webhooks[ids[i]].CreatedAt.Before(m.webhooks[ids[j]].CreatedAt) })
	for _, id := range ids {
		if len(claimed) >= limit {
			break
		}
		wh := m.webhooks[id]
		wh.Status = domain.WebhookStatusProcessing
		claimed = append(claimed, wh)
	}
	return claimed, nil
}

func (m *Mock) MarkWebhookSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}
	wh.Status = domain.WebhookStatusSent
	return nil
}

func (m *Mock) MarkWebhookFailed(_ context.Context, id string, nextRetry time.Time, status domain.WebhookStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}
	wh.Attempts++
	wh.NextRetry = nextRetry
	wh.Status = status
	return nil
}

func (m *Mock) CancelWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}
	wh.Status = domain.WebhookStatusCancelled
	return nil
}

// --- Idempotency + audit ---

func (m *Mock) LookupIdempotency(_ context.Context, key string) (*IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Mock) SaveIdempotency(_ context.Context, rec IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[rec.Key] = rec
	return nil
}

func (m *Mock) InsertAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}
