package api

import (
	"time"

	"cryptogateway/internal/domain"
)

// InvoiceDTO is the full merchant-facing invoice representation returned
// by the authenticated /invoice routes.
type InvoiceDTO struct {
	ID            string    `json:"id"`
	AddressIndex  uint32    `json:"address_index"`
	Address       string    `json:"address"`
	Amount        string    `json:"amount"`
	Paid          string    `json:"paid"`
	Token         string    `json:"token"`
	Network       string    `json:"network"`
	Decimals      uint8     `json:"decimals"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Status        string    `json:"status"`
}

func newInvoiceDTO(inv *domain.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:           inv.ID,
		AddressIndex: inv.AddressIndex,
		Address:      inv.Address,
		Amount:       inv.Amount,
		Paid:         inv.Paid,
		Token:        inv.Token,
		Network:      inv.Network,
		Decimals:     inv.Decimals,
		WebhookURL:   inv.WebhookURL,
		CreatedAt:    inv.CreatedAt,
		ExpiresAt:    inv.ExpiresAt,
		Status:       string(inv.Status),
	}
}

// PublicInvoiceDTO is the redacted shape exposed at GET /public/invoice/{id}
// — no webhook_secret, no address_index.
type PublicInvoiceDTO struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Amount    string    `json:"amount"`
	Paid      string    `json:"paid"`
	Token     string    `json:"token"`
	Network   string    `json:"network"`
	Decimals  uint8     `json:"decimals"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"`
}

func newPublicInvoiceDTO(inv *domain.Invoice) PublicInvoiceDTO {
	return PublicInvoiceDTO{
		ID:        inv.ID,
		Address:   inv.Address,
		Amount:    inv.Amount,
		Paid:      inv.Paid,
		Token:     inv.Token,
		Network:   inv.Network,
		Decimals:  inv.Decimals,
		CreatedAt: inv.CreatedAt,
		ExpiresAt: inv.ExpiresAt,
		Status:    string(inv.Status),
	}
}

// PaymentDTO represents one detected transfer. AmountRaw is the on-chain
// integer amount in the token's smallest unit, decimal-encoded.
type PaymentDTO struct {
	ID          string    `json:"id"`
	InvoiceID   string    `json:"invoice_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Network     string    `json:"network"`
	Token       string    `json:"token"`
	TxHash      string    `json:"tx_hash"`
	AmountRaw   string    `json:"amount_raw"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPaymentDTO(p *domain.Payment) PaymentDTO {
	raw := "0"
	if p.AmountRaw != nil {
		raw = p.AmountRaw.Dec()
	}
	logIndex := p.LogIndex
	if logIndex == domain.LogIndexNative {
		logIndex = 0
	}
	return PaymentDTO{
		ID:          p.ID,
		InvoiceID:   p.InvoiceID,
		From:        p.From,
		To:          p.To,
		Network:     p.Network,
		Token:       p.Token,
		TxHash:      p.TxHash,
		AmountRaw:   raw,
		BlockNumber: p.BlockNumber,
		LogIndex:    logIndex,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
	}
}

// WebhookDTO represents one queued/delivered webhook job.
type WebhookDTO struct {
	ID         string                 `json:"id"`
	InvoiceID  string                 `json:"invoice_id"`
	URL        string                 `json:"url"`
	EventType  domain.WebhookEventType `json:"event_type"`
	Status     string                 `json:"status"`
	Attempts   uint32                 `json:"attempts"`
	MaxRetries uint32                 `json:"max_retries"`
	NextRetry  time.Time              `json:"next_retry"`
	CreatedAt  time.Time              `json:"created_at"`
}

func newWebhookDTO(w *domain.Webhook) WebhookDTO {
	return WebhookDTO{
		ID:         w.ID,
		InvoiceID:  w.InvoiceID,
		URL:        w.URL,
		EventType:  w.Payload.EventType,
		Status:     string(w.Status),
		Attempts:   w.Attempts,
		MaxRetries: w.MaxRetries,
		NextRetry:  w.NextRetry,
		CreatedAt:  w.CreatedAt,
	}
}

// ChainDTO represents a configured chain, including its watched tokens.
type ChainDTO struct {
	Name                  string       `json:"name"`
	ChainType             string       `json:"chain_type"`
	RPCURLs               []string     `json:"rpc_urls"`
	NativeSymbol          string       `json:"native_symbol"`
	Decimals              uint8        `json:"decimals"`
	LastProcessedBlock    uint64       `json:"last_processed_block"`
	BlockLag              uint8        `json:"block_lag"`
	RequiredConfirmations uint64       `json:"required_confirmations"`
	StrictConfirmation    bool         `json:"strict_confirmation"`
	Tokens                []TokenDTO   `json:"tokens,omitempty"`
}

func newChainDTO(cfg *domain.ChainConfig) ChainDTO {
	tokens := cfg.Tokens()
	dto := ChainDTO{
		Name:                  cfg.Name,
		ChainType:             string(cfg.ChainType),
		RPCURLs:               cfg.RPCURLs,
		NativeSymbol:          cfg.NativeSymbol,
		Decimals:              cfg.Decimals,
		LastProcessedBlock:    cfg.LastProcessedBlock,
		BlockLag:              cfg.BlockLag,
		RequiredConfirmations: cfg.RequiredConfirmations,
		StrictConfirmation:    cfg.StrictConfirmation,
	}
	for _, t := range tokens {
		dto.Tokens = append(dto.Tokens, newTokenDTO(t))
	}
	return dto
}

// TokenDTO represents one tracked token on a chain.
type TokenDTO struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	Decimals uint8  `json:"decimals"`
}

func newTokenDTO(t domain.TokenConfig) TokenDTO {
	return TokenDTO{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals}
}
