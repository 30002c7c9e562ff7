package store

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"cryptogateway/internal/domain"
)

func marshalPayload(p domain.WebhookPayload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(raw []byte) (domain.WebhookPayload, error) {
	var p domain.WebhookPayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("store: decode webhook payload: %w", err)
	}
	return p, nil
}

func decToUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	n, overflow := uint256.FromDecimal(s)
	if overflow != nil {
		return nil, fmt.Errorf("store: decode decimal %q: %w", s, overflow)
	}
	return n, nil
}

func invoiceFromRow(r invoiceRow) (*domain.Invoice, error) {
	amountRaw, err := decToUint256(r.AmountRaw)
	if err != nil {
		return nil, err
	}
	paidRaw, err := decToUint256(r.PaidRaw)
	if err != nil {
		return nil, err
	}
	return &domain.Invoice{
		ID:             r.ID,
		AddressIndex:   r.AddressIndex,
		Address:        r.Address,
		Amount:         r.Amount,
		AmountRaw:      amountRaw,
		Paid:           r.Paid,
		PaidRaw:        paidRaw,
		Token:          r.Token,
		Network:        r.Network,
		Decimals:       r.Decimals,
		WebhookURL:     r.WebhookURL,
		WebhookSecret:  r.WebhookSecret,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		Status:         domain.InvoiceStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

func invoiceToRow(inv *domain.Invoice) invoiceRow {
	return invoiceRow{
		ID:             inv.ID,
		AddressIndex:   inv.AddressIndex,
		Address:        inv.Address,
		Amount:         inv.Amount,
		AmountRaw:      amountOrZero(inv.AmountRaw).Dec(),
		Paid:           inv.Paid,
		PaidRaw:        amountOrZero(inv.PaidRaw).Dec(),
		Token:          inv.Token,
		Network:        inv.Network,
		Decimals:       inv.Decimals,
		WebhookURL:     inv.WebhookURL,
		WebhookSecret:  inv.WebhookSecret,
		CreatedAt:      inv.CreatedAt,
		ExpiresAt:      inv.ExpiresAt,
		Status:         string(inv.Status),
		IdempotencyKey: inv.IdempotencyKey,
	}
}

func paymentFromRow(r paymentRow) (*domain.Payment, error) {
	amountRaw, err := decToUint256(r.AmountRaw)
	if err != nil {
		return nil, err
	}
	return &domain.Payment{
		ID:          r.ID,
		InvoiceID:   r.InvoiceID,
		From:        r.From,
		To:          r.To,
		Network:     r.Network,
		Token:       r.Token,
		TxHash:      r.TxHash,
		AmountRaw:   amountRaw,
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		Status:      domain.PaymentStatus(r.Status),
		CreatedAt:   r.CreatedAt,
	}, nil
}

func paymentToRow(p *domain.Payment) paymentRow {
	return paymentRow{
		ID:          p.ID,
		InvoiceID:   p.InvoiceID,
		From:        p.From,
		To:          p.To,
		Network:     p.Network,
		Token:       p.Token,
		TxHash:      p.TxHash,
		AmountRaw:   amountOrZero(p.AmountRaw).Dec(),
		BlockNumber: p.BlockNumber,
		LogIndex:    p.LogIndex,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
	}
}

func webhookFromRow(r webhookRow) (*domain.Webhook, error) {
	payload, err := unmarshalPayload(r.PayloadJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Webhook{
		ID:         r.ID,
		InvoiceID:  r.InvoiceID,
		URL:        r.URL,
		Secret:     r.Secret,
		Payload:    payload,
		Status:     domain.WebhookStatus(r.Status),
		Attempts:   r.Attempts,
		MaxRetries: r.MaxRetries,
		NextRetry:  r.NextRetry,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func webhookToRow(w *domain.Webhook) (webhookRow, error) {
	raw, err := marshalPayload(w.Payload)
	if err != nil {
		return webhookRow{}, err
	}
	return webhookRow{
		ID:          w.ID,
		InvoiceID:   w.InvoiceID,
		URL:         w.URL,
		Secret:      w.Secret,
		EventType:   string(w.Payload.EventType),
		PayloadJSON: raw,
		Status:      string(w.Status),
		Attempts:    w.Attempts,
		MaxRetries:  w.MaxRetries,
		NextRetry:   w.NextRetry,
		CreatedAt:   w.CreatedAt,
	}, nil
}

func chainFromRow(r chainRow) *domain.ChainConfig {
	cfg := &domain.ChainConfig{
		Name:                  r.Name,
		ChainType:             domain.ChainType(r.ChainType),
		RPCURLs:               splitURLs(r.RPCURLs),
		Xpub:                  r.Xpub,
		NativeSymbol:          r.NativeSymbol,
		Decimals:              r.Decimals,
		LastProcessedBlock:    r.LastProcessedBlock,
		BlockLag:              r.BlockLag,
		RequiredConfirmations: r.RequiredConfirmations,
		StrictConfirmation:    r.StrictConfirmation,
	}
	return cfg
}

func chainToRow(cfg *domain.ChainConfig) chainRow {
	return chainRow{
		Name:                  cfg.Name,
		ChainType:             string(cfg.ChainType),
		RPCURLs:               joinURLs(cfg.RPCURLs),
		Xpub:                  cfg.Xpub,
		NativeSymbol:          cfg.NativeSymbol,
		Decimals:              cfg.Decimals,
		LastProcessedBlock:    cfg.LastProcessedBlock,
		BlockLag:              cfg.BlockLag,
		RequiredConfirmations: cfg.RequiredConfirmations,
		StrictConfirmation:    cfg.StrictConfirmation,
	}
}
