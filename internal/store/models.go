package store

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Row types mirror the domain model one-for-one but in a shape gorm can
// persist: amounts as decimal strings, watch addresses/tokens as their
// own rows rather than the in-process sets ChainConfig caches.

type chainRow struct {
	Name                  string `gorm:"primaryKey;size:128"`
	ChainType             string `gorm:"size:16"`
	RPCURLs               string `gorm:"type:text"` // comma-joined
	Xpub                  string `gorm:"type:text"`
	NativeSymbol          string `gorm:"size:32"`
	Decimals              uint8
	LastProcessedBlock    uint64
	BlockLag              uint8
	RequiredConfirmations uint64
	StrictConfirmation    bool
}

func (chainRow) TableName() string { return "chains" }

func splitURLs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func joinURLs(urls []string) string {
	return strings.Join(urls, ",")
}

type tokenRow struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Network  string `gorm:"size:128;uniqueIndex:idx_token_symbol;uniqueIndex:idx_token_contract"`
	Symbol   string `gorm:"size:32;uniqueIndex:idx_token_symbol"`
	Contract string `gorm:"size:64;uniqueIndex:idx_token_contract"`
	Decimals uint8
}

func (tokenRow) TableName() string { return "tokens" }

type watchAddressRow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Network string `gorm:"size:128;uniqueIndex:idx_watch_address"`
	Address string `gorm:"size:64;uniqueIndex:idx_watch_address"`
}

func (watchAddressRow) TableName() string { return "watch_addresses" }

type invoiceRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	AddressIndex   uint32
	Address        string `gorm:"size:64;index"`
	Amount         string `gorm:"size:96"`
	AmountRaw      string `gorm:"size:96"`
	Paid           string `gorm:"size:96"`
	PaidRaw        string `gorm:"size:96"`
	Token          string `gorm:"size:32"`
	Network        string `gorm:"size:128;index"`
	Decimals       uint8
	WebhookURL     string `gorm:"type:text"`
	WebhookSecret  string `gorm:"type:text"`
	CreatedAt      time.Time
	ExpiresAt      time.Time `gorm:"index"`
	Status         string    `gorm:"size:16;index"`
	IdempotencyKey string    `gorm:"size:128;index"`
}

func (invoiceRow) TableName() string { return "invoices" }

type paymentRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	InvoiceID   string `gorm:"size:36;index"`
	From        string `gorm:"size:64"`
	To          string `gorm:"size:64"`
	Network     string `gorm:"size:128;uniqueIndex:idx_payment_dedup"`
	Token       string `gorm:"size:32"`
	TxHash      string `gorm:"size:80;uniqueIndex:idx_payment_dedup"`
	AmountRaw   string `gorm:"size:96"`
	BlockNumber uint64 `gorm:"index"`
	LogIndex    uint64 `gorm:"uniqueIndex:idx_payment_dedup"`
	Status      string `gorm:"size:16;index"`
	CreatedAt   time.Time
}

func (paymentRow) TableName() string { return "payments" }

type webhookRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	InvoiceID   string `gorm:"size:36;index"`
	URL         string `gorm:"type:text"`
	Secret      string `gorm:"type:text"`
	EventType   string `gorm:"size:32"`
	PayloadJSON []byte `gorm:"type:jsonb"`
	Status      string `gorm:"size:16;index"`
	Attempts    uint32
	MaxRetries  uint32
	NextRetry   time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (webhookRow) TableName() string { return "webhooks" }

type idempotencyRow struct {
	Key          string `gorm:"primaryKey;size:128"`
	RequestHash  string `gorm:"size:64"`
	InvoiceID    string `gorm:"size:36"`
	ResponseBody []byte `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

func (idempotencyRow) TableName() string { return "idempotency_keys" }

type auditRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	OccurredAt     time.Time
	Method         string `gorm:"size:8"`
	Path           string `gorm:"size:255"`
	RequestBody    []byte `gorm:"type:jsonb"`
	ResponseStatus int
	ResponseBody   []byte `gorm:"type:jsonb"`
}

func (auditRow) TableName() string { return "audit_log" }

// AutoMigrate performs schema migration for every table the Postgres
// store owns, the same one-call idiom services/otc-gateway/models uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&chainRow{},
		&tokenRow{},
		&watchAddressRow{},
		&invoiceRow{},
		&paymentRow{},
		&webhookRow{},
		&idempotencyRow{},
		&auditRow{},
	)
}
