package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// PaymentStatus is the lifecycle state of a detected on-chain transfer.
type PaymentStatus string

const (
	PaymentStatusConfirming PaymentStatus = "Confirming"
	PaymentStatusConfirmed  PaymentStatus = "Confirmed"
	PaymentStatusCancelled  PaymentStatus = "Cancelled"
)

// Payment is a single detected transfer applied to an Invoice. Its
// uniqueness key is (Network, TxHash, LogIndex) — this is what makes
// re-scanning a block idempotent.
type Payment struct {
	ID          string
	InvoiceID   string
	From        string
	To          string
	Network     string
	Token       string
	TxHash      string
	AmountRaw   *uint256.Int
	BlockNumber uint64
	LogIndex    uint64
	Status      PaymentStatus
	CreatedAt   time.Time
}

// PaymentFilter narrows a GET /payment listing.
type PaymentFilter struct {
	InvoiceID   string
	From        string
	To          string
	Network     string
	Token       string
	BlockNumber *uint64
	Status      *PaymentStatus
	Pagination  Pagination
}

// InsertResult reports the outcome of Store.RecordPayment: whether a new
// Payment row was created, the event was a dedup of one already seen, no
// Pending invoice claims the destination address, or the invoice exists
// but its token/network don't match the event.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyPresent
	NoMatchingInvoice
	InvoiceMismatch
)
