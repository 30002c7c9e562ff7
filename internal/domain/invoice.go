package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// InvoiceStatus is the lifecycle state of an Invoice. Paid, Expired, and
// Cancelled are terminal: once reached, no further write may change
// PaidRaw or Status.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "Pending"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusExpired   InvoiceStatus = "Expired"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

// Terminal reports whether status is a terminal invoice state.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled:
		return true
	default:
		return false
	}
}

// Invoice is a merchant request for a specific amount of a specific token
// on a specific network, bound to a freshly derived receive address.
type Invoice struct {
	ID             string
	AddressIndex   uint32
	Address        string
	Amount         string
	AmountRaw      *uint256.Int
	Paid           string
	PaidRaw        *uint256.Int
	Token          string
	Network        string
	Decimals       uint8
	WebhookURL     string
	WebhookSecret  string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         InvoiceStatus
	IdempotencyKey string
}

// FullyPaid reports whether the invoice's running total covers the
// requested amount, ignoring the expiry clause which callers must
// check separately.
func (i *Invoice) FullyPaid() bool {
	if i.PaidRaw == nil || i.AmountRaw == nil {
		return false
	}
	return i.PaidRaw.Cmp(i.AmountRaw) >= 0
}

// Pagination bounds a list query. Limit is clamped to [1, 100] by callers.
type Pagination struct {
	Limit  uint32
	Offset uint64
}

// InvoiceFilter narrows a GET /invoice listing.
type InvoiceFilter struct {
	Address    string
	Network    string
	Token      string
	Status     *InvoiceStatus
	Pagination Pagination
}
