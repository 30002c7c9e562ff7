package api

import (
	"net/http"
	"strconv"

	"cryptogateway/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func parsePagination(r *http.Request) domain.Pagination {
	q := r.URL.Query()
	limit := uint32(defaultListLimit)
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil && v > 0 {
			limit = uint32(v)
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var offset uint64
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			offset = v
		}
	}
	return domain.Pagination{Limit: limit, Offset: offset}
}

func parseInvoiceFilter(r *http.Request) domain.InvoiceFilter {
	q := r.URL.Query()
	f := domain.InvoiceFilter{
		Address:    q.Get("address"),
		Network:    q.Get("network"),
		Token:      q.Get("token"),
		Pagination: parsePagination(r),
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.InvoiceStatus(raw)
		f.Status = &status
	}
	return f
}

func parsePaymentFilter(r *http.Request) domain.PaymentFilter {
	q := r.URL.Query()
	f := domain.PaymentFilter{
		InvoiceID:  q.Get("invoice_id"),
		From:       q.Get("from"),
		To:         q.Get("to"),
		Network:    q.Get("network"),
		Token:      q.Get("token"),
		Pagination: parsePagination(r),
	}
	if raw := q.Get("block_number"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			f.BlockNumber = &v
		}
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.PaymentStatus(raw)
		f.Status = &status
	}
	return f
}

func parseWebhookFilter(r *http.Request) domain.WebhookFilter {
	q := r.URL.Query()
	f := domain.WebhookFilter{
		InvoiceID:  q.Get("invoice_id"),
		EventType:  q.Get("event_type"),
		URL:        q.Get("url"),
		Pagination: parsePagination(r),
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.WebhookStatus(raw)
		f.Status = &status
	}
	return f
}
