package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptogateway/internal/apierr"
	"cryptogateway/internal/domain"
)

// handlePublicInvoiceGet serves the redacted invoice DTO with no
// authentication, so a customer's browser can poll payment status
// without holding the merchant's X-Api-Key.
func (s *Server) handlePublicInvoiceGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "invoice "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newPublicInvoiceDTO(inv), nil)
}

func (s *Server) handlePublicInvoicePayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetInvoice(r.Context(), id); err != nil {
		s.fail(w, r, mapStoreErr(err, "invoice "+id), nil)
		return
	}
	payments, err := s.store.ListPayments(r.Context(), domain.PaymentFilter{
		InvoiceID:  id,
		Pagination: parsePagination(r),
	})
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "list payments", err), nil)
		return
	}
	out := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, newPaymentDTO(p))
	}
	s.respond(w, r, http.StatusOK, out, nil)
}
