package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptogateway/internal/apierr"
)

func (s *Server) handlePaymentList(w http.ResponseWriter, r *http.Request) {
	filter := parsePaymentFilter(r)
	payments, err := s.store.ListPayments(r.Context(), filter)
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

func (s *Server) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "payment "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newPaymentDTO(p), nil)
}

func (s *Server) handlePaymentCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _, err := s.store.CancelPayment(r.Context(), id)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "payment "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newPaymentDTO(p), nil)
}
