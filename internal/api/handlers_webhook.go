package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cryptogateway/internal/apierr"
)

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	filter := parseWebhookFilter(r)
	webhooks, err := s.store.ListWebhooks(r.Context(), filter)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "list webhooks", err), nil)
		return
	}
	out := make([]WebhookDTO, 0, len(webhooks))
	for _, wh := range webhooks {
		out = append(out, newWebhookDTO(wh))
	}
	s.respond(w, r, http.StatusOK, out, nil)
}

func (s *Server) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wh, err := s.store.GetWebhook(r.Context(), id)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "webhook "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newWebhookDTO(wh), nil)
}

func (s *Server) handleWebhookCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelWebhook(r.Context(), id); err != nil {
		s.fail(w, r, mapStoreErr(err, "webhook "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]string{"id": id, "status": "Cancelled"}, nil)
}
