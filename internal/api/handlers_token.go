package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cryptogateway/internal/apierr"
	"cryptogateway/internal/domain"
)

type tokenCreateRequest struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "name")
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "read request body", err), body)
		return
	}
	var req tokenCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "invalid JSON payload", err), body)
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Contract = strings.TrimSpace(req.Contract)
	if req.Symbol == "" || req.Contract == "" {
		s.fail(w, r, apierr.New(apierr.BadRequest, "symbol and contract are required"), body)
		return
	}
	token := domain.TokenConfig{Symbol: req.Symbol, Contract: req.Contract, Decimals: req.Decimals}
	if err := s.store.AddToken(r.Context(), network, token); err != nil {
		s.fail(w, r, mapStoreErr(err, "token "+req.Symbol), body)
		return
	}
	s.respond(w, r, http.StatusCreated, newTokenDTO(token), body)
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "name")
	tokens, err := s.store.ListTokens(r.Context(), network)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+network), nil)
		return
	}
	out := make([]TokenDTO, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenDTO(t))
	}
	s.respond(w, r, http.StatusOK, out, nil)
}

func (s *Server) handleTokenGet(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "name")
	symbol := chi.URLParam(r, "symbol")
	token, err := s.store.GetToken(r.Context(), network, symbol)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "token "+symbol), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newTokenDTO(*token), nil)
}

func (s *Server) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "name")
	symbol := chi.URLParam(r, "symbol")
	if err := s.store.RemoveToken(r.Context(), network, symbol); err != nil {
		s.fail(w, r, mapStoreErr(err, "token "+symbol), nil)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]string{"symbol": symbol, "deleted": "true"}, nil)
}
