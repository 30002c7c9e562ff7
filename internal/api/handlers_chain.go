package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cryptogateway/internal/apierr"
	"cryptogateway/internal/domain"
)

type chainCreateRequest struct {
	Name                  string   `json:"name"`
	ChainType             string   `json:"chain_type"`
	RPCURLs               []string `json:"rpc_urls"`
	Xpub                  string   `json:"xpub"`
	NativeSymbol          string   `json:"native_symbol"`
	Decimals              uint8    `json:"decimals"`
	BlockLag              uint8    `json:"block_lag"`
	RequiredConfirmations uint64   `json:"required_confirmations"`
	StrictConfirmation    bool     `json:"strict_confirmation"`
}

func (s *Server) handleChainCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "read request body", err), body)
		return
	}
	var req chainCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "invalid JSON payload", err), body)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.RPCURLs) == 0 || req.Xpub == "" || req.NativeSymbol == "" {
		s.fail(w, r, apierr.New(apierr.BadRequest, "name, rpc_urls, xpub and native_symbol are required"), body)
		return
	}
	chainType := domain.ChainType(req.ChainType)
	if chainType == "" {
		chainType = domain.ChainTypeEVM
	}
	if !chainType.Valid() {
		s.fail(w, r, apierr.New(apierr.BadRequest, "unsupported chain_type"), body)
		return
	}
	if req.RequiredConfirmations == 0 {
		req.RequiredConfirmations = 12
	}

	cfg := &domain.ChainConfig{
		Name:                  req.Name,
		ChainType:             chainType,
		RPCURLs:               req.RPCURLs,
		Xpub:                  req.Xpub,
		NativeSymbol:          req.NativeSymbol,
		Decimals:              req.Decimals,
		BlockLag:              req.BlockLag,
		RequiredConfirmations: req.RequiredConfirmations,
		StrictConfirmation:    req.StrictConfirmation,
	}
	if err := s.orch.AddChain(r.Context(), cfg); err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+req.Name), body)
		return
	}
	s.respond(w, r, http.StatusCreated, newChainDTO(cfg), body)
}

func (s *Server) handleChainList(w http.ResponseWriter, r *http.Request) {
	chains, err := s.store.ListChains(r.Context())
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "list chains", err), nil)
		return
	}
	out := make([]ChainDTO, 0, len(chains))
	for _, c := range chains {
		out = append(out, newChainDTO(c))
	}
	s.respond(w, r, http.StatusOK, out, nil)
}

func (s *Server) handleChainGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := s.store.GetChain(r.Context(), name)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+name), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newChainDTO(cfg), nil)
}

type chainUpdateRequest struct {
	RPCURLs               []string `json:"rpc_urls,omitempty"`
	LastProcessedBlock    *uint64  `json:"last_processed_block,omitempty"`
	Xpub                  *string  `json:"xpub,omitempty"`
	BlockLag              *uint8   `json:"block_lag,omitempty"`
	RequiredConfirmations *uint64  `json:"required_confirmations,omitempty"`
}

func (s *Server) handleChainUpdate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "read request body", err), body)
		return
	}
	var req chainUpdateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.fail(w, r, apierr.Wrap(apierr.BadRequest, "invalid JSON payload", err), body)
			return
		}
	}
	patch := domain.PartialChainUpdate{
		RPCURLs:               req.RPCURLs,
		LastProcessedBlock:    req.LastProcessedBlock,
		Xpub:                  req.Xpub,
		BlockLag:              req.BlockLag,
		RequiredConfirmations: req.RequiredConfirmations,
	}
	cfg, err := s.orch.UpdateChainPartial(r.Context(), name, patch)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+name), body)
		return
	}
	s.respond(w, r, http.StatusOK, newChainDTO(cfg), body)
}

func (s *Server) handleChainDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.RemoveChain(r.Context(), name); err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+name), nil)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]string{"name": name, "deleted": "true"}, nil)
}
