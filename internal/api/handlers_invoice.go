package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"cryptogateway/internal/amount"
	"cryptogateway/internal/apierr"
	"cryptogateway/internal/domain"
	"cryptogateway/internal/store"
)

// defaultInvoiceTTL applies when a creation request omits both
// expires_at and expires_in_seconds.
const defaultInvoiceTTL = 15 * time.Minute

type invoiceCreateRequest struct {
	Network         string     `json:"network"`
	Token           string     `json:"token"`
	Amount          string     `json:"amount"`
	WebhookURL      string     `json:"webhook_url,omitempty"`
	WebhookSecret   string     `json:"webhook_secret,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ExpiresInSecond *int64     `json:"expires_in_seconds,omitempty"`
}

func (s *Server) handleInvoiceCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "read request body", err), body)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	var reqHash string
	if idemKey != "" {
		reqHash = hashRequest(r.Method, canonicalRequestPath(r), body)
		if cached, err := s.store.LookupIdempotency(r.Context(), idemKey); err != nil {
			s.fail(w, r, apierr.Wrap(apierr.Internal, "lookup idempotency key", err), body)
			return
		} else if cached != nil {
			if cached.RequestHash != reqHash {
				s.fail(w, r, apierr.New(apierr.Conflict, "idempotency key reused with a different request body"), body)
				return
			}
			s.writeBytes(w, r, http.StatusCreated, cached.ResponseBody, body)
			return
		}
	}

	var req invoiceCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "invalid JSON payload", err), body)
		return
	}
	req.Network = strings.TrimSpace(req.Network)
	req.Token = strings.TrimSpace(req.Token)
	if req.Network == "" || req.Token == "" || strings.TrimSpace(req.Amount) == "" {
		s.fail(w, r, apierr.New(apierr.BadRequest, "network, token and amount are required"), body)
		return
	}

	cfg, err := s.store.GetChain(r.Context(), req.Network)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "chain "+req.Network), body)
		return
	}

	decimals := cfg.Decimals
	if !strings.EqualFold(req.Token, cfg.NativeSymbol) {
		token, err := s.store.GetToken(r.Context(), req.Network, req.Token)
		if err != nil {
			s.fail(w, r, mapStoreErr(err, "token "+req.Token), body)
			return
		}
		decimals = token.Decimals
	}

	raw, err := amount.ParseUnits(req.Amount, decimals)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.BadRequest, "invalid amount", err), body)
		return
	}
	if raw.IsZero() {
		s.fail(w, r, apierr.New(apierr.BadRequest, "amount must be greater than zero"), body)
		return
	}

	index, ok, err := s.orch.GetFreeSlot(r.Context(), req.Network)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "allocate address slot", err), body)
		return
	}
	if !ok {
		s.fail(w, r, apierr.New(apierr.Conflict, "no free address slot available on this chain"), body)
		return
	}

	address, err := chainDeriveAddress(cfg, index)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "derive receive address", err), body)
		return
	}

	now := time.Now().UTC()
	expiresAt := now.Add(defaultInvoiceTTL)
	switch {
	case req.ExpiresAt != nil:
		expiresAt = req.ExpiresAt.UTC()
	case req.ExpiresInSecond != nil && *req.ExpiresInSecond > 0:
		expiresAt = now.Add(time.Duration(*req.ExpiresInSecond) * time.Second)
	}
	if !expiresAt.After(now) {
		s.fail(w, r, apierr.New(apierr.BadRequest, "expires_at must be in the future"), body)
		return
	}

	inv := &domain.Invoice{
		ID:             uuid.NewString(),
		AddressIndex:   index,
		Address:        address,
		Amount:         req.Amount,
		AmountRaw:      raw,
		Paid:           "0",
		PaidRaw:        uint256.NewInt(0),
		Token:          req.Token,
		Network:        req.Network,
		Decimals:       decimals,
		WebhookURL:     req.WebhookURL,
		WebhookSecret:  req.WebhookSecret,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		Status:         domain.InvoiceStatusPending,
		IdempotencyKey: idemKey,
	}
	if err := s.store.AddInvoice(r.Context(), inv); err != nil {
		s.fail(w, r, mapStoreErr(err, "invoice"), body)
		return
	}

	respBody, _ := json.Marshal(envelope{Status: "success", Data: newInvoiceDTO(inv)})
	if idemKey != "" {
		if err := s.store.SaveIdempotency(r.Context(), store.IdempotencyRecord{
			Key:          idemKey,
			RequestHash:  reqHash,
			InvoiceID:    inv.ID,
			ResponseBody: respBody,
		}); err != nil {
			s.logger.Warn("save idempotency record failed", "invoice_id", inv.ID, "error", err)
		}
	}
	s.writeBytes(w, r, http.StatusCreated, respBody, body)
}

func (s *Server) handleInvoiceList(w http.ResponseWriter, r *http.Request) {
	filter := parseInvoiceFilter(r)
	invoices, err := s.store.ListInvoices(r.Context(), filter)
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "list invoices", err), nil)
		return
	}
	out := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, newInvoiceDTO(inv))
	}
	s.respond(w, r, http.StatusOK, out, nil)
}

func (s *Server) handleInvoiceGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil {
		s.fail(w, r, mapStoreErr(err, "invoice "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, newInvoiceDTO(inv), nil)
}

func (s *Server) handleInvoiceCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelInvoice(r.Context(), id); err != nil {
		s.fail(w, r, mapStoreErr(err, "invoice "+id), nil)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]string{"id": id, "status": string(domain.InvoiceStatusCancelled)}, nil)
}

// mapStoreErr translates a store sentinel error into the matching apierr
// Kind; anything unrecognized stays Internal.
func mapStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierr.Wrap(apierr.NotFound, what+" not found", err)
	case errors.Is(err, store.ErrConflict):
		return apierr.Wrap(apierr.Conflict, what+" is in a conflicting state", err)
	case errors.Is(err, store.ErrInUse):
		return apierr.Wrap(apierr.Conflict, what+" is still in use", err)
	case errors.Is(err, store.ErrDuplicate):
		return apierr.Wrap(apierr.Conflict, what+" already exists", err)
	default:
		return apierr.Wrap(apierr.Internal, "store operation failed", err)
	}
}
