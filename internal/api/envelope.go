package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"cryptogateway/internal/apierr"
	"cryptogateway/internal/store"
)

const maxRequestBody = 1 << 20

// envelope is the {status, data?, message?} response shape every handler
// returns.
type envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(reader)
}

// respond writes a successful envelope and records the audit entry.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data interface{}, reqBody []byte) {
	body, err := json.Marshal(envelope{Status: "success", Data: data})
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.Internal, "encode response", err), reqBody)
		return
	}
	s.writeBytes(w, r, status, body, reqBody)
}

// fail writes the mapped error envelope and records the audit entry.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, reqBody []byte) {
	apiErr := apierr.As(err)
	if apiErr.Kind == apierr.Internal {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body, _ := json.Marshal(envelope{Status: "error", Message: apiErr.Message})
	s.writeBytes(w, r, apiErr.Kind.Status(), body, reqBody)
}

func (s *Server) writeBytes(w http.ResponseWriter, r *http.Request, status int, body, reqBody []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	s.audit(r.Context(), r, reqBody, body, status)
}

func (s *Server) audit(ctx context.Context, r *http.Request, requestBody, responseBody []byte, status int) {
	entry := store.AuditEntry{
		OccurredAt:     time.Now().UTC(),
		Method:         r.Method,
		Path:           canonicalRequestPath(r),
		RequestBody:    requestBody,
		ResponseStatus: status,
		ResponseBody:   responseBody,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		s.logger.Warn("audit insert failed", "error", err)
	}
}

func canonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

func hashRequest(method, path string, body []byte) string {
	payload := strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%x", sum[:])
}
