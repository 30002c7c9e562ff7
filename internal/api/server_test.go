package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"

	"cryptogateway/internal/api"
	apimw "cryptogateway/internal/api/middleware"
	"cryptogateway/internal/domain"
	"cryptogateway/internal/orchestrator"
	"cryptogateway/internal/store"
)

const testAPIKey = "test-api-key-123"

func newTestServer(t *testing.T, st *store.Mock) http.Handler {
	t.Helper()
	events := make(chan domain.PaymentEvent, 16)
	orch := orchestrator.New(st, events, nil)
	handler, err := api.New(api.Config{
		Store:        st,
		Orchestrator: orch,
		APIKey:       testAPIKey,
		CORSOrigins:  []string{"https://merchant.example"},
		RateLimit:    apimw.RateLimit{RatePerSecond: 100, Burst: 100},
	})
	require.NoError(t, err)
	return handler
}

func testXpub(t *testing.T) string {
	t.Helper()
	seed := []byte("deterministic test seed for the api package 0123")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	pub, err := master.Neuter()
	require.NoError(t, err)
	return pub.String()
}

func seedChain(t *testing.T, st *store.Mock, name string) {
	t.Helper()
	require.NoError(t, st.AddChain(context.Background(), &domain.ChainConfig{
		Name:                  name,
		ChainType:             domain.ChainTypeEVM,
		RPCURLs:               []string{"https://rpc.example/" + name},
		Xpub:                  testXpub(t),
		NativeSymbol:          "MATIC",
		Decimals:              18,
		BlockLag:              5,
		RequiredConfirmations: 12,
	}))
}

func TestHealthEndpoint(t *testing.T) {
	st := store.NewMock()
	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutes_RejectMissingAPIKey(t *testing.T) {
	st := store.NewMock()
	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/invoice/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutes_RejectWrongAPIKey(t *testing.T) {
	st := store.NewMock()
	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/invoice/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", "wrong-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvoiceCreate_EndToEndAndIdempotentReplay(t *testing.T) {
	st := store.NewMock()
	seedChain(t, st, "polygon")
	require.NoError(t, st.AddToken(context.Background(), "polygon", domain.TokenConfig{
		Symbol: "USDC", Contract: "0x1000000000000000000000000000000000usdc", Decimals: 6,
	}))

	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	reqBody := []byte(`{"network":"polygon","token":"USDC","amount":"25.37"}`)

	doCreate := func() (*http.Response, map[string]interface{}) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/invoice/", bytes.NewReader(reqBody))
		require.NoError(t, err)
		req.Header.Set("X-Api-Key", testAPIKey)
		req.Header.Set("Idempotency-Key", "idem-key-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var parsed map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
		return resp, parsed
	}

	resp1, body1 := doCreate()
	require.Equal(t, http.StatusCreated, resp1.StatusCode)
	require.Equal(t, "success", body1["status"])
	data1 := body1["data"].(map[string]interface{})
	invoiceID := data1["id"].(string)
	require.NotEmpty(t, invoiceID)
	require.Equal(t, "Pending", data1["status"])

	// Replaying the same Idempotency-Key with the same body must return the
	// exact cached response rather than creating a second invoice.
	resp2, body2 := doCreate()
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	data2 := body2["data"].(map[string]interface{})
	require.Equal(t, invoiceID, data2["id"])

	invoices, err := st.ListInvoices(context.Background(), domain.InvoiceFilter{Network: "polygon"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
}

func TestInvoiceCreate_RejectsUnknownChain(t *testing.T) {
	st := store.NewMock()
	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/invoice/", bytes.NewReader(
		[]byte(`{"network":"does-not-exist","token":"USDC","amount":"1"}`)))
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicInvoiceGet_RedactsMerchantFields(t *testing.T) {
	st := store.NewMock()
	seedChain(t, st, "polygon")
	inv := &domain.Invoice{
		Network:       "polygon",
		Address:       "0xAbC0000000000000000000000000000000dEaD",
		Token:         "USDC",
		Amount:        "1.5",
		WebhookURL:    "https://merchant.example/hook",
		WebhookSecret: "top-secret",
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
		Status:        domain.InvoiceStatusPending,
	}
	require.NoError(t, st.AddInvoice(context.Background(), inv))

	srv := httptest.NewServer(newTestServer(t, st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public/invoice/" + inv.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	data := parsed["data"].(map[string]interface{})
	require.NotContains(t, data, "webhook_secret")
	require.NotContains(t, data, "address_index")
	require.Equal(t, inv.Address, data["address"])
}
