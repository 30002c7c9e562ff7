package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptogateway/internal/domain"
	"cryptogateway/internal/store"
	"cryptogateway/internal/webhook"
)

func newTestWebhook(url string) *domain.Webhook {
	return &domain.Webhook{
		InvoiceID: "inv-1",
		URL:       url,
		Secret:    "shh-its-a-secret",
		Payload: domain.WebhookPayload{
			EventType: domain.EventTxDetected,
			InvoiceID: "inv-1",
			TxHash:    "0xabc",
			Timestamp: time.Now().UTC(),
		},
		Status:     domain.WebhookStatusPending,
		MaxRetries: 5,
		NextRetry:  time.Now().UTC().Add(-time.Second),
	}
}

func runDispatcherTick(t *testing.T, st *store.Mock, client *http.Client) {
	t.Helper()
	d := webhook.New(st, client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	// The dispatcher polls every 1s, so wait for exactly one tick.
	time.Sleep(1200 * time.Millisecond)
	cancel()
	<-done
}

func TestDispatcher_DeliversAndSignsWithHMAC(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMock()
	wh := newTestWebhook(srv.URL)
	require.NoError(t, st.EnqueueWebhook(ctx, wh))

	runDispatcherTick(t, st, nil)

	got, err := st.GetWebhook(ctx, wh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusSent, got.Status)

	mac := hmac.New(sha256.New, []byte(wh.Secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, want, gotSignature)

	var envelope struct {
		EventType domain.WebhookEventType `json:"event_type"`
		InvoiceID string                  `json:"invoice_id"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	require.Equal(t, domain.EventTxDetected, envelope.EventType)
	require.Equal(t, "inv-1", envelope.InvoiceID)
}

func TestDispatcher_RetriesWithBackoffOnFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMock()
	wh := newTestWebhook(srv.URL)
	wh.MaxRetries = 5
	require.NoError(t, st.EnqueueWebhook(ctx, wh))

	runDispatcherTick(t, st, nil)

	got, err := st.GetWebhook(ctx, wh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusPending, got.Status)
	require.Equal(t, uint32(1), got.Attempts)
	require.True(t, got.NextRetry.After(time.Now()))
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(1))
}

func TestDispatcher_MarksFailedAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMock()
	wh := newTestWebhook(srv.URL)
	wh.MaxRetries = 1
	require.NoError(t, st.EnqueueWebhook(ctx, wh))

	runDispatcherTick(t, st, nil)

	got, err := st.GetWebhook(ctx, wh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusFailed, got.Status)
}

func TestDispatcher_NeverDeliversBeforeNextRetry(t *testing.T) {
	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	st := store.NewMock()
	wh := newTestWebhook(srv.URL)
	wh.NextRetry = time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.EnqueueWebhook(ctx, wh))

	runDispatcherTick(t, st, nil)

	require.Equal(t, int32(0), atomic.LoadInt32(&delivered))
	got, err := st.GetWebhook(ctx, wh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WebhookStatusPending, got.Status)
}
