package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/ton-assistant/internal/assistant"
	"github.com/suspectuso/ton-assistant/internal/billing"
	"github.com/suspectuso/ton-assistant/internal/intent"
	"github.com/suspectuso/ton-assistant/internal/ledger"
)

type stubAI struct{}

func (stubAI) Answer(ctx context.Context, text string) (string, int, error) {
	return "stub answer", 10, nil
}

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := ledger.New()
	engine := billing.NewEngine(store, billing.Pricing{PerToken: 1_000_000, MaxAnswerTokens: 100}, log)
	router := intent.NewRouter(nil, log)
	a := assistant.New(store, engine, router, stubAI{}, assistant.Config{
		ServiceWallet: "UQservice",
		MaxInputChars: 2000,
		MinDeposit:    1,
		MaxDeposit:    1_000_000_000_000,
		AITimeout:     time.Second,
	}, log)
	return NewServer(a, store, log), store
}

func TestWebhookRepliesToMessage(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Credit("user-1", 1_000_000_000)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"account_id": "user-1", "text": "balance"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var reply Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Contains(t, reply.Reply, "Balance: 1 TON")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{
		`not json at all`,
		`{"account_id": "", "text": "hi"}`,
		`{"account_id": "user-1", "text": "  "}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body=%q", body)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Credit("user-1", 100)
	require.NoError(t, err)
	_, err = store.Credit("user-2", 50)
	require.NoError(t, err)
	_, err = store.CreateDeposit("user-1", 10, "UQservice")
	require.NoError(t, err)
	store.AppendUsage(ledger.UsageLogEntry{AccountID: "user-1", CostCharged: 5})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Accounts)
	assert.Equal(t, int64(150), stats.TotalBalance)
	assert.Equal(t, 1, stats.PendingDeposits)
	assert.Equal(t, 1, stats.TotalQueries)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
