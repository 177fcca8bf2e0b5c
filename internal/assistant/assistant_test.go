package assistant

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/ton-assistant/internal/billing"
	"github.com/suspectuso/ton-assistant/internal/intent"
	"github.com/suspectuso/ton-assistant/internal/ledger"
	"github.com/suspectuso/ton-assistant/internal/tonapi"
	"github.com/suspectuso/ton-assistant/internal/watcher"
)

type stubAI struct {
	answer string
	tokens int
	err    error
}

func (s *stubAI) Answer(ctx context.Context, text string) (string, int, error) {
	if s.err != nil {
		return "", 0, s.err
	}
	return s.answer, s.tokens, nil
}

var testCfg = Config{
	ServiceWallet: "UQservice",
	MaxInputChars: 2000,
	MinDeposit:    10_000_000,          // 0.01 TON
	MaxDeposit:    1_000_000_000_000,   // 1000 TON
	AITimeout:     5 * time.Second,
	HistoryLimit:  10,
}

func newAssistant(t *testing.T, ai Answerer) (*Assistant, *ledger.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := ledger.New()
	engine := billing.NewEngine(store, billing.Pricing{PerToken: 1_000_000, MaxAnswerTokens: 500}, log)
	// nil classifier: deterministic keyword routing in tests
	router := intent.NewRouter(nil, log)
	return New(store, engine, router, ai, testCfg, log), store
}

func TestBalanceReply(t *testing.T) {
	a, store := newAssistant(t, &stubAI{})
	_, err := store.Credit("user-1", 1_500_000_000)
	require.NoError(t, err)

	reply := a.Handle(context.Background(), "user-1", "balance")
	assert.Contains(t, reply, "Balance: 1.5 TON")
}

func TestEmptyBalancePromptsTopUp(t *testing.T) {
	a, _ := newAssistant(t, &stubAI{})
	reply := a.Handle(context.Background(), "user-1", "balance")
	assert.Contains(t, reply, "top up")
}

func TestTopUpCreatesDepositWithUniqueAmount(t *testing.T) {
	a, store := newAssistant(t, &stubAI{})

	reply := a.Handle(context.Background(), "user-1", "top up 1 TON")
	assert.Contains(t, reply, "UQservice")
	assert.Contains(t, reply, "Send exactly")

	pending := store.PendingDeposits()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1_000_000_000), pending[0].RequestedAmount)
	assert.Contains(t, reply, FormatTON(pending[0].ExpectedAmount))
}

func TestOpenEndedTopUpUsesCommentCode(t *testing.T) {
	a, store := newAssistant(t, &stubAI{})

	reply := a.Handle(context.Background(), "user-1", "I want to top up my account")

	pending := store.PendingDeposits()
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].ExpectedAmount)
	assert.Contains(t, reply, pending[0].Code)
}

func TestTopUpOutOfBounds(t *testing.T) {
	a, store := newAssistant(t, &stubAI{})

	reply := a.Handle(context.Background(), "user-1", "top up 0.001 TON")
	assert.Contains(t, reply, "must be between")
	assert.Empty(t, store.PendingDeposits())
}

func TestQueryWithoutBalanceIsRejectedBeforeAI(t *testing.T) {
	ai := &stubAI{answer: "should never run", tokens: 1}
	a, _ := newAssistant(t, ai)

	reply := a.Handle(context.Background(), "user-1", "what is the capital of France?")
	assert.Contains(t, reply, "Insufficient balance")
}

func TestQueryChargesAndReplies(t *testing.T) {
	ai := &stubAI{answer: "Paris.", tokens: 100}
	a, store := newAssistant(t, ai)
	_, err := store.Credit("user-1", 1_000_000_000)
	require.NoError(t, err)

	reply := a.Handle(context.Background(), "user-1", "what is the capital of France?")
	assert.Contains(t, reply, "Paris.")
	assert.Contains(t, reply, "Cost: 0.1 TON")
	assert.Contains(t, reply, "Balance: 0.9 TON")
	assert.Equal(t, int64(900_000_000), store.Balance("user-1"))

	history := store.UsageHistory("user-1", 10)
	require.Len(t, history, 1)
	assert.Equal(t, 100, history[0].TokensConsumed)
	// The digest never contains the message text
	assert.NotContains(t, history[0].QueryDigest, "France")
	assert.Len(t, history[0].QueryDigest, 16)
}

func TestQueryTimeoutDoesNotCharge(t *testing.T) {
	ai := &stubAI{err: context.DeadlineExceeded}
	a, store := newAssistant(t, ai)
	_, err := store.Credit("user-1", 1_000_000_000)
	require.NoError(t, err)

	reply := a.Handle(context.Background(), "user-1", "some question here please")
	assert.Contains(t, reply, "not charged")
	assert.Equal(t, int64(1_000_000_000), store.Balance("user-1"))
	assert.Empty(t, store.UsageHistory("user-1", 10))
}

func TestQueryUpstreamErrorDoesNotCharge(t *testing.T) {
	ai := &stubAI{err: errors.New("api error 503")}
	a, store := newAssistant(t, ai)
	_, err := store.Credit("user-1", 1_000_000_000)
	require.NoError(t, err)

	reply := a.Handle(context.Background(), "user-1", "another question entirely")
	assert.Contains(t, reply, "unavailable")
	assert.Equal(t, int64(1_000_000_000), store.Balance("user-1"))
}

func TestOverlongInputNeverReachesBilling(t *testing.T) {
	a, store := newAssistant(t, &stubAI{answer: "x", tokens: 1})
	_, err := store.Credit("user-1", 1_000_000_000)
	require.NoError(t, err)

	reply := a.Handle(context.Background(), "user-1", strings.Repeat("a", 3000))
	assert.Contains(t, reply, "too long")
	assert.Equal(t, int64(1_000_000_000), store.Balance("user-1"))
}

func TestHelpAndHistory(t *testing.T) {
	a, store := newAssistant(t, &stubAI{})

	assert.Contains(t, a.Handle(context.Background(), "user-1", "help"), "top up")
	assert.Contains(t, a.Handle(context.Background(), "user-1", "history"), "No usage yet")

	store.AppendUsage(ledger.UsageLogEntry{
		AccountID: "user-1", Timestamp: time.Now(), TokensConsumed: 42, CostCharged: 42_000_000, QueryDigest: "aa",
	})
	reply := a.Handle(context.Background(), "user-1", "history")
	assert.Contains(t, reply, "42 tokens")
	assert.Contains(t, reply, "0.042 TON")
}

type e2eLister struct {
	transfers []tonapi.Transfer
}

func (l *e2eLister) ListTransfers(ctx context.Context, address string, since time.Time) ([]tonapi.Transfer, error) {
	return l.transfers, nil
}

// Full flow: empty account, top-up request, watcher observes the matching
// transfer and credits it, a paid query debits the exact cost and records
// one usage entry.
func TestEndToEndTopUpThenQuery(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := ledger.New()
	engine := billing.NewEngine(store, billing.Pricing{PerToken: 1_000_000, MaxAnswerTokens: 500}, log)
	router := intent.NewRouter(nil, log)
	ai := &stubAI{answer: "42.", tokens: 5000} // costs 5 TON
	a := New(store, engine, router, ai, testCfg, log)

	assert.Zero(t, store.Balance("user-1"))

	reply := a.Handle(ctx, "user-1", "top up 100 TON")
	assert.Contains(t, reply, "Send exactly")

	pending := store.PendingDeposits()
	require.Len(t, pending, 1)
	dep := pending[0]

	lister := &e2eLister{transfers: []tonapi.Transfer{{
		TxID:      "tx-e2e",
		From:      "0:payer",
		To:        tonapi.NormalizeAddress("UQservice"),
		Amount:    dep.ExpectedAmount,
		Timestamp: time.Now().Add(time.Second),
		Confirmed: true,
	}}}
	w := watcher.New(store, lister, nil, "UQservice", time.Hour, log)
	require.NoError(t, w.Reconcile(ctx))

	credited := store.Balance("user-1")
	assert.Equal(t, dep.ExpectedAmount, credited)
	assert.GreaterOrEqual(t, credited, int64(100_000_000_000))

	reply = a.Handle(ctx, "user-1", "what is the answer to everything?")
	assert.Contains(t, reply, "42.")
	assert.Contains(t, reply, "Cost: 5 TON")

	assert.Equal(t, credited-5_000_000_000, store.Balance("user-1"))

	history := store.UsageHistory("user-1", 10)
	require.Len(t, history, 1)
	assert.Equal(t, int64(5_000_000_000), history[0].CostCharged)
}
