package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suspectuso/ton-assistant/internal/ledger"
)

var ErrUnknownReservation = errors.New("unknown reservation")

// Pricing is the linear cost function for AI usage, in nanoTON.
// All arithmetic stays in integer smallest-units; formatting for display
// happens at the presentation boundary only.
type Pricing struct {
	BaseFee         int64 // flat fee per answered query
	PerToken        int64 // price per token consumed
	MaxAnswerTokens int   // cap used for the worst-case estimate
}

// Cost computes the exact charge for a token count
func (p Pricing) Cost(tokens int) int64 {
	return p.BaseFee + p.PerToken*int64(tokens)
}

// EstimateTokens approximates the token count of a message (~4 chars/token)
func EstimateTokens(chars int) int {
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Reservation is the intermediate record of a two-phase charge: created by
// the pre-check, consumed by Settle or Cancel.
type Reservation struct {
	ID        string
	AccountID string
	Estimate  int64 // worst-case cost in nanoTON
	CreatedAt time.Time
}

// Charge is the outcome of settling a reservation
type Charge struct {
	Cost       int64
	NewBalance int64
	// Unrecovered marks a settle whose debit failed after the AI cost was
	// already incurred; flagged for manual reconciliation, never retried.
	Unrecovered bool
}

// Engine gates AI usage on available balance and charges exactly the cost
// actually incurred. The charge is two-phase: Reserve before the external AI
// call, Settle (or Cancel) after it returns.
type Engine struct {
	store   *ledger.Store
	pricing Pricing
	log     *slog.Logger

	mu           sync.Mutex
	reservations map[string]Reservation
}

// NewEngine creates a billing engine over the ledger store
func NewEngine(store *ledger.Store, pricing Pricing, log *slog.Logger) *Engine {
	return &Engine{
		store:        store,
		pricing:      pricing,
		log:          log,
		reservations: make(map[string]Reservation),
	}
}

// Reserve performs the pre-check: a worst-case cost estimate from input size,
// rejected with ErrInsufficientFunds before any external cost is incurred.
// Outstanding reservations for the account count against the balance, so
// concurrent queries cannot all pass the pre-check on the same funds. No
// balance is mutated.
func (e *Engine) Reserve(accountID string, inputChars int) (Reservation, error) {
	estimate := e.pricing.Cost(EstimateTokens(inputChars) + e.pricing.MaxAnswerTokens)

	e.mu.Lock()
	defer e.mu.Unlock()

	var outstanding int64
	for _, r := range e.reservations {
		if r.AccountID == accountID {
			outstanding += r.Estimate
		}
	}
	if e.store.Balance(accountID)-outstanding < estimate {
		return Reservation{}, ledger.ErrInsufficientFunds
	}

	res := Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Estimate:  estimate,
		CreatedAt: time.Now(),
	}
	e.reservations[res.ID] = res
	return res, nil
}

// Settle performs the post-charge: the exact cost from actual token usage is
// debited and a usage entry appended. A debit failure here means the balance
// dropped between pre-check and post-charge; the answer is still delivered,
// but the charge is flagged unrecovered since the AI cost cannot be undone.
func (e *Engine) Settle(res Reservation, tokensUsed int, queryDigest string) (Charge, error) {
	if err := e.release(res.ID); err != nil {
		return Charge{}, err
	}

	cost := e.pricing.Cost(tokensUsed)

	newBalance, err := e.store.Debit(res.AccountID, cost)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		e.log.Warn("unrecovered charge",
			"account_id", res.AccountID,
			"cost", cost,
			"estimate", res.Estimate,
			"tokens", tokensUsed,
		)
		// Record the failed debit durably so reconciliation survives restarts
		e.store.AppendUsage(ledger.UsageLogEntry{
			AccountID:      res.AccountID,
			TokensConsumed: tokensUsed,
			CostCharged:    cost,
			QueryDigest:    queryDigest,
			Unrecovered:    true,
		})
		return Charge{Cost: cost, NewBalance: newBalance, Unrecovered: true}, nil
	}
	if err != nil {
		return Charge{}, err
	}

	e.store.AppendUsage(ledger.UsageLogEntry{
		AccountID:      res.AccountID,
		TokensConsumed: tokensUsed,
		CostCharged:    cost,
		QueryDigest:    queryDigest,
	})

	return Charge{Cost: cost, NewBalance: newBalance}, nil
}

// Cancel releases a reservation without charging; used when the AI call is
// cancelled or times out.
func (e *Engine) Cancel(res Reservation) {
	_ = e.release(res.ID)
}

func (e *Engine) release(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.reservations[id]; !ok {
		return ErrUnknownReservation
	}
	delete(e.reservations, id)
	return nil
}

// QueryDigest returns a short non-reversible summary of a message, suitable
// for usage logs without retaining the text itself.
func QueryDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
