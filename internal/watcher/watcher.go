// Package watcher reconciles pending deposit requests against transfers
// observed on the service wallet.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/suspectuso/ton-assistant/internal/ledger"
	"github.com/suspectuso/ton-assistant/internal/tonapi"
)

// TransferLister is the external ledger collaborator
type TransferLister interface {
	ListTransfers(ctx context.Context, address string, since time.Time) ([]tonapi.Transfer, error)
}

// Notifier receives reconciliation outcomes for user-facing delivery.
// Delivery is fire-and-forget; failures are the notifier's to log.
type Notifier interface {
	DepositCredited(ctx context.Context, accountID string, amount, newBalance int64, txID string)
	DepositExpired(ctx context.Context, accountID string, dep ledger.DepositRequest)
}

// Watcher polls the external ledger on a fixed interval and credits matching
// deposits exactly once.
type Watcher struct {
	store     *ledger.Store
	transfers TransferLister
	notifier  Notifier
	log       *slog.Logger

	serviceWalletRaw string
	ttl              time.Duration

	now func() time.Time
}

// New creates a watcher. notifier may be nil.
func New(store *ledger.Store, transfers TransferLister, notifier Notifier, serviceWallet string, ttl time.Duration, log *slog.Logger) *Watcher {
	return &Watcher{
		store:            store,
		transfers:        transfers,
		notifier:         notifier,
		log:              log,
		serviceWalletRaw: tonapi.NormalizeAddress(serviceWallet),
		ttl:              ttl,
		now:              time.Now,
	}
}

// Run polls until the context is cancelled. A failed cycle is retried on the
// next tick; pending requests simply stay pending, so a transient external
// ledger outage never loses deposits.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	if w.serviceWalletRaw == "" {
		w.log.Info("deposit watcher disabled: service wallet not set")
		return
	}

	w.log.Info("deposit watcher started",
		"service_wallet", w.serviceWalletRaw,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Reconcile(ctx); err != nil {
				w.log.Error("reconcile deposits", "error", err)
			}
		}
	}
}

// Reconcile runs one poll cycle: fetch transfers since the oldest pending
// request, credit matches, expire stale requests.
func (w *Watcher) Reconcile(ctx context.Context) error {
	pending := w.store.PendingDeposits()
	if len(pending) == 0 {
		return nil
	}

	transfers, err := w.transfers.ListTransfers(ctx, w.serviceWalletRaw, pending[0].CreatedAt)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if !w.eligible(t) {
			continue
		}

		idx := matchPending(pending, t)
		if idx < 0 {
			continue
		}
		dep := pending[idx]

		newBalance, err := w.store.FulfillDeposit(dep.ID, t.Amount, t.TxID)
		if errors.Is(err, ledger.ErrAlreadyFulfilled) || errors.Is(err, ledger.ErrDepositExpired) {
			// Same transaction observed on an earlier cycle
			continue
		}
		if err != nil {
			w.log.Error("fulfill deposit",
				"deposit_id", dep.ID,
				"account_id", dep.AccountID,
				"tx_id", t.TxID,
				"error", err,
			)
			continue
		}

		// One transfer fulfills at most one request
		pending = append(pending[:idx], pending[idx+1:]...)

		w.log.Info("deposit credited",
			"deposit_id", dep.ID,
			"account_id", dep.AccountID,
			"amount", t.Amount,
			"tx_id", t.TxID,
		)

		if w.notifier != nil {
			w.notifier.DepositCredited(ctx, dep.AccountID, t.Amount, newBalance, t.TxID)
		}
	}

	w.expireStale(ctx, pending)
	return nil
}

func (w *Watcher) eligible(t tonapi.Transfer) bool {
	return t.Confirmed && t.Amount > 0 && t.To == w.serviceWalletRaw
}

// matchPending applies the deterministic match rule: the transfer must be at
// or after the request's creation, and either carry the request's exact
// unique amount, or (for open-ended requests) quote the request's code in the
// comment. Requests are scanned oldest first, so the same inputs always pick
// the same request.
func matchPending(pending []ledger.DepositRequest, t tonapi.Transfer) int {
	for i, dep := range pending {
		if t.Timestamp.Before(dep.CreatedAt) {
			continue
		}
		if dep.ExpectedAmount > 0 {
			if t.Amount == dep.ExpectedAmount {
				return i
			}
			continue
		}
		if dep.Code != "" && strings.Contains(t.Comment, dep.Code) {
			return i
		}
	}
	return -1
}

func (w *Watcher) expireStale(ctx context.Context, pending []ledger.DepositRequest) {
	if w.ttl <= 0 {
		return
	}

	cutoff := w.now().Add(-w.ttl)
	for _, dep := range pending {
		if dep.CreatedAt.After(cutoff) {
			continue
		}

		if err := w.store.ExpireDeposit(dep.ID); err != nil {
			w.log.Error("expire deposit", "deposit_id", dep.ID, "error", err)
			continue
		}

		w.log.Info("deposit expired",
			"deposit_id", dep.ID,
			"account_id", dep.AccountID,
			"created_at", dep.CreatedAt,
		)

		if w.notifier != nil {
			w.notifier.DepositExpired(ctx, dep.AccountID, dep)
		}
	}
}
