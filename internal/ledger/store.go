package ledger

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyFulfilled  = errors.New("deposit already fulfilled")
	ErrDepositExpired    = errors.New("deposit expired")
	ErrDepositNotFound   = errors.New("deposit not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrCorruptState      = errors.New("corrupt state file")
)

// Store is the single owner of all ledger state. Every mutation goes through
// a named atomic operation; mutations on the same account are serialized by a
// per-account lock, mutations on different accounts may run in parallel.
//
// Snapshots are copy-on-write: Snapshot hands out the live maps by reference
// and marks them shared, and the first mutation afterwards clones them. The
// usage log is append-only with immutable entries, so snapshots take a
// length-capped view of the slice and never need a copy at all.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]Account
	deposits map[string]DepositRequest
	usage    []UsageLogEntry
	seq      uint64 // disambiguator for unique deposit amounts
	shared   bool   // maps are aliased by an outstanding snapshot

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	writeMu sync.Mutex // serializes WriteSnapshot

	now func() time.Time
}

// New creates an empty Store
func New() *Store {
	return &Store{
		accounts: make(map[string]Account),
		deposits: make(map[string]DepositRequest),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// accountLock returns the serialization lock for an account id
func (s *Store) accountLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// mutable makes the maps safe to modify in place. Must be called with s.mu
// held for writing, immediately before any map write. While a snapshot
// aliases the maps the first mutation clones them, so the snapshot stays
// frozen and snapshot readers never race a map write.
func (s *Store) mutable() {
	if !s.shared {
		return
	}

	accounts := make(map[string]Account, len(s.accounts))
	for id, acc := range s.accounts {
		accounts[id] = acc
	}
	deposits := make(map[string]DepositRequest, len(s.deposits))
	for id, dep := range s.deposits {
		deposits[id] = dep
	}

	s.accounts = accounts
	s.deposits = deposits
	s.shared = false
}

// --- Accounts ---

// Balance returns the current balance, zero for unknown accounts
func (s *Store) Balance(accountID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accounts[accountID].Balance
}

// Credit atomically increments a balance, creating the account on first touch
func (s *Store) Credit(accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("credit amount must be positive")
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutable()
	acc := s.accounts[accountID]
	acc.ID = accountID
	acc.Balance += amount
	s.accounts[accountID] = acc
	return acc.Balance, nil
}

// Debit atomically decrements a balance. The balance never goes negative:
// a debit that would overdraw fails with ErrInsufficientFunds.
func (s *Store) Debit(accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("debit amount must be positive")
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrInsufficientFunds
	}
	if acc.Balance < amount {
		return acc.Balance, ErrInsufficientFunds
	}

	s.mutable()
	acc.Balance -= amount
	s.accounts[accountID] = acc
	return acc.Balance, nil
}

// --- Deposits ---

// CreateDeposit allocates a new pending deposit request. Fixed-amount
// requests get a unique expected amount (requested + nano disambiguator) so
// the watcher can match transfers without a comment; open-ended requests
// (requested == 0) are matched by the code in the transfer comment.
func (s *Store) CreateDeposit(accountID string, requested int64, targetAddress string) (DepositRequest, error) {
	if requested < 0 {
		return DepositRequest{}, errors.New("requested amount must not be negative")
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutable()
	if _, ok := s.accounts[accountID]; !ok {
		s.accounts[accountID] = Account{ID: accountID}
	}
	s.seq++

	id := uuid.NewString()
	dep := DepositRequest{
		ID:              id,
		AccountID:       accountID,
		TargetAddress:   targetAddress,
		Code:            strings.ReplaceAll(id, "-", "")[:8],
		RequestedAmount: requested,
		Status:          DepositPending,
		CreatedAt:       s.now(),
	}
	if requested > 0 {
		dep.ExpectedAmount = requested + int64(s.seq%10000)
	}

	s.deposits[dep.ID] = dep
	return dep, nil
}

// FulfillDeposit credits the observed amount exactly once. A second call for
// the same deposit fails with ErrAlreadyFulfilled, so the watcher may observe
// the same transaction on multiple poll cycles without double-crediting.
func (s *Store) FulfillDeposit(depositID string, observed int64, txID string) (int64, error) {
	if observed <= 0 {
		return 0, errors.New("observed amount must be positive")
	}

	s.mu.RLock()
	dep, ok := s.deposits[depositID]
	if !ok {
		s.mu.RUnlock()
		return 0, ErrDepositNotFound
	}
	accountID := dep.AccountID
	s.mu.RUnlock()

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock: status may have changed
	dep = s.deposits[depositID]
	switch dep.Status {
	case DepositFulfilled:
		return 0, ErrAlreadyFulfilled
	case DepositExpired:
		return 0, ErrDepositExpired
	}

	s.mutable()
	dep.Status = DepositFulfilled
	dep.TxID = txID
	dep.FulfilledAt = s.now()
	s.deposits[depositID] = dep

	acc := s.accounts[accountID]
	acc.ID = accountID
	acc.Balance += observed
	s.accounts[accountID] = acc
	return acc.Balance, nil
}

// ExpireDeposit transitions an unmatched pending request to Expired.
// The request is kept as audit trail, never deleted.
func (s *Store) ExpireDeposit(depositID string) error {
	s.mu.RLock()
	dep, ok := s.deposits[depositID]
	if !ok {
		s.mu.RUnlock()
		return ErrDepositNotFound
	}
	accountID := dep.AccountID
	s.mu.RUnlock()

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	dep = s.deposits[depositID]
	switch dep.Status {
	case DepositFulfilled:
		return ErrAlreadyFulfilled
	case DepositExpired:
		return nil
	}

	s.mutable()
	dep.Status = DepositExpired
	s.deposits[depositID] = dep
	return nil
}

// PendingDeposits returns all pending requests, oldest first
func (s *Store) PendingDeposits() []DepositRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DepositRequest
	for _, dep := range s.deposits {
		if dep.Status == DepositPending {
			out = append(out, dep)
		}
	}
	sortDepositsByCreation(out)
	return out
}

// GetDeposit returns a deposit request by id
func (s *Store) GetDeposit(depositID string) (DepositRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dep, ok := s.deposits[depositID]
	if !ok {
		return DepositRequest{}, ErrDepositNotFound
	}
	return dep, nil
}

// --- Usage ---

// AppendUsage atomically appends one usage entry. Entries are immutable and
// the slice is append-only, so outstanding snapshots (which cap the slice at
// their length) are unaffected and no copy-on-write is needed here.
func (s *Store) AppendUsage(entry UsageLogEntry) {
	l := s.accountLock(entry.AccountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.usage = append(s.usage, entry)
}

// UsageHistory returns the most recent entries for an account, newest first
func (s *Store) UsageHistory(accountID string, limit int) []UsageLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []UsageLogEntry
	for i := len(s.usage) - 1; i >= 0 && len(out) < limit; i-- {
		if s.usage[i].AccountID == accountID {
			out = append(out, s.usage[i])
		}
	}
	return out
}

// UsageTotals returns the amount actually collected and the query count for
// an account. Unrecovered charges count as queries but not as spend: the
// debit never landed.
func (s *Store) UsageTotals(accountID string) (spent int64, queries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.usage {
		if e.AccountID != accountID {
			continue
		}
		if !e.Unrecovered {
			spent += e.CostCharged
		}
		queries++
	}
	return spent, queries
}

// --- Aggregates ---

// Stats returns aggregate counters without mutating anything
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Accounts:     len(s.accounts),
		TotalQueries: len(s.usage),
	}
	for _, acc := range s.accounts {
		st.TotalBalance += acc.Balance
	}
	for _, dep := range s.deposits {
		if dep.Status == DepositPending {
			st.PendingDeposits++
		}
	}
	return st
}

func sortDepositsByCreation(deps []DepositRequest) {
	sort.Slice(deps, func(i, j int) bool {
		return deps[i].CreatedAt.Before(deps[j].CreatedAt)
	})
}
