package ledger

import "time"

// DepositStatus is the lifecycle state of a deposit request
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositFulfilled DepositStatus = "fulfilled"
	DepositExpired   DepositStatus = "expired"
)

// Account holds a user balance in nanoTON
type Account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"` // nanoTON, never negative
}

// DepositRequest tracks an expected incoming transfer.
// Requests are never deleted; Expired and Fulfilled rows stay as audit trail.
type DepositRequest struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	TargetAddress   string        `json:"target_address"`
	Code            string        `json:"code"`             // short token for comment matching
	RequestedAmount int64         `json:"requested_amount"` // what the user asked to top up, 0 = open-ended
	ExpectedAmount  int64         `json:"expected_amount"`  // unique on-chain amount to match, 0 = open-ended
	Status          DepositStatus `json:"status"`
	TxID            string        `json:"tx_id,omitempty"` // transaction that fulfilled the request
	CreatedAt       time.Time     `json:"created_at"`
	FulfilledAt     time.Time     `json:"fulfilled_at,omitempty"`
}

// UsageLogEntry records one charged AI query.
// QueryDigest is a short one-way hash, never the message text.
type UsageLogEntry struct {
	AccountID      string    `json:"account_id"`
	Timestamp      time.Time `json:"timestamp"`
	TokensConsumed int       `json:"tokens_consumed"`
	CostCharged    int64     `json:"cost_charged"`
	QueryDigest    string    `json:"query_digest"`
	// Unrecovered marks an answer delivered whose debit failed; the entry
	// persists across restarts for manual reconciliation.
	Unrecovered bool `json:"unrecovered,omitempty"`
}

// Snapshot is a consistent point-in-time copy of the whole ledger
type Snapshot struct {
	Accounts map[string]Account        `json:"accounts"`
	Deposits map[string]DepositRequest `json:"deposits"`
	Usage    []UsageLogEntry           `json:"usage"`
	Seq      uint64                    `json:"seq"`
}

// Stats are aggregate counters exposed on the stats endpoint
type Stats struct {
	Accounts        int   `json:"total_accounts"`
	TotalBalance    int64 `json:"total_balance"`
	PendingDeposits int   `json:"pending_deposits"`
	TotalQueries    int   `json:"total_queries"`
}
