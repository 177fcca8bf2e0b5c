package tonapi

import "time"

// Event represents a TonAPI event
type Event struct {
	EventID    string   `json:"event_id"`
	Timestamp  int64    `json:"timestamp"`
	Actions    []Action `json:"actions"`
	IsScam     bool     `json:"is_scam"`
	InProgress bool     `json:"in_progress"`
}

// Action represents an action within an event
type Action struct {
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	TonTransfer *TonTransfer `json:"TonTransfer,omitempty"`
}

// TonTransfer represents a TON transfer action
type TonTransfer struct {
	Sender    Account `json:"sender"`
	Recipient Account `json:"recipient"`
	Amount    int64   `json:"amount"` // in nanoTON
	Comment   string  `json:"comment,omitempty"`
}

// Account represents an account/wallet
type Account struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	IsScam   bool   `json:"is_scam,omitempty"`
	IsWallet bool   `json:"is_wallet,omitempty"`
}

// AccountInfo contains account information
type AccountInfo struct {
	Address string `json:"address"` // raw format
	Balance int64  `json:"balance"`
	Status  string `json:"status"`
}

// EventsResponse is the response from events endpoint
type EventsResponse struct {
	Events []Event `json:"events"`
	// NextFrom is the lt cursor for the next (older) page, 0 when exhausted
	NextFrom int64 `json:"next_from"`
}

// Transfer is a flattened completed TON transfer, the unit the deposit
// watcher reconciles against.
type Transfer struct {
	TxID      string
	From      string // raw format
	To        string // raw format
	Amount    int64  // nanoTON
	Comment   string
	Timestamp time.Time
	// Confirmed is false while the event is still in progress or flagged
	// as scam; unconfirmed transfers are never credited.
	Confirmed bool
}
