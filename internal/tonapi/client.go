package tonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tonkeeper/tongo/ton"
)

// Client is a TonAPI HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration

	pageLimit int
}

// maxEventPages bounds one reconciliation cycle; anything older is picked up
// on the next tick since pending requests stay pending.
const maxEventPages = 10

// NewClient creates a new TonAPI client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minDelay:  250 * time.Millisecond, // ~4 RPS
		pageLimit: 100,
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	c.throttle()

	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// GetAccountInfo returns account information
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	data, err := c.doRequest(ctx, "GET", "/accounts/"+address, nil)
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &info, nil
}

// GetEvents returns recent events for an account, optionally since a point
// in time
func (c *Client) GetEvents(ctx context.Context, address string, limit int, since time.Time) ([]Event, error) {
	resp, err := c.getEventsPage(ctx, address, limit, since, 0)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// getEventsPage fetches one page of events; beforeLT > 0 continues from a
// previous page's next_from cursor.
func (c *Client) getEventsPage(ctx context.Context, address string, limit int, since time.Time, beforeLT int64) (*EventsResponse, error) {
	path := fmt.Sprintf("/accounts/%s/events?limit=%d", address, limit)
	if !since.IsZero() {
		path += fmt.Sprintf("&start_date=%d", since.Unix())
	}
	if beforeLT > 0 {
		path += fmt.Sprintf("&before_lt=%d", beforeLT)
	}
	data, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp EventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &resp, nil
}

// ListTransfers returns completed TON transfers seen on an account since the
// given time, flattened from events. It pages through the events API so a
// burst of activity larger than one page cannot hide a matching transfer.
// Malformed actions are skipped, never fatal: one bad event must not block
// reconciliation of the rest.
func (c *Client) ListTransfers(ctx context.Context, address string, since time.Time) ([]Transfer, error) {
	var events []Event
	var beforeLT int64
	for page := 0; page < maxEventPages; page++ {
		resp, err := c.getEventsPage(ctx, address, c.pageLimit, since, beforeLT)
		if err != nil {
			return nil, err
		}
		events = append(events, resp.Events...)
		if len(resp.Events) < c.pageLimit || resp.NextFrom == 0 {
			break
		}
		beforeLT = resp.NextFrom
	}

	var transfers []Transfer
	for _, ev := range events {
		if ev.EventID == "" {
			continue
		}
		for _, action := range ev.Actions {
			if action.Type != "TonTransfer" || action.TonTransfer == nil {
				continue
			}
			if action.Status != "" && action.Status != "ok" {
				continue
			}
			tt := action.TonTransfer
			transfers = append(transfers, Transfer{
				TxID:      ev.EventID,
				From:      NormalizeAddress(tt.Sender.Address),
				To:        NormalizeAddress(tt.Recipient.Address),
				Amount:    tt.Amount,
				Comment:   tt.Comment,
				Timestamp: time.Unix(ev.Timestamp, 0),
				Confirmed: !ev.InProgress && !ev.IsScam,
			})
		}
	}

	return transfers, nil
}

// --- Address Utilities ---

// NanoToTON converts nanoTON to TON
func NanoToTON(nano int64) float64 {
	return float64(nano) / 1e9
}

// RawToFriendly converts raw address (0:...) to friendly format (UQ.../EQ...)
func RawToFriendly(raw string) string {
	if raw == "" {
		return ""
	}

	acc, err := ton.ParseAccountID(raw)
	if err != nil {
		return raw
	}

	// Convert to user-friendly format (bounceable, URL-safe)
	return acc.ToHuman(true, false)
}

// NormalizeAddress converts any address format to raw (0:...)
func NormalizeAddress(addr string) string {
	if addr == "" {
		return ""
	}

	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return addr
	}

	return acc.String()
}

// ShortAddr returns a shortened address for display
func ShortAddr(addr string, n int) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) < n*2+3 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}
