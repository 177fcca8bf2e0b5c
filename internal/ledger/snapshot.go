package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Snapshot produces a consistent point-in-time view of the ledger. The maps
// are handed out by reference and marked shared; the next mutation clones
// them first (copy-on-write), so the lock is held only to copy top-level
// references, never for the size of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shared = true
	return Snapshot{
		Accounts: s.accounts,
		Deposits: s.deposits,
		// Length-capped view: later appends to the live log reallocate or
		// write past this snapshot's length, never into it.
		Usage: s.usage[:len(s.usage):len(s.usage)],
		Seq:   s.seq,
	}
}

// Restore replaces the store contents with a snapshot. Called once at
// startup. The snapshot's maps are adopted as shared, so a caller that keeps
// the snapshot around sees it unchanged by later store mutations.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = snap.Accounts
	if s.accounts == nil {
		s.accounts = make(map[string]Account)
	}
	s.deposits = snap.Deposits
	if s.deposits == nil {
		s.deposits = make(map[string]DepositRequest)
	}
	s.usage = snap.Usage
	s.seq = snap.Seq
	s.shared = true
}

// WriteSnapshot persists the current state with a write-to-temp-then-rename
// so a crash mid-write never corrupts the previous good snapshot. Writers
// are serialized and each gets its own temp file, so concurrent calls can
// neither truncate each other's temp file nor land an older snapshot over a
// newer one.
func (s *Store) WriteSnapshot(path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load builds a store from a snapshot file. A missing file yields an empty
// store. An unparsable file also yields an empty store but reports
// ErrCorruptState so the caller can log the recovery; the process keeps
// running either way.
func Load(path string) (*Store, error) {
	s := New()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	s.Restore(snap)
	return s, nil
}

// SnapshotLoop writes snapshots on a fixed interval until the context is
// cancelled, then writes one final snapshot. Writes are interval-based, not
// per-operation, to bound write amplification. The caller should wait for
// SnapshotLoop to return before exiting so the final write completes.
func (s *Store) SnapshotLoop(ctx context.Context, path string, interval time.Duration, log *slog.Logger) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Error("create snapshot dir", "path", path, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.WriteSnapshot(path); err != nil {
				log.Error("final snapshot", "path", path, "error", err)
			} else {
				log.Info("final snapshot written", "path", path)
			}
			return
		case <-ticker.C:
			if err := s.WriteSnapshot(path); err != nil {
				log.Error("write snapshot", "path", path, "error", err)
			}
		}
	}
}
