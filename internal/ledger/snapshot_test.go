package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()

	_, err := s.Credit("user-1", 100)
	require.NoError(t, err)
	_, err = s.Credit("user-2", 250)
	require.NoError(t, err)

	dep, err := s.CreateDeposit("user-1", 50, "UQservice")
	require.NoError(t, err)
	_, err = s.FulfillDeposit(dep.ID, dep.ExpectedAmount, "tx-1")
	require.NoError(t, err)
	_, err = s.CreateDeposit("user-2", 0, "UQservice")
	require.NoError(t, err)

	s.AppendUsage(UsageLogEntry{AccountID: "user-1", TokensConsumed: 120, CostCharged: 6, QueryDigest: "deadbeef"})

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, s.WriteSnapshot(path))

	restored, err := Load(path)
	require.NoError(t, err)

	// Compare encoded forms: logical equality regardless of in-memory
	// representation details like monotonic clock readings.
	want, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	got, err := json.Marshal(restored.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	assert.Equal(t, s.Balance("user-1"), restored.Balance("user-1"))
	assert.Equal(t, s.Stats(), restored.Stats())

	// Sequence continues, so new deposits still get unique amounts
	d1, err := restored.CreateDeposit("user-3", 100, "UQservice")
	require.NoError(t, err)
	assert.NotEqual(t, dep.ExpectedAmount, d1.ExpectedAmount)
}

func TestSnapshotDoesNotAliasStore(t *testing.T) {
	s := New()
	_, err := s.Credit("user-1", 10)
	require.NoError(t, err)

	snap := s.Snapshot()
	_, err = s.Credit("user-1", 5)
	require.NoError(t, err)

	assert.Equal(t, int64(10), snap.Accounts["user-1"].Balance)
	assert.Equal(t, int64(15), s.Balance("user-1"))
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Zero(t, s.Stats().Accounts)
}

func TestLoadCorruptFileRecoversEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Load(path)
	assert.ErrorIs(t, err, ErrCorruptState)
	require.NotNil(t, s)
	assert.Zero(t, s.Stats().Accounts)

	// The recovered store is usable
	_, err = s.Credit("user-1", 1)
	require.NoError(t, err)
}

func TestWriteSnapshotLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := New()
	_, err := s.Credit("user-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.WriteSnapshot(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

// A reader must never observe partial JSON while several writers race: each
// writer gets its own temp file and writes are serialized, so the rename is
// always of a fully written snapshot.
func TestConcurrentWriteSnapshotNeverCorrupts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := New()
	_, err := s.Credit("user-1", 42)
	require.NoError(t, err)
	require.NoError(t, s.WriteSnapshot(path))

	stop := make(chan struct{})
	readerDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				readerDone <- nil
				return
			default:
			}
			if _, err := Load(path); err != nil {
				readerDone <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := s.WriteSnapshot(path); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	require.NoError(t, <-readerDone)

	restored, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), restored.Balance("user-1"))

	// No stray temp files either
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

// A snapshot stays frozen while the store keeps mutating: the first mutation
// after Snapshot clones the maps instead of writing through them.
func TestSnapshotStableWhileMutating(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		_, err := s.Credit(fmt.Sprintf("user-%d", i), 1)
		require.NoError(t, err)
	}

	snap := s.Snapshot()

	var wg sync.WaitGroup
	// Encode the snapshot while mutations run against the live store
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := json.Marshal(snap); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("user-%d", i%100)
				if _, err := s.Credit(id, 2); err != nil {
					t.Error(err)
					return
				}
				if _, err := s.CreateDeposit(id, 10, "UQservice"); err != nil {
					t.Error(err)
					return
				}
				s.AppendUsage(UsageLogEntry{AccountID: id, CostCharged: 1})
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, snap.Accounts, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, int64(1), snap.Accounts[fmt.Sprintf("user-%d", i)].Balance)
	}
	assert.Empty(t, snap.Deposits)
	assert.Empty(t, snap.Usage)
}

func TestSnapshotLoopWritesFinalSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s := New()
	_, err := s.Credit("user-1", 42)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.SnapshotLoop(ctx, path, time.Hour, log)
		close(done)
	}()

	cancel()
	<-done

	restored, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), restored.Balance("user-1"))
}
