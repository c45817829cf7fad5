package ddb

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLockManager(t *testing.T) *lockManager {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{}.withDefaults()
	cfg.SleepTimeout = time.Millisecond
	cfg.AcquireLockTimeout = time.Second
	cfg.LockKeepAliveTimeout = time.Hour // don't let liveness interfere with these tests
	cfg.RemoveOrphanLockTimeout = time.Hour
	return newLockManager(filepath.Join(dir, ".ddb"), cfg)
}

// TestReadLocksCoalesce verifies that multiple readers are granted
// concurrently when no writer is waiting.
func TestReadLocksCoalesce(t *testing.T) {
	m := testLockManager(t)

	h1, err := m.AcquireRead("db", NewAcquirer())
	require.NoError(t, err)
	defer h1.Release()

	h2, err := m.AcquireRead("db", NewAcquirer())
	require.NoError(t, err)
	defer h2.Release()
}

// TestWriteLockExcludesReaders verifies a write lock blocks a concurrent
// read lock attempt until the write lock is released.
func TestWriteLockExcludesReaders(t *testing.T) {
	m := testLockManager(t)

	w, err := m.AcquireWrite("db", NewAcquirer())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h, err := m.AcquireRead("db", NewAcquirer())
		require.NoError(t, err)
		close(acquired)
		h.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("read lock granted while write lock held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, w.Release())

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("read lock never granted after write release")
	}
}

// TestDoubleLockRejected verifies that the same acquirer cannot hold two
// locks of the same mode on the same database at once.
func TestDoubleLockRejected(t *testing.T) {
	m := testLockManager(t)
	acq := NewAcquirer()

	h, err := m.AcquireRead("db", acq)
	require.NoError(t, err)
	defer h.Release()

	_, err = m.AcquireRead("db", acq)
	require.ErrorIs(t, err, ErrDoubleLock)
}

// TestWriterStarvationPrevented verifies a waiting writer eventually gets
// in ahead of a steady stream of new readers, per the head rule.
func TestWriterStarvationPrevented(t *testing.T) {
	m := testLockManager(t)

	h1, err := m.AcquireRead("db", NewAcquirer())
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		h, err := m.AcquireWrite("db", NewAcquirer())
		require.NoError(t, err)
		h.Release()
		close(writerDone)
	}()

	time.Sleep(20 * time.Millisecond) // let the writer enqueue its need token

	blocked := make(chan struct{})
	go func() {
		h, err := m.AcquireRead("db", NewAcquirer())
		if err == nil {
			h.Release()
		}
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("new reader jumped ahead of a waiting writer")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, h1.Release())

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer starved")
	}
	<-blocked
}

// TestOrphanLockReclaimed verifies a stale has token (older than
// RemoveOrphanLockTimeout) is unlinked and no longer blocks new
// acquisitions.
func TestOrphanLockReclaimed(t *testing.T) {
	m := testLockManager(t)
	m.cfg.RemoveOrphanLockTimeout = 10 * time.Millisecond

	require.NoError(t, m.ensureDir())
	orphan := lockToken{name: "db", id: 999, timeNs: time.Now().Add(-time.Hour).UnixNano(), stage: stageHas, mode: modeWrite}
	require.NoError(t, m.createToken(orphan))

	h, err := m.AcquireWrite("db", NewAcquirer())
	require.NoError(t, err)
	defer h.Release()

	_, statErr := os.Stat(filepath.Join(m.dir, orphan.fileName()))
	require.True(t, os.IsNotExist(statErr), "orphaned lock token should have been removed")
}

// TestConcurrentWritersAreSerialized verifies that many writers racing
// for the same database never observe each other's write locks
// overlapping.
func TestConcurrentWritersAreSerialized(t *testing.T) {
	m := testLockManager(t)

	var mu sync.Mutex
	holders := 0
	maxHolders := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.AcquireWrite("db", NewAcquirer())
			require.NoError(t, err)

			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			require.NoError(t, h.Release())
		}()
	}
	wg.Wait()

	if maxHolders != 1 {
		t.Fatalf("observed %d concurrent write-lock holders, want 1", maxHolders)
	}
}
