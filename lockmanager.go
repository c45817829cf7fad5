// Filesystem-based reader/writer lock protocol.
//
// Coordination rides entirely on O_CREATE|O_EXCL for token creation and
// unlink for release; there is no in-process mutex protecting a snapshot.
// A snapshot is a best-effort point-in-time view of the lock directory,
// and correctness follows from the fairness (oldest time_ns,id) plus head
// rule: two acquirers racing for the same grant create tokens with
// different ids, so at most one wins, and the loser's next snapshot
// observes the winner's has token and re-waits.
package ddb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// lockManager grants read/write locks on database names via token files
// under a single .ddb directory.
type lockManager struct {
	dir    string
	cfg    Config
	mu     sync.Mutex // guards liveness map only, not the filesystem protocol
	live   map[int64]chan struct{}
	nextTN atomicClock
}

// atomicClock hands out strictly increasing nanosecond timestamps even
// when called back-to-back within the same clock tick.
type atomicClock struct {
	mu   sync.Mutex
	last int64
}

func (c *atomicClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}

func newLockManager(dir string, cfg Config) *lockManager {
	return &lockManager{
		dir:  dir,
		cfg:  cfg,
		live: make(map[int64]chan struct{}),
	}
}

// heldLock represents a lock this process currently holds, returned by
// AcquireRead/AcquireWrite and released via Release.
type heldLock struct {
	mgr   *lockManager
	mu    sync.Mutex
	token lockToken
}

func (m *lockManager) ensureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

func (m *lockManager) createToken(t lockToken) error {
	path := filepath.Join(m.dir, t.fileName())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (m *lockManager) removeToken(t lockToken) error {
	err := os.Remove(filepath.Join(m.dir, t.fileName()))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// snapshot lists every parsed lock token for name, reclaiming orphans
// inline. exempt, if non-nil, marks a token that must never be reclaimed
// during this snapshot even if it looks stale (the caller's own fresh
// need token).
func (m *lockManager) snapshot(name string, exempt *lockToken) ([]lockToken, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UnixNano()
	orphanAge := m.cfg.RemoveOrphanLockTimeout.Nanoseconds()

	var tokens []lockToken
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t, ok := parseLockToken(e.Name())
		if !ok || escapedName(t.name) != escapedName(name) {
			continue
		}

		if exempt != nil && t.equal(*exempt) {
			tokens = append(tokens, t)
			continue
		}

		if now-t.timeNs > orphanAge {
			if err := m.removeToken(t); err == nil {
				m.cfg.Logger("ddb: reclaimed orphaned lock token %s", t.fileName())
			}
			continue
		}

		tokens = append(tokens, t)
	}

	return tokens, nil
}

// isHead reports whether candidate is the oldest (time_ns, id) among the
// need tokens in tokens.
func isHead(tokens []lockToken, candidate lockToken) bool {
	var needs []lockToken
	for _, t := range tokens {
		if t.stage == stageNeed {
			needs = append(needs, t)
		}
	}
	sort.Slice(needs, func(i, j int) bool {
		if needs[i].timeNs != needs[j].timeNs {
			return needs[i].timeNs < needs[j].timeNs
		}
		return needs[i].id < needs[j].id
	})
	return len(needs) > 0 && needs[0].equal(candidate)
}

func summarize(tokens []lockToken) (anyHas, anyWrite, anyHasWrite bool) {
	for _, t := range tokens {
		if t.stage == stageHas {
			anyHas = true
			if t.mode == modeWrite {
				anyHasWrite = true
			}
		}
		if t.mode == modeWrite {
			anyWrite = true
		}
	}
	return
}

// acquire runs the shared acquisition loop for both read and write locks;
// grant reports, given a snapshot and the candidate's need token, whether
// the lock can be granted right now.
func (m *lockManager) acquire(name string, acq Acquirer, mode lockMode, grant func(tokens []lockToken, need lockToken) bool) (*heldLock, error) {
	if err := m.ensureDir(); err != nil {
		return nil, err
	}

	need := lockToken{name: name, id: acq.id, timeNs: m.nextTN.now(), stage: stageNeed, mode: mode}
	if err := m.createToken(need); err != nil {
		return nil, err
	}

	tokens, err := m.snapshot(name, &need)
	if err != nil {
		_ = m.removeToken(need)
		return nil, err
	}
	for _, t := range tokens {
		if t.stage == stageHas && t.id == acq.id && t.mode == mode {
			_ = m.removeToken(need)
			return nil, fmt.Errorf("%w: acquirer %d already holds a %s lock on %q", ErrDoubleLock, acq.id, mode, name)
		}
	}

	deadline := time.Now().Add(m.cfg.AcquireLockTimeout)

	for {
		tokens, err := m.snapshot(name, &need)
		if err != nil {
			_ = m.removeToken(need)
			return nil, err
		}

		if grant(tokens, need) {
			has := lockToken{name: name, id: acq.id, timeNs: m.nextTN.now(), stage: stageHas, mode: mode}
			if err := m.createToken(has); err != nil {
				_ = m.removeToken(need)
				return nil, err
			}
			_ = m.removeToken(need)
			held := &heldLock{mgr: m, token: has}
			m.startLiveness(held)
			return held, nil
		}

		if time.Now().After(deadline) {
			_ = m.removeToken(need)
			return nil, fmt.Errorf("%w: %q after %s", ErrLockTimeout, name, m.cfg.AcquireLockTimeout)
		}
		time.Sleep(m.cfg.SleepTimeout)
	}
}

// AcquireRead blocks until a read lock on name is granted to acq.
func (m *lockManager) AcquireRead(name string, acq Acquirer) (*heldLock, error) {
	return m.acquire(name, acq, modeRead, func(tokens []lockToken, need lockToken) bool {
		_, anyWrite, anyHasWrite := summarize(tokens)
		if !anyWrite {
			return true
		}
		return !anyHasWrite && isHead(tokens, need)
	})
}

// AcquireWrite blocks until a write lock on name is granted to acq.
func (m *lockManager) AcquireWrite(name string, acq Acquirer) (*heldLock, error) {
	return m.acquire(name, acq, modeWrite, func(tokens []lockToken, need lockToken) bool {
		anyHas, _, _ := summarize(tokens)
		return !anyHas && isHead(tokens, need)
	})
}

// startLiveness begins a background refresh loop that periodically
// replaces held's token with a fresh copy carrying the current time_ns,
// preventing the token from being mistaken for an orphan during a long
// operation.
func (m *lockManager) startLiveness(held *heldLock) {
	stop := make(chan struct{})
	m.mu.Lock()
	m.live[held.token.id] = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.cfg.LockKeepAliveTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				held.mu.Lock()
				old := held.token
				fresh := old
				fresh.timeNs = m.nextTN.now()
				if err := m.createToken(fresh); err != nil {
					m.cfg.Logger("ddb: failed to refresh lock token %s: %v", old.fileName(), err)
					held.mu.Unlock()
					continue
				}
				_ = m.removeToken(old)
				held.token = fresh
				held.mu.Unlock()
			}
		}
	}()
}

func (m *lockManager) stopLiveness(id int64) {
	m.mu.Lock()
	stop, ok := m.live[id]
	if ok {
		delete(m.live, id)
	}
	m.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Release stops the liveness task and unlinks the held token, tolerating
// it already being gone.
func (h *heldLock) Release() error {
	h.mgr.stopLiveness(h.token.id)
	h.mu.Lock()
	t := h.token
	h.mu.Unlock()
	return h.mgr.removeToken(t)
}
