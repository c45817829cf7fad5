// Engine is the safe I/O facade: every public operation pairs the
// appropriate lock with the corresponding unsafe full/partial operation,
// and always releases the lock on exit, success or failure.
package ddb

import (
	"fmt"
	"os"
	"sync"
)

// Engine is a single storage root's entry point. One Engine may be shared
// by many goroutines; each call mints its own Acquirer and holds its lock
// only for the duration of that call. No lock is held across calls.
type Engine struct {
	cfg Config
	res resolver
	bio byteIO
	lm  *lockManager

	mu      sync.Mutex
	closed  bool
	indexes map[string]*indexStore
}

// Open constructs an Engine rooted at cfg.StorageRoot, creating the
// storage root and its .ddb sidecar directory if needed.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	res := newResolver(cfg.StorageRoot)
	if err := os.MkdirAll(res.lockDir(), 0o755); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		res:     res,
		bio:     newByteIO(res),
		lm:      newLockManager(res.lockDir(), cfg),
		indexes: make(map[string]*indexStore),
	}
	return e, nil
}

// Close releases any resources held by the Engine. It does not touch
// on-disk state; locks and index files persist independently of process
// lifetime.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *Engine) indexFor(name string) *indexStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx, ok := e.indexes[name]; ok {
		return idx
	}
	idx := loadIndex(e.res.indexPath(name))
	e.indexes[name] = idx
	return idx
}

func (e *Engine) partialIOFor(name string) *partialIO {
	return newPartialIO(name, e.cfg, e.bio, e.indexFor(name))
}

func (e *Engine) fullIOFor(name string) fullIO {
	return newFullIO(name, e.cfg, e.bio)
}

// Exists reports whether name has a database file in either form.
func (e *Engine) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	return e.res.exists(name)
}

// Read decodes the whole database name into v, under a read lock.
func (e *Engine) Read(name string, v any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	held, err := e.lm.AcquireRead(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	return e.fullIOFor(name).read(v)
}

// PartialRead decodes key's value (possibly a dotted path) out of name
// into v, under a read lock, using the index fast path when available.
func (e *Engine) PartialRead(name, key string, v any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	held, err := e.lm.AcquireRead(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	return e.partialIOFor(name).read(key, v)
}

// Write serializes value and replaces the whole database name, under a
// write lock. name must already exist; use Create for first creation.
func (e *Engine) Write(name string, value any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	exists, err := e.res.exists(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	held, err := e.lm.AcquireWrite(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	return e.fullIOFor(name).write(value)
}

// Create writes a brand-new database name holding value. If name already
// exists and forceOverwrite is false, it fails with ErrExists.
func (e *Engine) Create(name string, value any, forceOverwrite bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	held, err := e.lm.AcquireWrite(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	exists, err := e.res.exists(name)
	if err != nil {
		return err
	}
	if exists && !forceOverwrite {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}

	return e.fullIOFor(name).write(value)
}

// PartialWrite serializes value, re-indents it to match the surrounding
// file, and splices it into key's byte range within name, under a write
// lock. Fails with ErrKeyNotFound if key does not already exist.
func (e *Engine) PartialWrite(name, key string, value any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	held, err := e.lm.AcquireWrite(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	return e.partialIOFor(name).write(key, value)
}

// Delete removes whichever on-disk form of name exists, along with its
// index sidecar, under a write lock.
func (e *Engine) Delete(name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	held, err := e.lm.AcquireWrite(name, NewAcquirer())
	if err != nil {
		return err
	}
	defer held.Release()

	if err := e.bio.Delete(name); err != nil {
		return err
	}
	if err := os.Remove(e.res.indexPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}

	e.mu.Lock()
	delete(e.indexes, name)
	e.mu.Unlock()

	return nil
}

// List expands pattern (a "/"-delimited name with "*" wildcard segments)
// into every matching database name under the storage root.
func (e *Engine) List(pattern string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.res.list(pattern)
}
