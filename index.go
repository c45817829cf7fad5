// Persistent per-database index of top-level key byte ranges.
//
// The index is a write-through cache: every update is immediately
// serialized to its sidecar file. A parse failure or absence of the
// sidecar is never fatal — it just means the store starts empty and lets
// the partial I/O layer rebuild entries on demand.
//
// Each store also owns an in-memory bloom filter of the database's
// top-level keys, populated whenever a full scan of the file happens to
// run anyway. Until the first such scan, the filter is marked incomplete
// and every lookup falls through to a real scan; a complete filter lets a
// repeated miss on a nonexistent key short-circuit without touching the
// file again.
package ddb

import (
	"bytes"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	atomicfile "github.com/natefinch/atomic"
)

// indexRecord is one entry of the sidecar index: the byte range of a
// top-level key's value, its indentation, and a content hash used to
// verify the range is still valid before it is trusted.
type indexRecord struct {
	Start       int64
	End         int64
	IndentLevel int
	IndentWith  string
	ValueHash   string
}

// MarshalJSON renders the record as the five-element array the sidecar
// format specifies, rather than a JSON object.
func (r indexRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]any{r.Start, r.End, r.IndentLevel, r.IndentWith, r.ValueHash})
}

// UnmarshalJSON parses the five-element array form.
func (r *indexRecord) UnmarshalJSON(data []byte) error {
	var arr [5]any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	r.Start = int64(toFloat(arr[0]))
	r.End = int64(toFloat(arr[1]))
	r.IndentLevel = int(toFloat(arr[2]))
	if s, ok := arr[3].(string); ok {
		r.IndentWith = s
	}
	if s, ok := arr[4].(string); ok {
		r.ValueHash = s
	}
	return nil
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

// indexStore holds the in-memory and on-disk state of one database's
// sidecar index, plus its companion bloom filter. Safe for concurrent
// use by multiple readers holding the same database's read lock.
type indexStore struct {
	mu             sync.Mutex
	path           string
	records        map[string]indexRecord
	filter         *bloom
	filterComplete bool
}

// loadIndex reads the sidecar file at path, eagerly, at construction. A
// parse error or missing file yields an empty in-memory map.
func loadIndex(path string) *indexStore {
	s := &indexStore{path: path, records: make(map[string]indexRecord), filter: newBloom()}

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}

	var raw map[string]indexRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return s
	}
	s.records = raw
	for k := range raw {
		s.filter.Add(k)
	}
	return s
}

func (s *indexStore) get(key string) (indexRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok
}

// mightContain reports whether key could be a top-level key of this
// database. Before the filter has been completed by a full scan, every
// key might be present, so this is only useful once markComplete has run
// at least once for this store.
func (s *indexStore) mightContain(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterComplete {
		return true
	}
	return s.filter.Contains(key)
}

// markComplete records that keys is the full, authoritative set of
// top-level keys observed during a full scan, making the bloom filter
// trustworthy for negative lookups from here on.
func (s *indexStore) markComplete(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Reset()
	for _, k := range keys {
		s.filter.Add(k)
	}
	s.filterComplete = true
}

// put writes rec for key and persists the whole map to the sidecar file.
func (s *indexStore) put(key string, rec indexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	s.filter.Add(key)
	return s.persistLocked()
}

// shift applies the downstream-offset shift required by the index
// invariants: after a partial write of key whose old end was
// oldEnd and new end is rec.End, every other record with start > oldEnd
// moves by delta = rec.End - oldEnd. The record for key is replaced with
// rec, and the whole map is persisted once.
func (s *indexStore) shift(key string, rec indexRecord, oldEnd int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := rec.End - oldEnd
	if delta != 0 {
		for k, other := range s.records {
			if k == key {
				continue
			}
			if other.Start > oldEnd {
				other.Start += delta
				other.End += delta
				s.records[k] = other
			}
		}
	}
	s.records[key] = rec
	s.filter.Add(key)
	return s.persistLocked()
}

// invalidate drops a record that turned out to be stale (hash mismatch),
// so the next lookup always re-scans instead of reusing the result of
// this failed verification.
func (s *indexStore) invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return s.persistLocked()
}

func (s *indexStore) persistLocked() error {
	if err := os.MkdirAll(parentDir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(s.records)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, bytes.NewReader(data))
}

// persist is exposed for tests exercising the sidecar format directly.
func (s *indexStore) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}
