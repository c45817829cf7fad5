// Partial read/write of a single top-level key, guided by the per-database
// byte-offset index and verified by content hash before every use.
package ddb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// partialIO is the unsafe (lock-free) partial access pipeline for one
// open database. Callers (the engine facade) are responsible for holding
// the appropriate lock around every call.
type partialIO struct {
	name string
	cfg  Config
	bio  byteIO
	idx  *indexStore
}

func newPartialIO(name string, cfg Config, bio byteIO, idx *indexStore) *partialIO {
	return &partialIO{name: name, cfg: cfg, bio: bio, idx: idx}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// readOnly implements partial_read_only: fast path via the index, slow
// path via a full scan, returning the raw JSON bytes of the value.
func (p *partialIO) readOnly(key string) ([]byte, error) {
	if rec, ok := p.idx.get(key); ok {
		slice, err := p.bio.ReadRange(p.name, rec.Start, rec.End)
		if err == nil && sha256Hex(slice) == rec.ValueHash {
			return slice, nil
		}
		_ = p.idx.invalidate(key)
	} else if !p.idx.mightContain(firstSegment(key)) {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	full, err := p.bio.Read(p.name)
	if err != nil {
		return nil, err
	}

	p.idx.markComplete(topLevelKeys(full))

	keyStart, _, valueStart, valueEnd, err := findOutermostKeyPath(full, key)
	if err != nil {
		return nil, err
	}

	slice := full[valueStart:valueEnd]
	level, unit := detectIndentation(full, keyStart, p.cfg.Indent)
	rec := indexRecord{
		Start:       int64(valueStart),
		End:         int64(valueEnd),
		IndentLevel: level,
		IndentWith:  unit,
		ValueHash:   sha256Hex(slice),
	}
	if err := p.idx.put(key, rec); err != nil {
		return nil, err
	}

	return slice, nil
}

// read is readOnly plus JSON decode into v.
func (p *partialIO) read(key string, v any) error {
	slice, err := p.readOnly(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(slice, v)
}

// write implements partial_write: locate the key's current byte range
// (fast path, falling back to a full scan on any hash mismatch), splice
// in the re-indented serialization of value, and shift the index.
func (p *partialIO) write(key string, value any) error {
	full, err := p.bio.Read(p.name)
	if err != nil {
		return err
	}
	p.idx.markComplete(topLevelKeys(full))

	var valueStart, oldEnd int
	var level int
	var unit string

	if rec, ok := p.idx.get(key); ok {
		valid := int(rec.End) <= len(full) && sha256Hex(full[rec.Start:rec.End]) == rec.ValueHash
		if valid {
			valueStart = int(rec.Start)
			oldEnd = int(rec.End)
			level, unit = rec.IndentLevel, rec.IndentWith
		} else {
			ok = false
		}
		if !ok {
			valueStart, oldEnd, level, unit, err = p.locate(full, key)
			if err != nil {
				return err
			}
		}
	} else {
		valueStart, oldEnd, level, unit, err = p.locate(full, key)
		if err != nil {
			return err
		}
	}

	// Serialize with the surrounding file's own indent unit so the value's
	// internal nesting is already pretty-printed; reindent below only
	// needs to add the base-level offset at which the key sits.
	var serialized []byte
	if unit == "" {
		serialized, err = json.Marshal(value)
	} else {
		serialized, err = json.MarshalIndent(value, "", unit)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	reindented := reindent(serialized, level, unit)
	newEnd := valueStart + len(reindented)

	prefix := full[:valueStart]
	suffix := full[oldEnd:]

	if err := p.writeBack(prefix, reindented, suffix, valueStart); err != nil {
		return err
	}

	rec := indexRecord{
		Start:       int64(valueStart),
		End:         int64(newEnd),
		IndentLevel: level,
		IndentWith:  unit,
		ValueHash:   sha256Hex(reindented),
	}
	if err := p.idx.shift(key, rec, int64(oldEnd)); err != nil {
		return err
	}
	return nil
}

// locate runs the slow path: find the key's current byte range by
// scanning full, and detect its indentation.
func (p *partialIO) locate(full []byte, key string) (valueStart, valueEnd, level int, unit string, err error) {
	keyStart, _, valueStart, valueEnd, err := findOutermostKeyPath(full, key)
	if err != nil {
		return 0, 0, 0, "", err
	}
	level, unit = detectIndentation(full, keyStart, p.cfg.Indent)
	return valueStart, valueEnd, level, unit, nil
}

// writeBack splices prefix+serialized+suffix back onto disk: an
// uncompressed database patches the live file in place starting at
// valueStart; a compressed one necessarily rewrites the whole file.
func (p *partialIO) writeBack(prefix, serialized, suffix []byte, valueStart int) error {
	f, _, err := p.bio.statForm(p.name)
	if err != nil {
		return err
	}

	if f == formCompressed {
		full := make([]byte, 0, len(prefix)+len(serialized)+len(suffix))
		full = append(full, prefix...)
		full = append(full, serialized...)
		full = append(full, suffix...)
		return p.bio.Write(p.name, full, true)
	}

	tail := make([]byte, 0, len(serialized)+len(suffix))
	tail = append(tail, serialized...)
	tail = append(tail, suffix...)
	return p.bio.WriteRange(p.name, int64(valueStart), tail)
}

// reindent replaces every newline in serialized with a newline followed
// by level copies of unit, matching the surrounding file's indentation.
// Flat-style output with no newlines is unaffected.
func reindent(serialized []byte, level int, unit string) []byte {
	if unit == "" || level == 0 || !containsNewline(serialized) {
		return serialized
	}
	prefix := strings.Repeat(unit, level)
	return []byte(strings.ReplaceAll(string(serialized), "\n", "\n"+prefix))
}

func containsNewline(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			return true
		}
	}
	return false
}
