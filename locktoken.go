package ddb

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

type lockStage string

const (
	stageNeed lockStage = "need"
	stageHas  lockStage = "has"
)

type lockMode string

const (
	modeRead  lockMode = "read"
	modeWrite lockMode = "write"
)

// lockToken is a value object bundling the name components of a lock
// token filename. The file itself is always empty; its name is the data.
type lockToken struct {
	name   string // database name this token guards
	id     int64  // acquirer identity, unique within the process for the acquirer's lifetime
	timeNs int64  // monotonic-clock nanoseconds at creation
	stage  lockStage
	mode   lockMode
}

// equal implements the "already held" comparison: (id, stage, mode).
func (t lockToken) equal(other lockToken) bool {
	return t.id == other.id && t.stage == other.stage && t.mode == other.mode
}

// fileName renders the token's filename per the grammar
// "<escaped_name>.<id>.<time_ns>.<stage>.<mode>.lock".
func (t lockToken) fileName() string {
	return fmt.Sprintf("%s.%d.%d.%s.%s.lock", escapedName(t.name), t.id, t.timeNs, t.stage, t.mode)
}

// parseLockToken reverses fileName for a filename found in the lock
// directory. Returns false if filename does not match the grammar (e.g.
// it's the index sidecar file, or a stray file left by something else).
func parseLockToken(filename string) (lockToken, bool) {
	if !strings.HasSuffix(filename, ".lock") {
		return lockToken{}, false
	}
	trimmed := strings.TrimSuffix(filename, ".lock")
	parts := strings.Split(trimmed, ".")
	if len(parts) < 5 {
		return lockToken{}, false
	}

	mode := lockMode(parts[len(parts)-1])
	stage := lockStage(parts[len(parts)-2])
	timeStr := parts[len(parts)-3]
	idStr := parts[len(parts)-4]
	escaped := strings.Join(parts[:len(parts)-4], ".")

	if mode != modeRead && mode != modeWrite {
		return lockToken{}, false
	}
	if stage != stageNeed && stage != stageHas {
		return lockToken{}, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return lockToken{}, false
	}
	timeNs, err := strconv.ParseInt(timeStr, 10, 64)
	if err != nil {
		return lockToken{}, false
	}

	return lockToken{
		name:   unescapeName(escaped),
		id:     id,
		timeNs: timeNs,
		stage:  stage,
		mode:   mode,
	}, true
}

// unescapeName reverses escapedName. Lossy in the face of a name that
// itself contains a literal "___" or "____" run, same as the source
// escaping scheme it mirrors; acceptable because token filenames are only
// ever compared by their escaped form against a known escapedName(name),
// never reconstructed as the sole source of truth for a name.
func unescapeName(escaped string) string {
	s := strings.ReplaceAll(escaped, "____", ".")
	s = strings.ReplaceAll(s, "___", "/")
	return s
}

// acquirerCounter mints process-wide unique acquirer identities, standing
// in for the OS thread id the original protocol keys its tokens on: Go
// goroutines have no stable native thread id, so identity here is a
// monotonic counter handed out once per logical acquirer.
var acquirerCounter atomic.Int64

// Acquirer is a lock identity. Two lock acquisitions through the same
// Acquirer value are treated as the same logical thread for the "already
// held" double-lock check; two different Acquirer values are always
// treated as distinct, even from the same goroutine.
type Acquirer struct {
	id int64
}

// NewAcquirer mints a fresh, process-unique acquirer identity.
func NewAcquirer() Acquirer {
	return Acquirer{id: acquirerCounter.Add(1)}
}
