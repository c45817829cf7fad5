package ddb

import (
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
)

// Logger receives diagnostic messages emitted by background machinery (lock
// liveness, orphan reclamation). The default is a no-op; callers wire it to
// whatever structured logger they already use.
type Logger func(msg string, args ...any)

func noopLogger(string, ...any) {}

// Config controls the behaviour of an Engine. The zero value is valid:
// every field defaults the way its own comment documents.
type Config struct {
	// StorageRoot is the directory under which database files and the
	// .ddb lock/index directory live. Defaults to "./ddb_storage".
	StorageRoot string

	// UseCompression selects the .ddb (DEFLATE, level 1) form for newly
	// written databases. Existing databases are always read in whichever
	// form is present on disk, regardless of this setting.
	UseCompression bool

	// Indent controls re-indentation of values written by PartialWrite,
	// and the formatting of whole-file writes. Accepted dynamic types:
	// nil or 0 (flat, no indent), a positive int N (N spaces), or a
	// non-empty string (used verbatim as the indent unit).
	Indent any

	// SleepTimeout is the poll interval between lock-acquisition
	// snapshots. Defaults to 1ms.
	SleepTimeout time.Duration

	// AcquireLockTimeout bounds how long a lock acquisition may wait
	// before failing with ErrLockTimeout. Defaults to 60s.
	AcquireLockTimeout time.Duration

	// LockKeepAliveTimeout is the refresh cadence for a held lock token,
	// keeping it from being mistaken for an orphan during a long
	// operation. Defaults to 10s.
	LockKeepAliveTimeout time.Duration

	// RemoveOrphanLockTimeout is the age past which a lock token with no
	// living owner is reclaimed. Defaults to 20s.
	RemoveOrphanLockTimeout time.Duration

	// Logger receives orphan-reclamation and liveness diagnostics.
	// Defaults to a no-op.
	Logger Logger
}

// withDefaults returns a copy of c with every zero-valued field replaced by
// its documented default.
func (c Config) withDefaults() Config {
	if c.StorageRoot == "" {
		c.StorageRoot = "./ddb_storage"
	}
	if c.SleepTimeout == 0 {
		c.SleepTimeout = time.Millisecond
	}
	if c.AcquireLockTimeout == 0 {
		c.AcquireLockTimeout = 60 * time.Second
	}
	if c.LockKeepAliveTimeout == 0 {
		c.LockKeepAliveTimeout = 10 * time.Second
	}
	if c.RemoveOrphanLockTimeout == 0 {
		c.RemoveOrphanLockTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = noopLogger
	}
	return c
}

// indentUnit resolves Config.Indent into a concrete indent unit string
// ("" for flat output), for use when formatting a whole file, which has
// no prior on-disk indentation to detect.
func (c Config) indentUnit() string {
	switch v := c.Indent.(type) {
	case nil:
		return ""
	case int:
		if v <= 0 {
			return ""
		}
		return spaces(v)
	case float64: // Config loaded from JSON via LoadConfig decodes numbers this way
		if v <= 0 {
			return ""
		}
		return spaces(int(v))
	case string:
		return v
	default:
		return ""
	}
}

// LoadConfig reads a JWCC (JSON-with-comments) configuration file via
// hujson, standardizes it to plain JSON, and decodes it into a Config. This
// lets operators annotate a checked-in config file with comments; the
// struct-literal path (Config{...}) remains the primary way to configure an
// Engine programmatically.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(std, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
