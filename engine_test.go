package ddb

import (
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.StorageRoot = filepath.Join(t.TempDir(), "storage")
	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// TestCreateReadRoundTrip verifies that a freshly created database reads
// back byte-for-byte equivalent JSON structure.
func TestCreateReadRoundTrip(t *testing.T) {
	e := openTestEngine(t, Config{})

	value := map[string]any{"name": "alice", "age": float64(30)}
	if err := e.Create("users", value, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got map[string]any
	if err := e.Read("users", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(value, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRejectsExistingWithoutForce(t *testing.T) {
	e := openTestEngine(t, Config{})
	if err := e.Create("users", map[string]any{"a": 1}, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := e.Create("users", map[string]any{"a": 2}, false)
	if err == nil {
		t.Fatal("expected ErrExists")
	}
}

// TestPartialReadAfterPartialWrite is the round-trip property from the
// testable properties list: partial_write(n,k,v) followed by
// partial_read(n,k) must return v.
func TestPartialReadAfterPartialWrite(t *testing.T) {
	e := openTestEngine(t, Config{})

	initial := map[string]any{
		"alpha": map[string]any{"x": float64(1)},
		"beta":  float64(2),
	}
	if err := e.Create("db", initial, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	newAlpha := map[string]any{"x": float64(99), "y": float64(100)}
	if err := e.PartialWrite("db", "alpha", newAlpha); err != nil {
		t.Fatalf("PartialWrite: %v", err)
	}

	var got map[string]any
	if err := e.PartialRead("db", "alpha", &got); err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if diff := cmp.Diff(newAlpha, got); diff != "" {
		t.Errorf("PartialRead mismatch (-want +got):\n%s", diff)
	}

	// The untouched sibling key must still read back correctly too.
	var beta float64
	if err := e.PartialRead("db", "beta", &beta); err != nil {
		t.Fatalf("PartialRead beta: %v", err)
	}
	if beta != 2 {
		t.Errorf("beta = %v, want 2", beta)
	}
}

// TestPartialWriteShiftsDownstreamOffsets verifies the index shift
// invariant: growing one key's value must not corrupt a sibling key that
// sits after it in the file.
func TestPartialWriteShiftsDownstreamOffsets(t *testing.T) {
	e := openTestEngine(t, Config{})

	initial := map[string]any{
		"first":  float64(1),
		"second": map[string]any{"nested": "value"},
	}
	if err := e.Create("db", initial, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Prime the index for "second" by reading it once.
	var before map[string]any
	if err := e.PartialRead("db", "second", &before); err != nil {
		t.Fatalf("priming PartialRead: %v", err)
	}

	// Grow "first" substantially so "second"'s byte offsets must shift.
	big := make([]any, 50)
	for i := range big {
		big[i] = float64(i)
	}
	if err := e.PartialWrite("db", "first", big); err != nil {
		t.Fatalf("PartialWrite first: %v", err)
	}

	var after map[string]any
	if err := e.PartialRead("db", "second", &after); err != nil {
		t.Fatalf("PartialRead second after shift: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("second mismatch after shift (-want +got):\n%s", diff)
	}
}

// TestPartialWriteKeyNotFound verifies writes to a nonexistent key fail
// instead of silently inserting one (spec: partial write never creates a
// new top-level key).
func TestPartialWriteKeyNotFound(t *testing.T) {
	e := openTestEngine(t, Config{})
	if err := e.Create("db", map[string]any{"a": 1}, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.PartialWrite("db", "missing", 1); err == nil {
		t.Fatal("expected ErrKeyNotFound")
	}
}

// TestPartialWritePreservesIndentation checks that reinjected values
// match the surrounding file's indentation instead of the JSON encoder's
// default flat output.
func TestPartialWritePreservesIndentation(t *testing.T) {
	e := openTestEngine(t, Config{Indent: "  "})

	if err := e.Create("db", map[string]any{"a": map[string]any{"x": float64(1)}}, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.PartialWrite("db", "a", map[string]any{"x": float64(1), "y": float64(2)}); err != nil {
		t.Fatalf("PartialWrite: %v", err)
	}

	raw, err := e.fullIOFor("db").readRaw()
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}

	var decoded map[string]any
	if err := e.Read("db", &decoded); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := map[string]any{"a": map[string]any{"x": float64(1), "y": float64(2)}}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Errorf("decoded mismatch (-want +got):\n%s", diff)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty file")
	}

	// Scenario 2: the file must be byte-identical to the canonical
	// pretty-printed form under the same indent settings, not merely
	// decode to the same value.
	wantBytes, err := json.MarshalIndent(want, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	if string(raw) != string(wantBytes) {
		t.Errorf("raw file bytes = %q, want %q", raw, wantBytes)
	}
}

// TestCompressedDatabaseRoundTrip exercises the compressed form end to
// end: create, partial read, partial write, full read.
func TestCompressedDatabaseRoundTrip(t *testing.T) {
	e := openTestEngine(t, Config{UseCompression: true})

	initial := map[string]any{"k": "v", "n": float64(5)}
	if err := e.Create("db", initial, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got string
	if err := e.PartialRead("db", "k", &got); err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}

	if err := e.PartialWrite("db", "n", float64(6)); err != nil {
		t.Fatalf("PartialWrite: %v", err)
	}

	var whole map[string]any
	if err := e.Read("db", &whole); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := map[string]any{"k": "v", "n": float64(6)}
	if diff := cmp.Diff(want, whole); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

// TestListExpandsGlobAndStripsExtension verifies List returns bare names
// (no extension) for every database matching the glob.
func TestListExpandsGlobAndStripsExtension(t *testing.T) {
	e := openTestEngine(t, Config{})
	if err := e.Create("group/one", map[string]any{"a": 1}, false); err != nil {
		t.Fatalf("Create one: %v", err)
	}
	if err := e.Create("group/two", map[string]any{"a": 2}, false); err != nil {
		t.Fatalf("Create two: %v", err)
	}

	names, err := e.List("group/*")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v, want 2 names", names)
	}
	if names[0] != "group/one" || names[1] != "group/two" {
		t.Errorf("got %v, want [group/one group/two]", names)
	}
}

// TestDeleteRemovesDatabase verifies Delete removes the on-disk file and
// a subsequent Read reports not-found.
func TestDeleteRemovesDatabase(t *testing.T) {
	e := openTestEngine(t, Config{})
	if err := e.Create("db", map[string]any{"a": 1}, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.Delete("db"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var v map[string]any
	if err := e.Read("db", &v); err == nil {
		t.Fatal("expected ErrNotFound after delete")
	}
}

// TestInvalidNameRejected verifies path-traversal-shaped names are
// rejected before ever touching the filesystem.
func TestInvalidNameRejected(t *testing.T) {
	e := openTestEngine(t, Config{})
	if err := e.Create("../escape", map[string]any{"a": 1}, false); err == nil {
		t.Fatal("expected ErrInvalidName")
	}
}
