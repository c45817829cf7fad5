package ddb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolver maps database names to their on-disk candidate paths under a
// fixed storage root.
type resolver struct {
	root string
}

func newResolver(root string) resolver {
	return resolver{root: root}
}

// jsonPath returns the uncompressed candidate path for name.
func (r resolver) jsonPath(name string) string {
	return filepath.Join(r.root, filepath.FromSlash(name)+".json")
}

// ddbPath returns the compressed candidate path for name.
func (r resolver) ddbPath(name string) string {
	return filepath.Join(r.root, filepath.FromSlash(name)+".ddb")
}

// lockDir returns the directory holding index and lock token files.
func (r resolver) lockDir() string {
	return filepath.Join(r.root, ".ddb")
}

// indexPath returns the sidecar index file path for name.
func (r resolver) indexPath(name string) string {
	return filepath.Join(r.lockDir(), escapedName(name)+".index")
}

// candidates reports which on-disk forms exist for name. Returns
// ErrInconsistent if both exist.
func (r resolver) candidates(name string) (jsonPath, ddbPath string, jsonExists, ddbExists bool, err error) {
	jsonPath = r.jsonPath(name)
	ddbPath = r.ddbPath(name)
	jsonExists = fileExists(jsonPath)
	ddbExists = fileExists(ddbPath)
	if jsonExists && ddbExists {
		return jsonPath, ddbPath, true, true, fmt.Errorf("%w: %q", ErrInconsistent, name)
	}
	return jsonPath, ddbPath, jsonExists, ddbExists, nil
}

// exists reports whether name has a database file in either form, without
// distinguishing which.
func (r resolver) exists(name string) (bool, error) {
	_, _, jsonExists, ddbExists, err := r.candidates(name)
	if err != nil {
		return true, err
	}
	return jsonExists || ddbExists, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}

// list expands pattern (a "/"-delimited name with "*" wildcard segments)
// into every matching database name under the storage root, with the
// .json/.ddb extension stripped. A name with both forms present is
// reported once; the ordinary consistency check fires whenever that name
// is actually opened.
func (r resolver) list(pattern string) ([]string, error) {
	globJSON := filepath.Join(r.root, filepath.FromSlash(pattern)+".json")
	globDDB := filepath.Join(r.root, filepath.FromSlash(pattern)+".ddb")

	seen := make(map[string]struct{})
	var names []string

	for _, g := range []struct {
		pattern, ext string
	}{{globJSON, ".json"}, {globDDB, ".ddb"}} {
		matches, err := filepath.Glob(g.pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(r.root, m)
			if err != nil {
				continue
			}
			rel = strings.TrimSuffix(filepath.ToSlash(rel), g.ext)
			if _, ok := seen[rel]; ok {
				continue
			}
			seen[rel] = struct{}{}
			names = append(names, rel)
		}
	}

	sort.Strings(names)
	return names, nil
}
