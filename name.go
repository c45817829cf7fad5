package ddb

import (
	"fmt"
	"strings"
)

// validateName reports whether name is an acceptable database name: a
// non-empty, forward-slash-delimited relative path with no empty, "." or
// ".." segment and no leading/trailing slash. It does not check for a file
// extension.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q has a leading or trailing slash", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q contains an invalid segment", ErrInvalidName, name)
		}
	}
	return nil
}

// escapedName maps a database name to the flat filename used for its index
// and lock token files under the .ddb directory: every "/" becomes "___"
// and every "." becomes "____", so escaped names never themselves look like
// a path. Names that already contain runs of underscores can map to the
// same escaped name (for example "a/b" and "a___b").
func escapedName(name string) string {
	name = strings.ReplaceAll(name, "/", "___")
	name = strings.ReplaceAll(name, ".", "____")
	return name
}
