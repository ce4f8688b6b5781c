// Package pathguard resolves and validates filesystem paths against a set
// of allowed roots and deny-glob patterns. It generalizes the original
// molecular server's paths.SafeJoin (a plain filepath.Rel prefix check)
// with symlink canonicalization and an ancestor walk for paths that don't
// exist yet, since a session's output files are validated before they are
// written.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrEmptyPath    = errors.New("empty path")
	ErrNullByte     = errors.New("path contains null byte")
	ErrOutsideRoots = errors.New("path outside allowed roots")
	ErrDenied       = errors.New("path matches a deny pattern")
)

// Result carries the outcome of a Validate call.
type Result struct {
	Allowed  bool
	Resolved string
	Reason   error
}

// Validate resolves path to its canonical form and checks it against
// roots and denyGlobs per the algorithm: reject empty/NUL paths, resolve
// through symlinks (walking toward the root for not-yet-existing
// segments), require containment under one of roots, then reject any
// match against denyGlobs (matched against the root-relative path with
// forward-slash separators).
func Validate(path string, roots []string, denyGlobs []string) Result {
	if path == "" {
		return Result{Reason: ErrEmptyPath}
	}
	if strings.ContainsRune(path, 0) {
		return Result{Reason: ErrNullByte}
	}

	resolved, err := canonicalize(path)
	if err != nil {
		return Result{Reason: err}
	}

	var containingRoot string
	for _, r := range roots {
		canonRoot, err := canonicalize(r)
		if err != nil {
			continue
		}
		if isUnder(resolved, canonRoot) {
			containingRoot = canonRoot
			break
		}
	}
	if containingRoot == "" {
		return Result{Reason: ErrOutsideRoots}
	}

	rel, err := filepath.Rel(containingRoot, resolved)
	if err != nil {
		return Result{Reason: fmt.Errorf("compute relative path: %w", err)}
	}
	relSlash := filepath.ToSlash(rel)
	for _, g := range denyGlobs {
		ok, merr := doublestar.Match(g, relSlash)
		if merr == nil && ok {
			return Result{Reason: fmt.Errorf("%w: %s", ErrDenied, g)}
		}
	}

	return Result{Allowed: true, Resolved: resolved}
}

// canonicalize makes path absolute and resolves symlinks. If path (or a
// suffix of it) does not yet exist, it walks toward the root until it
// finds an existing ancestor, canonicalizes that ancestor, then rejoins
// the unresolved suffix — so a not-yet-created file can still be
// validated against a symlink-escaped ancestor directory.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	var suffix []string
	cur := abs
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			full := resolved
			for i := len(suffix) - 1; i >= 0; i-- {
				full = filepath.Join(full, suffix[i])
			}
			return full, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// reached filesystem root and nothing resolved; fall back to
			// the cleaned absolute path unresolved.
			return abs, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

func isUnder(target, root string) bool {
	if target == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(target, strings.TrimSuffix(root, sep)+sep)
}

// ValidateSessionID checks the session identifier grammar used for
// directory names: ASCII letters, digits, underscore, dash, 1-128 chars.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("empty session id")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id too long")
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			continue
		default:
			return fmt.Errorf("session id contains invalid character %q", c)
		}
	}
	return nil
}

// SafeArtifactName rejects artifact names containing path separators,
// dot-segments, or anything other than their own basename — an artifact
// name is always a single path component.
func SafeArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("empty artifact name")
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("artifact name must be a single path component")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("artifact name %q not allowed", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact name must not contain path separators")
	}
	return nil
}

// EnsureExists creates dir (and parents) if absent, matching the mode the
// teacher's workers use throughout (0o755).
func EnsureExists(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
