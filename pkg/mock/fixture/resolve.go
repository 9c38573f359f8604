// Package fixture maps request paths onto a directory tree of recorded HTTP
// responses and parses those recordings.
//
// A fixture tree is read through an io/fs.FS rooted at the fixture root, so
// every lookup is confined to that root and tests can substitute an in-memory
// tree (testing/fstest.MapFS) for the real disk.
package fixture

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

const (
	// DefaultWildcard is the directory name that matches any single segment.
	DefaultWildcard = "__"
	// DefaultExtension is the file extension of fixture files.
	DefaultExtension = "mock"
)

var (
	// ErrDirectoryNotFound indicates no directory matched the request path.
	ErrDirectoryNotFound = errors.New("mock directory not found")
	// ErrFixtureNotFound indicates the directory resolved but holds no fixture for the method.
	ErrFixtureNotFound = errors.New("mock fixture not found")
)

// SplitPath turns a request path into its segment sequence. The leading slash
// is dropped and "/" yields an empty sequence.
func SplitPath(p string) []string {
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// Resolve walks fsys one segment at a time, preferring an exact child
// directory and falling back to the wildcard directory. It returns the
// slash-separated terminal directory relative to the root ("." for the root
// itself) or ErrDirectoryNotFound. There is no backtracking.
func Resolve(fsys fs.FS, wildcard string, segments []string) (string, error) {
	if !fs.ValidPath(wildcard) || strings.Contains(wildcard, "/") || wildcard == "." {
		return "", fmt.Errorf("invalid wildcard directory name %q", wildcard)
	}

	cur := "."
	for _, seg := range segments {
		// Empty and "." segments keep the current directory, matching how a
		// trailing or doubled slash behaved in the original server.
		if seg == "" || seg == "." {
			continue
		}

		if isElement(seg) {
			next := path.Join(cur, seg)
			ok, err := dirExists(fsys, next)
			if err != nil {
				return "", err
			}
			if ok {
				cur = next
				continue
			}
		}

		dyn := path.Join(cur, wildcard)
		ok, err := dirExists(fsys, dyn)
		if err != nil {
			return "", err
		}
		if ok {
			cur = dyn
			continue
		}

		return "", ErrDirectoryNotFound
	}
	return cur, nil
}

// isElement reports whether seg can name a child entry. "..", names with a
// slash, and other invalid elements never match an exact directory, which
// keeps resolution inside the root.
func isElement(seg string) bool {
	return fs.ValidPath(seg) && !strings.Contains(seg, "/")
}

func dirExists(fsys fs.FS, name string) (bool, error) {
	info, err := fs.Stat(fsys, name)
	switch {
	case err == nil:
		return info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
}

func fileExists(fsys fs.FS, name string) (bool, error) {
	info, err := fs.Stat(fsys, name)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
}
