package fixture

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// FallbackMode selects where an OPTIONS request looks when the resolved
// directory has no OPTIONS fixture of its own.
type FallbackMode string

const (
	// FallbackSame re-checks the resolved directory only.
	FallbackSame FallbackMode = "same"
	// FallbackAncestors walks from the resolved directory's parent up to the root.
	FallbackAncestors FallbackMode = "ancestors"
)

// ParseFallbackMode validates a configured fallback mode.
func ParseFallbackMode(raw string) (FallbackMode, error) {
	switch FallbackMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FallbackSame:
		return FallbackSame, nil
	case FallbackAncestors:
		return FallbackAncestors, nil
	default:
		return "", fmt.Errorf("unknown options fallback mode %q", raw)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithWildcard overrides the wildcard directory name.
func WithWildcard(name string) Option {
	return func(s *Store) {
		if strings.TrimSpace(name) != "" {
			s.wildcard = strings.TrimSpace(name)
		}
	}
}

// WithExtension overrides the fixture file extension.
func WithExtension(ext string) Option {
	return func(s *Store) {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			s.extension = ext
		}
	}
}

// WithOptionsFallback sets the OPTIONS fallback mode.
func WithOptionsFallback(mode FallbackMode) Option {
	return func(s *Store) {
		if mode != "" {
			s.fallback = mode
		}
	}
}

// Store answers fixture lookups against a read-only tree. It holds no
// mutable state; every lookup re-reads the tree.
type Store struct {
	fsys      fs.FS
	wildcard  string
	extension string
	fallback  FallbackMode
}

// NewStore wraps fsys, which must be rooted at the fixture root.
func NewStore(fsys fs.FS, opts ...Option) *Store {
	s := &Store{
		fsys:      fsys,
		wildcard:  DefaultWildcard,
		extension: DefaultExtension,
		fallback:  FallbackSame,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open builds a Store over a directory on disk.
func Open(root string, opts ...Option) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fixture root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture root %s is not a directory", root)
	}
	return NewStore(os.DirFS(root), opts...), nil
}

// FS returns the underlying file system.
func (s *Store) FS() fs.FS { return s.fsys }

// Wildcard returns the wildcard directory name.
func (s *Store) Wildcard() string { return s.wildcard }

// Extension returns the fixture file extension without the dot.
func (s *Store) Extension() string { return s.extension }

// Match identifies the fixture chosen for a request.
type Match struct {
	Dir      string
	File     string
	Method   string
	Fallback bool
}

// Resolve finds the terminal directory for segments.
func (s *Store) Resolve(segments []string) (string, error) {
	return Resolve(s.fsys, s.wildcard, segments)
}

// FileName returns the fixture file name for method.
func (s *Store) FileName(method string) string {
	return strings.ToUpper(method) + "." + s.extension
}

// Lookup resolves segments and picks the fixture file for method. It returns
// ErrDirectoryNotFound or ErrFixtureNotFound for the two kinds of miss.
func (s *Store) Lookup(segments []string, method string) (Match, error) {
	dir, err := s.Resolve(segments)
	if err != nil {
		return Match{}, err
	}

	method = strings.ToUpper(method)
	match := Match{Dir: dir, Method: method}

	candidate := path.Join(dir, s.FileName(method))
	if fs.ValidPath(candidate) {
		ok, err := fileExists(s.fsys, candidate)
		if err != nil {
			return match, err
		}
		if ok {
			match.File = candidate
			return match, nil
		}
	}

	if method != http.MethodOptions {
		return match, ErrFixtureNotFound
	}

	file, err := s.optionsFallback(dir)
	if err != nil {
		return match, err
	}
	if file == "" {
		return match, ErrFixtureNotFound
	}
	match.File = file
	match.Fallback = true
	return match, nil
}

func (s *Store) optionsFallback(dir string) (string, error) {
	name := s.FileName(http.MethodOptions)

	switch s.fallback {
	case FallbackAncestors:
		for d := dir; d != "."; {
			d = path.Dir(d)
			candidate := path.Join(d, name)
			ok, err := fileExists(s.fsys, candidate)
			if err != nil {
				return "", err
			}
			if ok {
				return candidate, nil
			}
		}
		return "", nil
	default:
		candidate := path.Join(dir, name)
		ok, err := fileExists(s.fsys, candidate)
		if err != nil || !ok {
			return "", err
		}
		return candidate, nil
	}
}

// Load reads and parses the fixture at file.
func (s *Store) Load(file string) (Response, error) {
	data, err := fs.ReadFile(s.fsys, file)
	if err != nil {
		return Response{}, fmt.Errorf("read fixture %s: %w", file, err)
	}
	return Parse(data), nil
}
