package fixture

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// Route describes one servable fixture in the tree.
type Route struct {
	// Pattern is the request path template; wildcard levels render as {paramN}.
	Pattern string
	// Segments are the directory names from the root to the fixture directory.
	Segments []string
	Method   string
	File     string
	// Wildcards counts the wildcard levels in Segments.
	Wildcards int
	ModTime   time.Time
}

// Params returns the path parameter names in Pattern order.
func (r Route) Params() []string {
	params := make([]string, 0, r.Wildcards)
	for i := 1; i <= r.Wildcards; i++ {
		params = append(params, fmt.Sprintf("param%d", i))
	}
	return params
}

// Path fills the wildcard levels with values in order. Missing values leave
// the wildcard directory name in place.
func (r Route) Path(wildcard string, values ...string) string {
	parts := make([]string, len(r.Segments))
	n := 0
	for i, seg := range r.Segments {
		if seg == wildcard && n < len(values) {
			parts[i] = values[n]
			n++
			continue
		}
		parts[i] = seg
	}
	return "/" + strings.Join(parts, "/")
}

// Routes enumerates every fixture whose file name is an upper-case method
// followed by the store's extension.
func (s *Store) Routes() ([]Route, error) {
	var routes []Route
	suffix := "." + s.extension

	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		method := strings.TrimSuffix(d.Name(), suffix)
		if method == "" || method != strings.ToUpper(method) {
			return nil
		}

		dir := path.Dir(p)
		var segments []string
		if dir != "." {
			segments = strings.Split(dir, "/")
		}

		route := Route{
			Segments: segments,
			Method:   method,
			File:     p,
		}
		parts := make([]string, len(segments))
		for i, seg := range segments {
			if seg == s.wildcard {
				route.Wildcards++
				parts[i] = fmt.Sprintf("{param%d}", route.Wildcards)
				continue
			}
			parts[i] = seg
		}
		route.Pattern = "/" + strings.Join(parts, "/")
		if info, err := d.Info(); err == nil {
			route.ModTime = info.ModTime()
		}
		routes = append(routes, route)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk fixtures: %w", err)
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Pattern != routes[j].Pattern {
			return routes[i].Pattern < routes[j].Pattern
		}
		return routes[i].Method < routes[j].Method
	})
	return routes, nil
}
