package fixture

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Severity grades a lint issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single problem found in the fixture tree.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Report collects lint results.
type Report struct {
	Routes int     `json:"routes"`
	Issues []Issue `json:"issues"`
}

// HasErrors reports whether any issue is an error.
func (r Report) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-level issues.
func (r Report) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns only the warning-level issues.
func (r Report) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Report) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// Lint walks the tree once and reports configuration errors and fixtures
// that will not behave the way their author probably expects.
func (s *Store) Lint() Report {
	var report Report
	add := func(sev Severity, p, format string, args ...any) {
		report.Issues = append(report.Issues, Issue{Severity: sev, Path: p, Message: fmt.Sprintf(format, args...)})
	}

	if !fs.ValidPath(s.wildcard) || strings.Contains(s.wildcard, "/") || s.wildcard == "." {
		add(SeverityError, ".", "wildcard name %q is not a single path element", s.wildcard)
		return report
	}

	suffix := "." + s.extension
	wildcardDirs := make(map[string][]string)

	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			add(SeverityError, p, "unreadable: %v", err)
			if d != nil && d.IsDir() && p != "." {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != "." && strings.EqualFold(d.Name(), s.wildcard) {
				parent := path.Dir(p)
				wildcardDirs[parent] = append(wildcardDirs[parent], d.Name())
			}
			return nil
		}

		if !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		method := strings.TrimSuffix(d.Name(), suffix)
		if method != strings.ToUpper(method) {
			add(SeverityWarning, p, "method %q is not upper-case and will never be served", method)
			return nil
		}
		report.Routes++

		data, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			add(SeverityError, p, "read fixture: %v", err)
			return nil
		}
		s.lintFixture(p, data, add)
		return nil
	})
	if err != nil {
		add(SeverityError, ".", "walk fixtures: %v", err)
	}

	parents := make([]string, 0, len(wildcardDirs))
	for parent := range wildcardDirs {
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	for _, parent := range parents {
		names := wildcardDirs[parent]
		if len(names) > 1 {
			add(SeverityError, parent, "ambiguous wildcard directories %s", strings.Join(names, ", "))
		}
	}

	return report
}

func (s *Store) lintFixture(p string, data []byte, add func(Severity, string, string, ...any)) {
	if !HasStatusLine(data) {
		add(SeverityWarning, p, "no HTTP status line; first line is read as a header and status defaults to 200")
	}

	resp := Parse(data)
	if !SendableStatus(resp.StatusCode) {
		add(SeverityWarning, p, "status code %d cannot be sent and will produce a 500", resp.StatusCode)
	}
	if resp.IsJSON() && !json.Valid([]byte(resp.Body)) {
		add(SeverityWarning, p, "content type is JSON but the body is not valid JSON; it will be sent raw")
	}
}
