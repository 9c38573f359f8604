package shadowdiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
)

// Case is one request to replay, derived from a fixture file.
type Case struct {
	Name     string
	Method   string
	Path     string
	Headers  map[string]string
	Expected fixture.Response
}

// Skipped records a route that could not be turned into a case.
type Skipped struct {
	Route  fixture.Route
	Reason string
}

// Plan walks the fixture catalog and builds the cases to replay. Wildcard
// routes need a sample value, looked up first by route pattern and then by
// wildcard directory name. A pattern sample holds one comma-separated value
// per wildcard level.
func Plan(store *fixture.Store, cfg Config) ([]Case, []Skipped, error) {
	routes, err := store.Routes()
	if err != nil {
		return nil, nil, fmt.Errorf("list fixtures: %w", err)
	}

	var (
		cases   []Case
		skipped []Skipped
	)
	for _, route := range routes {
		if !cfg.allows(route.Method) {
			skipped = append(skipped, Skipped{Route: route, Reason: "method not enabled"})
			continue
		}

		values, ok := sampleValues(route, store.Wildcard(), cfg.Samples)
		if !ok {
			skipped = append(skipped, Skipped{Route: route, Reason: "no sample value for wildcard"})
			continue
		}

		resp, err := store.Load(route.File)
		if err != nil {
			return nil, nil, err
		}

		cases = append(cases, Case{
			Name:     route.Method + " " + route.Pattern,
			Method:   route.Method,
			Path:     route.Path(store.Wildcard(), values...),
			Headers:  cfg.Headers,
			Expected: resp,
		})
	}

	sort.SliceStable(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, skipped, nil
}

func sampleValues(route fixture.Route, wildcard string, samples map[string]string) ([]string, bool) {
	if route.Wildcards == 0 {
		return nil, true
	}

	if raw, ok := samples[route.Pattern]; ok {
		values := strings.Split(raw, ",")
		if len(values) != route.Wildcards {
			return nil, false
		}
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		return values, true
	}

	if value, ok := samples[wildcard]; ok && value != "" {
		values := make([]string, route.Wildcards)
		for i := range values {
			values[i] = value
		}
		return values, true
	}
	return nil, false
}

// OpenStore opens the fixture tree named by cfg.
func OpenStore(cfg Config) (*fixture.Store, error) {
	var opts []fixture.Option
	if cfg.Wildcard != "" {
		opts = append(opts, fixture.WithWildcard(cfg.Wildcard))
	}
	if cfg.Extension != "" {
		opts = append(opts, fixture.WithExtension(cfg.Extension))
	}
	return fixture.Open(cfg.FixtureRoot, opts...)
}
