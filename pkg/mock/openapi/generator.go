// Package openapi derives an OpenAPI 3 document from the fixture catalog so
// clients can be generated against the mock surface.
package openapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
)

const openAPIVersion = "3.0.3"

// DocumentProvider exposes an OpenAPI document.
type DocumentProvider interface {
	Document(ctx context.Context) ([]byte, error)
}

// Generator builds the document from a fixture store and caches it until
// the catalog changes.
type Generator struct {
	store   *fixture.Store
	title   string
	version string
	servers []string

	mu    sync.Mutex
	cache *cacheEntry
}

type cacheEntry struct {
	raw         []byte
	fingerprint string
}

// Option customises a Generator.
type Option func(*Generator)

// WithTitle sets info.title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		if strings.TrimSpace(title) != "" {
			g.title = strings.TrimSpace(title)
		}
	}
}

// WithVersion sets info.version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		if strings.TrimSpace(version) != "" {
			g.version = strings.TrimSpace(version)
		}
	}
}

// WithServerURL adds a server entry.
func WithServerURL(url string) Option {
	return func(g *Generator) {
		if strings.TrimSpace(url) != "" {
			g.servers = append(g.servers, strings.TrimSpace(url))
		}
	}
}

// NewGenerator constructs a Generator over store.
func NewGenerator(store *fixture.Store, opts ...Option) *Generator {
	g := &Generator{
		store:   store,
		title:   "Mock API",
		version: "0.0.0",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Document returns the generated document in JSON form.
func (g *Generator) Document(ctx context.Context) ([]byte, error) {
	if g.store == nil {
		return nil, fmt.Errorf("fixture store not configured")
	}

	routes, err := g.store.Routes()
	if err != nil {
		return nil, fmt.Errorf("scan fixtures: %w", err)
	}
	fp := fingerprint(routes)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cache != nil && g.cache.fingerprint == fp {
		return clone(g.cache.raw), nil
	}

	doc, err := g.Build(ctx, routes)
	if err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	g.cache = &cacheEntry{raw: clone(raw), fingerprint: fp}
	return raw, nil
}

// Build assembles and validates a document for routes.
func (g *Generator) Build(ctx context.Context, routes []fixture.Route) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: openAPIVersion,
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: "Generated from fixture files.",
		},
		Paths: openapi3.NewPaths(),
	}
	for _, url := range g.servers {
		doc.AddServer(&openapi3.Server{URL: url})
	}

	var skipped []string
	ids := make(map[string]int)
	for _, route := range routes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !isStandardMethod(route.Method) {
			skipped = append(skipped, route.Method+" "+route.Pattern)
			continue
		}

		resp, err := g.store.Load(route.File)
		if err != nil {
			return nil, err
		}

		item := doc.Paths.Value(route.Pattern)
		if item == nil {
			item = &openapi3.PathItem{}
			for _, name := range route.Params() {
				param := openapi3.NewPathParameter(name).
					WithSchema(openapi3.NewStringSchema()).
					WithDescription("Matches any value at this position.")
				item.Parameters = append(item.Parameters, &openapi3.ParameterRef{Value: param})
			}
			doc.Paths.Set(route.Pattern, item)
		}
		op := operationFor(route, resp)
		if n := ids[op.OperationID]; n > 0 {
			ids[op.OperationID] = n + 1
			op.OperationID = fmt.Sprintf("%s_%d", op.OperationID, n+1)
		} else {
			ids[op.OperationID] = 1
		}
		item.SetOperation(route.Method, op)
	}

	if len(skipped) > 0 {
		sort.Strings(skipped)
		doc.Extensions = map[string]any{"x-mock-unlisted-operations": skipped}
	}

	if err := doc.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}
	return doc, nil
}

func operationFor(route fixture.Route, resp fixture.Response) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = operationID(route)
	op.Summary = fmt.Sprintf("Fixture %s", route.File)
	if tag := firstSegment(route.Pattern); tag != "" {
		op.Tags = []string{tag}
	}

	description := http.StatusText(resp.StatusCode)
	if description == "" {
		description = "Fixture response"
	}
	response := openapi3.NewResponse().WithDescription(description)

	if ct := resp.Get("Content-Type"); ct != "" {
		media := openapi3.NewMediaType()
		if example, ok := exampleFor(resp); ok {
			media.Example = example
		}
		response.Content = openapi3.Content{mediaTypeOf(ct): media}
	}

	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		if response.Headers == nil {
			response.Headers = openapi3.Headers{}
		}
		header := &openapi3.Header{Parameter: openapi3.Parameter{
			Schema:  openapi3.NewStringSchema().NewRef(),
			Example: h.Value,
		}}
		response.Headers[h.Name] = &openapi3.HeaderRef{Value: header}
	}

	key := "default"
	if resp.StatusCode >= 100 && resp.StatusCode <= 599 {
		key = strconv.Itoa(resp.StatusCode)
	}
	op.Responses = openapi3.NewResponses(openapi3.WithName(key, response))
	return op
}

func exampleFor(resp fixture.Response) (any, bool) {
	if resp.Body == "" {
		return nil, false
	}
	if resp.IsJSON() {
		var v any
		if err := json.Unmarshal([]byte(resp.Body), &v); err == nil {
			return v, true
		}
	}
	return resp.Body, true
}

func mediaTypeOf(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

func operationID(route fixture.Route) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(route.Method))
	trimmed := strings.Trim(route.Pattern, "/")
	if trimmed == "" {
		b.WriteString("_root")
		return b.String()
	}
	for _, seg := range strings.Split(trimmed, "/") {
		b.WriteByte('_')
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				b.WriteRune(r)
			case r == '{' || r == '}':
			default:
				b.WriteByte('_')
			}
		}
	}
	return b.String()
}

func firstSegment(pattern string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(pattern, "/"), "/")
	if strings.HasPrefix(seg, "{") {
		return ""
	}
	return seg
}

func isStandardMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodTrace, http.MethodConnect:
		return true
	}
	return false
}

func fingerprint(routes []fixture.Route) string {
	h := sha256.New()
	for _, r := range routes {
		fmt.Fprintf(h, "%s|%s|%s|%d\n", r.Method, r.Pattern, r.File, r.ModTime.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
