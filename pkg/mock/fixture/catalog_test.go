package fixture

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutesEnumeratesServableFixtures(t *testing.T) {
	tree := testTree()
	tree["users/get.mock"] = &fstest.MapFile{Data: []byte("ignored")}
	tree["users/README.md"] = &fstest.MapFile{Data: []byte("ignored")}

	routes, err := NewStore(tree).Routes()
	require.NoError(t, err)

	var patterns []string
	for _, r := range routes {
		patterns = append(patterns, r.Method+" "+r.Pattern)
	}
	assert.Equal(t, []string{
		"GET /",
		"OPTIONS /tickets",
		"GET /tickets/open",
		"GET /tickets/open/attachments",
		"GET /users",
		"GET /users/me",
		"GET /users/{param1}",
		"GET /users/{param1}/orders",
		"POST /users/{param1}/orders/{param2}",
	}, patterns)
}

func TestRoutePathFillsWildcards(t *testing.T) {
	routes, err := NewStore(testTree()).Routes()
	require.NoError(t, err)

	var target Route
	for _, r := range routes {
		if r.Method == "POST" {
			target = r
		}
	}
	require.Equal(t, 2, target.Wildcards)
	assert.Equal(t, []string{"param1", "param2"}, target.Params())
	assert.Equal(t, "/users/42/orders/7", target.Path(DefaultWildcard, "42", "7"))
	assert.Equal(t, "/users/42/orders/__", target.Path(DefaultWildcard, "42"))
}
