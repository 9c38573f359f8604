package shadowdiff

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// bodyDiff returns "" when the fixture and backend bodies agree. JSON bodies
// are compared by value once the volatile keys in ignore have been dropped at
// every depth. Anything else is compared as text with outer whitespace trimmed.
func bodyDiff(expected, actual []byte, ignore map[string]struct{}) string {
	var exp, act any
	if json.Unmarshal(expected, &exp) != nil || json.Unmarshal(actual, &act) != nil {
		if bytes.Equal(bytes.TrimSpace(expected), bytes.TrimSpace(actual)) {
			return ""
		}
		return fmt.Sprintf("expected raw:\n%s\nactual:\n%s\n", expected, actual)
	}

	dropKeys(exp, ignore)
	dropKeys(act, ignore)

	// map keys marshal sorted, so equal values render identically
	expOut, _ := json.MarshalIndent(exp, "", "  ")
	actOut, _ := json.MarshalIndent(act, "", "  ")
	if bytes.Equal(expOut, actOut) {
		return ""
	}
	return fmt.Sprintf("expected:\n%s\nactual:\n%s\n", expOut, actOut)
}

func dropKeys(v any, ignore map[string]struct{}) {
	if len(ignore) == 0 {
		return
	}
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			if _, ok := ignore[key]; ok {
				delete(node, key)
				continue
			}
			dropKeys(child, ignore)
		}
	case []any:
		for _, child := range node {
			dropKeys(child, ignore)
		}
	}
}
