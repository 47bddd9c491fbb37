// internal/actions/input.go
package actions

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// InputValue returns plausible test data for a fill action. The value depends
// only on the action, so replaying a path types the same text again.
func InputValue(a schemas.DiscoveredAction) string {
	hint := strings.ToLower(a.Selector + " " + a.Label)
	n := seed(a.Selector)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(hint, w) {
				return true
			}
		}
		return false
	}

	switch {
	case a.InputType == "email" || has("email"):
		return fmt.Sprintf("testuser%d@example.com", n%10000)
	case a.InputType == "password" || has("pass"):
		return fmt.Sprintf("ExplorerPass%d!", n%1000)
	case a.InputType == "tel" || has("phone"):
		return fmt.Sprintf("555-%03d-%04d", n%1000, n%10000)
	case a.InputType == "number" || a.InputType == "range":
		return fmt.Sprintf("%d", n%100)
	case a.InputType == "date":
		return fmt.Sprintf("2024-%02d-%02d", n%12+1, n%28+1)
	case a.InputType == "url" || has("url", "website"):
		return "https://example-test.com"
	case a.InputType == "search" || has("search", "query"):
		return fmt.Sprintf("explorer test query %d", n%100)
	case has("name", "user"):
		return fmt.Sprintf("Test User %d", n%100)
	default:
		return fmt.Sprintf("explorer test input %d", n%1000)
	}
}

// SelectValue picks the option a select action chooses. The first option is
// skipped when there are others, as it is usually a placeholder.
func SelectValue(a schemas.DiscoveredAction) (string, bool) {
	switch len(a.Options) {
	case 0:
		return "", false
	case 1:
		return a.Options[0], true
	default:
		return a.Options[1], true
	}
}

func seed(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
