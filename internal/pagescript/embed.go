// internal/pagescript/embed.go
package pagescript

import (
	"embed"
	"fmt"
	"path"
	"strings"
)

//go:embed js/*.js
var scriptFS embed.FS

// Call site names. Each maps to one embedded script with a fixed argument and
// result shape.
const (
	CallDiscover     = "discover"
	CallFingerprint  = "fingerprint"
	CallOverlay      = "overlay"
	CallForms        = "forms"
	CallUnsubmitted  = "unsubmitted"
	CallCount        = "count"
	CallPageBasics   = "basics"
	CallSubmitForm   = "submit"
	CallSelectOption = "select"
)

var sources = mustLoadSources()

func mustLoadSources() map[string]string {
	helpers, err := scriptFS.ReadFile("js/helpers.js")
	if err != nil {
		panic(fmt.Sprintf("pagescript: embedded helpers.js missing: %v", err))
	}
	entries, err := scriptFS.ReadDir("js")
	if err != nil {
		panic(fmt.Sprintf("pagescript: reading embedded scripts: %v", err))
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".js")
		if name == "helpers" {
			continue
		}
		body, err := scriptFS.ReadFile(path.Join("js", e.Name()))
		if err != nil {
			panic(fmt.Sprintf("pagescript: reading %s: %v", e.Name(), err))
		}
		// Every call site is a single-argument function expression.
		out[name] = "(args) => {\n" + string(helpers) + "\n" + string(body) + "\n}"
	}
	return out
}

// Source returns the complete function expression for a call site.
func Source(name string) (string, error) {
	src, ok := sources[name]
	if !ok || src == "" {
		return "", fmt.Errorf("no embedded page script named %q", name)
	}
	return src, nil
}
