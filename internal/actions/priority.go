// internal/actions/priority.go
package actions

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

// Score weights.
const (
	weightNative      = 10.0
	weightFormField   = 5.0
	weightNavigation  = 8.0
	weightSubmit      = 15.0
	weightDestructive = -5.0
	weightZIndex      = 0.05
	maxZIndexBonus    = 100
)

var nativeTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true, "summary": true,
}

// Patterns holds the compiled keyword tables. A nil table never matches.
type Patterns struct {
	destructive *regexp.Regexp
	navigation  *regexp.Regexp
	submit      *regexp.Regexp
}

// CompilePatterns turns keyword lists into case-insensitive whole-word matchers.
func CompilePatterns(cfg config.PatternsConfig) *Patterns {
	return &Patterns{
		destructive: compileKeywords(cfg.Destructive),
		navigation:  compileKeywords(cfg.Navigation),
		submit:      compileKeywords(cfg.Submit),
	}
}

func compileKeywords(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func matches(re *regexp.Regexp, s string) bool { return re != nil && s != "" && re.MatchString(s) }

func (p *Patterns) IsDestructive(label string) bool { return matches(p.destructive, label) }
func (p *Patterns) IsNavigation(label string) bool  { return matches(p.navigation, label) }
func (p *Patterns) IsSubmit(label string) bool      { return matches(p.submit, label) }

// Score computes the priority of a single action.
func (c *Catalog) Score(a schemas.DiscoveredAction) float64 {
	score := 0.0
	if nativeTags[a.Tag] {
		score += weightNative
	}
	if a.Kind != schemas.ActionClick {
		score += weightFormField
	}
	if c.patterns.IsNavigation(a.Label) {
		score += weightNavigation
	}
	if a.Submit || c.patterns.IsSubmit(a.Label) {
		score += weightSubmit
	}
	if a.Destructive {
		score += weightDestructive
	}
	z := a.ZIndex
	if z < 0 {
		z = 0
	}
	if z > maxZIndexBonus {
		z = maxZIndexBonus
	}
	return score + float64(z)*weightZIndex
}

// Prioritize scores the actions and returns them best first. Ties keep
// reading order.
func (c *Catalog) Prioritize(actions []schemas.DiscoveredAction) []schemas.DiscoveredAction {
	out := make([]schemas.DiscoveredAction, len(actions))
	copy(out, actions)
	for i := range out {
		out[i].Score = c.Score(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Order < out[j].Order
	})
	return out
}

// GroupOf assigns an action to exactly one group. Destructive wins over
// modal, modal over navigation, navigation over form.
func (c *Catalog) GroupOf(a schemas.DiscoveredAction) schemas.ActionGroup {
	switch {
	case a.Destructive:
		return schemas.GroupDestructive
	case a.InOverlay:
		return schemas.GroupModal
	case a.Tag == "a" || a.Role == "link" || a.Role == "tab" || c.patterns.IsNavigation(a.Label):
		return schemas.GroupNavigation
	case a.Kind != schemas.ActionClick || a.Submit || c.patterns.IsSubmit(a.Label):
		return schemas.GroupForm
	default:
		return schemas.GroupOther
	}
}

// ActionSet is one group of actions.
type ActionSet struct {
	Group   schemas.ActionGroup        `json:"group"`
	Actions []schemas.DiscoveredAction `json:"actions"`
}

var groupOrder = []schemas.ActionGroup{
	schemas.GroupDestructive,
	schemas.GroupModal,
	schemas.GroupNavigation,
	schemas.GroupForm,
	schemas.GroupOther,
}

// Group partitions actions by group, destructive first. Empty groups are
// omitted and each group keeps the input order.
func (c *Catalog) Group(actions []schemas.DiscoveredAction) []ActionSet {
	byGroup := make(map[schemas.ActionGroup][]schemas.DiscoveredAction)
	for _, a := range actions {
		g := c.GroupOf(a)
		byGroup[g] = append(byGroup[g], a)
	}
	out := make([]ActionSet, 0, len(byGroup))
	for _, g := range groupOrder {
		if list := byGroup[g]; len(list) > 0 {
			out = append(out, ActionSet{Group: g, Actions: list})
		}
	}
	return out
}
