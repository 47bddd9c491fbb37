// internal/actions/catalog.go
package actions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

const (
	defaultMinSize    = 4.0
	defaultMaxActions = 200
	defaultTextLimit  = 64
	readingRow        = 10.0 // Elements within one row band are ordered left to right.
)

// DefaultIgnoreSelectors are always excluded from discovery. Callers extend
// this list, they never replace it.
var DefaultIgnoreSelectors = []string{
	`[aria-hidden="true"]`,
	"[hidden]",
	"[inert]",
	"[data-explorer-ignore]",
}

// Options configures discovery.
type Options struct {
	Selectors        []string
	IgnoreSelectors  []string
	IncludeDisabled  bool
	IncludeOffscreen bool
	MinSize          float64
	MaxActions       int
	TextLimit        int
	Patterns         config.PatternsConfig
}

// OptionsFromConfig builds catalog options from the explore and patterns sections.
func OptionsFromConfig(cfg config.ExploreConfig, patterns config.PatternsConfig) Options {
	return Options{
		Selectors:        append(append([]string{}, pagescript.InteractiveSelectors...), cfg.ExtraSelectors...),
		IgnoreSelectors:  cfg.IgnoreSelectors,
		IncludeDisabled:  cfg.IncludeDisabled,
		IncludeOffscreen: cfg.IncludeOffscreen,
		MinSize:          cfg.MinElementSize,
		MaxActions:       cfg.MaxActionsPerPage,
		Patterns:         patterns,
	}
}

// Catalog discovers, classifies and ranks the actions available on a page.
// A Catalog holds no per-page state and is safe for concurrent use.
type Catalog struct {
	opts     Options
	ignore   []string
	patterns *Patterns
	logger   *zap.Logger
}

// NewCatalog creates a catalog. Zero option values fall back to defaults.
func NewCatalog(opts Options, logger *zap.Logger) *Catalog {
	if len(opts.Selectors) == 0 {
		opts.Selectors = pagescript.InteractiveSelectors
	}
	if opts.MinSize <= 0 {
		opts.MinSize = defaultMinSize
	}
	if opts.MaxActions <= 0 {
		opts.MaxActions = defaultMaxActions
	}
	if opts.TextLimit <= 0 {
		opts.TextLimit = defaultTextLimit
	}
	return &Catalog{
		opts:     opts,
		ignore:   mergeUnique(DefaultIgnoreSelectors, opts.IgnoreSelectors),
		patterns: CompilePatterns(opts.Patterns),
		logger:   logger.Named("ActionCatalog"),
	}
}

// Patterns returns the compiled keyword tables.
func (c *Catalog) Patterns() *Patterns { return c.patterns }

// Discover lists the usable actions on the page in reading order. Each action
// carries the most stable selector that uniquely matches its element.
func (c *Catalog) Discover(ctx context.Context, page schemas.Evaluator, extraIgnore []string) ([]schemas.DiscoveredAction, error) {
	raw, err := pagescript.Discover(ctx, page, pagescript.DiscoverArgs{
		Selectors: c.opts.Selectors,
		Ignore:    mergeUnique(c.ignore, extraIgnore),
		TextLimit: c.opts.TextLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering elements: %w", err)
	}

	candidates := make([]pagescript.RawElement, 0, len(raw))
	for _, el := range raw {
		if c.usable(el) {
			candidates = append(candidates, el)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := math.Round(candidates[i].Rect.Y/readingRow), math.Round(candidates[j].Rect.Y/readingRow)
		if ri != rj {
			return ri < rj
		}
		if candidates[i].Rect.X != candidates[j].Rect.X {
			return candidates[i].Rect.X < candidates[j].Rect.X
		}
		return candidates[i].Index < candidates[j].Index
	})

	selectors, err := c.chooseSelectors(ctx, page, candidates)
	if err != nil {
		return nil, err
	}

	out := make([]schemas.DiscoveredAction, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for i, el := range candidates {
		sel := selectors[i]
		if sel == "" {
			continue
		}
		if _, dup := seen[sel]; dup {
			continue
		}
		seen[sel] = struct{}{}
		out = append(out, c.toAction(el, sel, len(out)))
		if len(out) >= c.opts.MaxActions {
			c.logger.Debug("Action cap reached for page.", zap.Int("cap", c.opts.MaxActions), zap.Int("candidates", len(candidates)))
			break
		}
	}
	return out, nil
}

func (c *Catalog) usable(el pagescript.RawElement) bool {
	switch {
	case el.Ignored, !el.Visible:
		return false
	case !el.InViewport && !c.opts.IncludeOffscreen:
		return false
	case el.Disabled && !c.opts.IncludeDisabled:
		return false
	case el.Rect.Width < c.opts.MinSize || el.Rect.Height < c.opts.MinSize:
		return false
	}
	return true
}

// selectorCandidates lists selectors in preference order: id, test id,
// accessible label, then structural paths from shortest to longest.
func selectorCandidates(el pagescript.RawElement) []string {
	var out []string
	if s := pagescript.IDSelector(el.ID); s != "" {
		out = append(out, s)
	}
	if el.TestIDAttr != "" {
		if s := pagescript.AttrSelector(el.TestIDAttr, el.TestID); s != "" {
			out = append(out, s)
		}
	}
	if s := pagescript.AttrSelector("aria-label", el.AriaLabel); s != "" {
		out = append(out, s)
	}
	return append(out, pagescript.PathSelectors(el.Path)...)
}

// chooseSelectors resolves one selector per element with a single batched
// uniqueness check.
func (c *Catalog) chooseSelectors(ctx context.Context, page schemas.Evaluator, els []pagescript.RawElement) ([]string, error) {
	perElement := make([][]string, len(els))
	index := make(map[string]int)
	var unique []string
	for i, el := range els {
		perElement[i] = selectorCandidates(el)
		for _, s := range perElement[i] {
			if _, ok := index[s]; !ok {
				index[s] = len(unique)
				unique = append(unique, s)
			}
		}
	}

	counts, err := pagescript.CountSelectors(ctx, page, unique)
	if err != nil {
		return nil, fmt.Errorf("checking selector uniqueness: %w", err)
	}

	out := make([]string, len(els))
	for i, cands := range perElement {
		if len(cands) == 0 {
			continue
		}
		for _, s := range cands {
			if counts[index[s]] == 1 {
				out[i] = s
				break
			}
		}
		if out[i] == "" {
			// Rooted paths are unique by construction even if the count disagrees.
			out[i] = cands[len(cands)-1]
		}
	}
	return out, nil
}

func (c *Catalog) toAction(el pagescript.RawElement, selector string, order int) schemas.DiscoveredAction {
	label := strings.TrimSpace(el.Label)
	if label == "" {
		label = strings.TrimSpace(el.Text)
	}
	if label == "" {
		label = el.Name
	}
	a := schemas.DiscoveredAction{
		Kind:      ClassifyKind(el.Tag, el.Type, el.Role),
		Selector:  selector,
		Label:     label,
		Tag:       strings.ToLower(el.Tag),
		Role:      strings.ToLower(el.Role),
		ClassName: el.ClassName,
		InputType: strings.ToLower(el.Type),
		Href:      el.Href,
		Visible:   el.Visible,
		Enabled:   !el.Disabled,
		InOverlay: el.InOverlay,
		Geometry: schemas.ElementGeometry{
			X: el.Rect.X, Y: el.Rect.Y, Width: el.Rect.Width, Height: el.Rect.Height,
		},
		ZIndex:  el.ZIndex,
		Options: el.Options,
		Order:   order,
	}
	a.Destructive = c.patterns.IsDestructive(label) || c.patterns.IsDestructive(classWords(el.ClassName))
	return a
}

// ClassifyKind maps an element onto the interaction used to exercise it.
func ClassifyKind(tag, inputType, role string) schemas.ActionKind {
	tag, inputType, role = strings.ToLower(tag), strings.ToLower(inputType), strings.ToLower(role)
	switch role {
	case "checkbox", "radio", "switch":
		return schemas.ActionCheck
	case "combobox", "listbox":
		return schemas.ActionSelect
	case "textbox", "searchbox":
		return schemas.ActionFill
	}
	switch tag {
	case "textarea":
		return schemas.ActionFill
	case "select":
		return schemas.ActionSelect
	case "input":
		switch inputType {
		case "checkbox", "radio":
			return schemas.ActionCheck
		case "file":
			return schemas.ActionUpload
		case "submit", "button", "reset", "image", "color", "range":
			return schemas.ActionClick
		default:
			return schemas.ActionFill
		}
	}
	return schemas.ActionClick
}

func mergeUnique(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// classWords splits class tokens like "btn-delete" or "js_removeItem" into
// words so keyword patterns can match them.
func classWords(className string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range className {
		switch {
		case r == '-' || r == '_' || unicode.IsSpace(r):
			b.WriteByte(' ')
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}
