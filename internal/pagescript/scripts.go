// internal/pagescript/scripts.go
package pagescript

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// InteractiveSelectors is the base set of native interactive tags and ARIA
// roles considered by discovery and fingerprinting.
var InteractiveSelectors = []string{
	"a[href]",
	"button",
	`input:not([type="hidden"])`,
	"select",
	"textarea",
	"summary",
	`[contenteditable="true"]`,
	"[onclick]",
	`[tabindex]:not([tabindex="-1"])`,
	`[role="button"]`,
	`[role="link"]`,
	`[role="checkbox"]`,
	`[role="radio"]`,
	`[role="switch"]`,
	`[role="tab"]`,
	`[role="menuitem"]`,
	`[role="option"]`,
	`[role="combobox"]`,
	`[role="listbox"]`,
	`[role="textbox"]`,
}

// -- Result shapes --

// Rect is an element box in CSS pixels. Y is document relative.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PathSegment is one element on the path from <html> to a node. Nth is the
// 1-based :nth-of-type index among siblings.
type PathSegment struct {
	Tag string `json:"tag"`
	ID  string `json:"id,omitempty"`
	Nth int    `json:"nth"`
}

// RawElement is an interactive element as reported by the page, before
// filtering, selector generation and classification.
type RawElement struct {
	Index      int    `json:"index"` // Document order within the query result.
	Tag        string `json:"tag"`
	Role       string `json:"role"`
	Type       string `json:"type"`
	ID         string `json:"id"`
	ClassName  string `json:"className"`
	TestIDAttr string `json:"testIdAttr"`
	TestID     string `json:"testId"`
	AriaLabel  string `json:"ariaLabel"`
	Label      string `json:"label"`
	Text       string `json:"text"`
	Name       string `json:"name"`
	Href       string `json:"href"`

	Disabled      bool `json:"disabled"`
	Visible       bool `json:"visible"`
	InViewport    bool `json:"inViewport"`
	InOverlay     bool `json:"inOverlay"`
	Ignored       bool `json:"ignored"`
	SubmitControl bool `json:"submitControl"`

	Rect    Rect          `json:"rect"`
	ZIndex  int           `json:"zIndex"`
	Options []string      `json:"options"`
	Path    []PathSegment `json:"path"`
}

// DiscoverArgs parameterizes CallDiscover.
type DiscoverArgs struct {
	Selectors []string `json:"selectors"`
	Ignore    []string `json:"ignore"`
	TextLimit int      `json:"textLimit"`
}

// ElementSignature is the identity-relevant description of a visible
// interactive element.
type ElementSignature struct {
	Tag  string  `json:"tag"`
	Role string  `json:"role"`
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// FingerprintArgs parameterizes CallFingerprint.
type FingerprintArgs struct {
	Selectors []string `json:"selectors"`
	TextLimit int      `json:"textLimit"`
}

// OverlayInfo describes the first visible dialog or modal, if any.
type OverlayInfo struct {
	Present   bool   `json:"present"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	ClassName string `json:"className"`
}

// FormInfo is a visible form that has no submit control of its own.
type FormInfo struct {
	Index int           `json:"index"`
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Label string        `json:"label"`
	Path  []PathSegment `json:"path"`
	Rect  Rect          `json:"rect"`
}

// PageBasicsReport carries the raw observations behind the page-basics checks.
type PageBasicsReport struct {
	Title            string   `json:"title"`
	Lang             string   `json:"lang"`
	ImagesWithoutAlt []string `json:"imagesWithoutAlt"`
	UnlabeledFields  []string `json:"unlabeledFields"`
}

// SelectorArgs parameterizes selector based mutations.
type SelectorArgs struct {
	Selector string `json:"selector"`
	Value    string `json:"value,omitempty"`
}

// CountArgs parameterizes CallCount.
type CountArgs struct {
	Selectors []string `json:"selectors"`
}

// MutationResult is returned by scripts that change the page.
type MutationResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// -- Typed call sites --

// NewCall builds the ScriptCall for a named call site.
func NewCall(name string, args interface{}) (schemas.ScriptCall, error) {
	src, err := Source(name)
	if err != nil {
		return schemas.ScriptCall{}, err
	}
	return schemas.ScriptCall{Name: name, Source: src, Args: args}, nil
}

func run(ctx context.Context, ev schemas.Evaluator, name string, args interface{}, out interface{}) error {
	call, err := NewCall(name, args)
	if err != nil {
		return err
	}
	if err := ev.Evaluate(ctx, call, out); err != nil {
		return fmt.Errorf("page script %s: %w", name, err)
	}
	return nil
}

// Discover lists candidate interactive elements in document order.
func Discover(ctx context.Context, ev schemas.Evaluator, args DiscoverArgs) ([]RawElement, error) {
	var out []RawElement
	if err := run(ctx, ev, CallDiscover, args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Signatures returns the visible interactive elements used for fingerprinting.
func Signatures(ctx context.Context, ev schemas.Evaluator, args FingerprintArgs) ([]ElementSignature, error) {
	var out []ElementSignature
	if err := run(ctx, ev, CallFingerprint, args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectOverlay reports the visible dialog or modal, if any.
func DetectOverlay(ctx context.Context, ev schemas.Evaluator) (OverlayInfo, error) {
	var out OverlayInfo
	err := run(ctx, ev, CallOverlay, struct{}{}, &out)
	return out, err
}

// SnapshotForms captures visible, non-sensitive form field values.
func SnapshotForms(ctx context.Context, ev schemas.Evaluator) ([]schemas.FormField, error) {
	var out []schemas.FormField
	if err := run(ctx, ev, CallForms, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnsubmittedForms lists visible forms without a submit control.
func UnsubmittedForms(ctx context.Context, ev schemas.Evaluator) ([]FormInfo, error) {
	var out []FormInfo
	if err := run(ctx, ev, CallUnsubmitted, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountSelectors returns the match count of each selector in one round trip.
// Invalid selectors count as -1.
func CountSelectors(ctx context.Context, ev schemas.Evaluator, selectors []string) ([]int, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	var out []int
	if err := run(ctx, ev, CallCount, CountArgs{Selectors: selectors}, &out); err != nil {
		return nil, err
	}
	if len(out) != len(selectors) {
		return nil, fmt.Errorf("page script %s: got %d counts for %d selectors", CallCount, len(out), len(selectors))
	}
	return out, nil
}

// PageBasics collects the document level observations for the page-basics validator.
func PageBasics(ctx context.Context, ev schemas.Evaluator) (PageBasicsReport, error) {
	var out PageBasicsReport
	err := run(ctx, ev, CallPageBasics, struct{}{}, &out)
	return out, err
}

// SubmitForm submits the form matched by selector through requestSubmit so
// validation and submit handlers run.
func SubmitForm(ctx context.Context, ev schemas.Evaluator, selector string) error {
	var out MutationResult
	if err := run(ctx, ev, CallSubmitForm, SelectorArgs{Selector: selector}, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%w: submit %s: %s", schemas.ErrElementNotFound, selector, out.Reason)
	}
	return nil
}

// SelectOption picks value on a native select or ARIA listbox and fires change events.
func SelectOption(ctx context.Context, ev schemas.Evaluator, selector, value string) error {
	var out MutationResult
	if err := run(ctx, ev, CallSelectOption, SelectorArgs{Selector: selector, Value: value}, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%w: select %s=%q: %s", schemas.ErrElementNotFound, selector, value, out.Reason)
	}
	return nil
}
