package schemas

import (
	"context"
	"errors"
	"time"
)

// -- Action Schemas --

// ActionKind is the interaction performed on a discovered element.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionFill   ActionKind = "fill"
	ActionSelect ActionKind = "select"
	ActionCheck  ActionKind = "check"
	ActionUpload ActionKind = "upload"
)

// ActionGroup is a coarse category used for diagnostics and reporting.
type ActionGroup string

const (
	GroupNavigation  ActionGroup = "navigation"
	GroupForm        ActionGroup = "form"
	GroupModal       ActionGroup = "modal"
	GroupDestructive ActionGroup = "destructive"
	GroupOther       ActionGroup = "other"
)

// ElementGeometry is the bounding box of an element in CSS pixels, relative
// to the document.
type ElementGeometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DiscoveredAction is one interactive element and the way to exercise it.
type DiscoveredAction struct {
	Kind     ActionKind `json:"kind"`
	Selector string     `json:"selector"`
	Label    string     `json:"label"`
	Tag      string     `json:"tag"`
	Role     string     `json:"role,omitempty"`
	// ClassName is the raw class attribute, kept for destructive matching.
	ClassName string `json:"class_name,omitempty"`
	// InputType is the `type` attribute for inputs, lowercased.
	InputType string `json:"input_type,omitempty"`
	Href      string `json:"href,omitempty"`

	Visible     bool `json:"visible"`
	Enabled     bool `json:"enabled"`
	Destructive bool `json:"destructive"`
	// InOverlay is set when the element sits inside a visible dialog/overlay.
	InOverlay bool `json:"in_overlay,omitempty"`
	// Submit marks a synthesized form submission (see Catalog.FormActions).
	Submit bool `json:"submit,omitempty"`

	Geometry ElementGeometry `json:"geometry"`
	ZIndex   int             `json:"z_index"`
	// Options holds selectable values for select-like elements.
	Options []string `json:"options,omitempty"`

	// Order is the reading-order position assigned at discovery.
	Order int     `json:"order"`
	Score float64 `json:"score"`
}

// -- Automation Collaborator --

// Sentinel errors that drivers wrap so the engine can classify failures
// without knowing the driver implementation.
var (
	// ErrAutomationFatal means the browser process or context is gone.
	ErrAutomationFatal = errors.New("automation driver failure")
	// ErrNavigation means the target was unreachable or returned a non-success status.
	ErrNavigation = errors.New("navigation failed")
	// ErrElementNotFound means the selector no longer resolves to an interactable element.
	ErrElementNotFound = errors.New("element not found or not interactable")
)

// ScriptCall is one in-page script invocation with a fixed contract. Name
// identifies the call site, Source is a JS function expression that receives
// Args (JSON encoded) as its single parameter.
type ScriptCall struct {
	Name   string
	Source string
	Args   interface{}
}

// Evaluator runs typed in-page scripts and decodes the JSON result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, call ScriptCall, out interface{}) error
}

// Page is a single live browser page as seen by the exploration core.
type Page interface {
	Evaluator

	// Navigate loads url and waits for the document to load.
	Navigate(ctx context.Context, url string) error
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Check(ctx context.Context, selector string) error
	Upload(ctx context.Context, selector string, files []string) error
	// Submit submits the form matched by selector without a submit control.
	Submit(ctx context.Context, formSelector string) error

	// WaitIdle blocks until no network requests were in flight for quiet.
	WaitIdle(ctx context.Context, quiet time.Duration) error
	// ResetState clears cookies and the site storage of origin so a reused
	// page behaves like a freshly opened one on its next navigation.
	ResetState(ctx context.Context, origin string) error
	Viewport() Viewport
	Close(ctx context.Context) error
}

// Driver creates isolated pages. Every page returned by NewPage starts with
// fresh cookies and storage.
type Driver interface {
	NewPage(ctx context.Context, viewport Viewport) (Page, error)
	Close(ctx context.Context) error
}
