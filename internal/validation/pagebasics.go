// File: internal/validation/pagebasics.go
package validation

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

// PageBasicsName is the configuration name of the built-in validator.
const PageBasicsName = "page-basics"

const helpBase = "https://dequeuniversity.com/rules/axe/4.8/"

// PageBasics checks document level hygiene: a title, a language, alt text on
// images and labels on form fields.
type PageBasics struct{}

// NewPageBasics creates the validator.
func NewPageBasics() *PageBasics { return &PageBasics{} }

func (v *PageBasics) Name() string { return PageBasicsName }

// Validate reads the page once and reports one issue per failed rule.
func (v *PageBasics) Validate(ctx context.Context, page schemas.Page, viewport string) (schemas.ValidatorReport, error) {
	start := time.Now()
	basics, err := pagescript.PageBasics(ctx, page)
	if err != nil {
		return schemas.ValidatorReport{}, err
	}

	var issues []schemas.Issue
	add := func(rule string, sev schemas.Severity, desc string, elements []string) {
		issues = append(issues, schemas.Issue{
			Type:        "accessibility",
			Severity:    sev,
			Rule:        rule,
			Description: desc,
			Elements:    elements,
			Viewport:    viewport,
			HelpURL:     helpBase + rule,
		})
	}

	if strings.TrimSpace(basics.Title) == "" {
		add("document-title", schemas.SeveritySerious, "Document does not have a non-empty <title> element.", nil)
	}
	if strings.TrimSpace(basics.Lang) == "" {
		add("html-has-lang", schemas.SeveritySerious, "The <html> element does not have a lang attribute.", nil)
	}
	if len(basics.ImagesWithoutAlt) > 0 {
		add("image-alt", schemas.SeverityCritical, "Images must have alternate text.", basics.ImagesWithoutAlt)
	}
	if len(basics.UnlabeledFields) > 0 {
		add("label", schemas.SeverityCritical, "Form elements must have labels.", basics.UnlabeledFields)
	}

	return schemas.ValidatorReport{
		ValidatorName: PageBasicsName,
		Issues:        issues,
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}
