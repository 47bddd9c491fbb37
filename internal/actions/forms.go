// internal/actions/forms.go
package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

// FormActions synthesizes one submit action per visible form that has no
// submit control of its own. The engine performs these with Page.Submit.
func (c *Catalog) FormActions(ctx context.Context, page schemas.Evaluator) ([]schemas.DiscoveredAction, error) {
	forms, err := pagescript.UnsubmittedForms(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("listing forms: %w", err)
	}
	if len(forms) == 0 {
		return nil, nil
	}

	els := make([]pagescript.RawElement, len(forms))
	for i, f := range forms {
		els[i] = pagescript.RawElement{ID: f.ID, Path: f.Path}
	}
	selectors, err := c.chooseSelectors(ctx, page, els)
	if err != nil {
		return nil, err
	}

	out := make([]schemas.DiscoveredAction, 0, len(forms))
	for i, f := range forms {
		if selectors[i] == "" {
			continue
		}
		name := firstNonEmpty(f.Label, f.Name, f.ID, "form")
		label := "Submit " + name
		out = append(out, schemas.DiscoveredAction{
			Kind:     schemas.ActionClick,
			Selector: selectors[i],
			Label:    label,
			Tag:      "form",
			Visible:  true,
			Enabled:  true,
			Submit:   true,
			Geometry: schemas.ElementGeometry{
				X: f.Rect.X, Y: f.Rect.Y, Width: f.Rect.Width, Height: f.Rect.Height,
			},
			Destructive: c.patterns.IsDestructive(name),
			Order:       i,
		})
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
