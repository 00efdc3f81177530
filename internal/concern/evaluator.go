package concern

import (
	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/render"
)

// Result is the outcome of evaluating a rule set against one record.
// Reasons follow rule declaration order.
type Result struct {
	IsConcern bool
	Reasons   []string
}

// Evaluate applies every rule in order, OR-ing matches and collecting the
// reasons of the rules that fired.
func Evaluate(rec dataset.Record, rules []Rule) Result {
	var res Result
	for _, r := range rules {
		if r.Match(rec) {
			res.IsConcern = true
			res.Reasons = append(res.Reasons, r.Reason())
		}
	}
	return res
}

// Target describes where concern drawables go and how they look.
type Target struct {
	Registry *layer.Registry
	Layer    layer.Name
	Style    layer.Style
	// Title heads the popup, e.g. "Street of concern".
	Title string
}

// Mapper wraps base so that every record it maps is also evaluated against
// rules; matching records are added to the concern layer with a popup
// listing the reasons. The base drawable is returned unchanged.
func Mapper(base render.Mapper, rules []Rule, target Target) render.Mapper {
	if len(rules) == 0 {
		return base
	}
	title := target.Title
	if title == "" {
		title = "Concern"
	}
	return func(rec dataset.Record) (layer.Drawable, error) {
		d, err := base(rec)
		if err != nil {
			return d, err
		}
		res := Evaluate(rec, rules)
		if !res.IsConcern {
			return d, nil
		}
		target.Registry.Add(target.Layer, layer.Drawable{
			ID:       rec.ID,
			Geometry: rec.Geometry,
			Style:    target.Style,
			Popup:    &layer.Popup{Title: title, Lines: res.Reasons},
		})
		return d, nil
	}
}
