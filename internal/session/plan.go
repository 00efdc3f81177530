package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeblew999/plat-citymap/internal/concern"
	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/render"
)

// Role decides where a layer sits in the load order.
type Role string

const (
	// RoleBase layers load during the loading-base stage.
	RoleBase Role = "base"
	// RolePrimary layers each get a loading-layer-k stage.
	RolePrimary Role = "primary"
	// RoleBackground layers load concurrently and never gate progress.
	RoleBackground Role = "background"
)

// PopupSpec builds a popup from record attributes.
type PopupSpec struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty" doc:"Popup heading" example:"Street"`
	// TitleField, when set and present on the record, replaces Title.
	TitleField string   `json:"titleField,omitempty" yaml:"titleField,omitempty" doc:"Attribute used as popup heading" example:"street_name"`
	Fields     []string `json:"fields,omitempty" yaml:"fields,omitempty" doc:"Attributes listed in the popup" example:"[\"final_grade\"]"`
}

// ConcernSpec derives a concern overlay from a layer's records.
type ConcernSpec struct {
	Layer   layer.Name           `json:"layer" yaml:"layer" required:"true" doc:"Concern layer group" example:"concern"`
	Title   string               `json:"title,omitempty" yaml:"title,omitempty" doc:"Concern popup heading" example:"Street of Concern"`
	Visible bool                 `json:"visible,omitempty" yaml:"visible" doc:"Whether the concern layer is shown initially"`
	Style   layer.Style          `json:"style,omitempty" yaml:"style,omitempty" doc:"Concern drawable style"`
	Rules   []concern.RuleConfig `json:"rules" yaml:"rules" required:"true" minItems:"1" doc:"Rules, evaluated in order"`
}

// LayerSpec is one dataset rendered into one layer group.
type LayerSpec struct {
	Layer   layer.Name   `json:"layer" yaml:"layer" required:"true" doc:"Layer group name" example:"street"`
	Dataset string       `json:"dataset" yaml:"dataset" required:"true" doc:"Dataset name" example:"street_condition"`
	Role    Role         `json:"role,omitempty" yaml:"role,omitempty" enum:"base,primary,background" default:"primary" doc:"Load role"`
	Visible bool         `json:"visible,omitempty" yaml:"visible" doc:"Whether the layer is shown initially"`
	Style   layer.Style  `json:"style,omitempty" yaml:"style,omitempty" doc:"Drawable style"`
	Popup   PopupSpec    `json:"popup,omitempty" yaml:"popup,omitempty" doc:"Popup content"`
	Concern *ConcernSpec `json:"concern,omitempty" yaml:"concern,omitempty" doc:"Concern overlay derived from this layer"`
}

// Plan is everything a session needs to load one map panel.
type Plan struct {
	Layers []LayerSpec
	// Toggles maps a UI toggle name to the layer groups it shows or hides.
	Toggles    map[string][]layer.Name
	BatchCount int
	Delay      time.Duration
}

// ErrInvalidPlan is returned by Validate.
var ErrInvalidPlan = errors.New("invalid session plan")

func (s LayerSpec) role() Role {
	if s.Role == "" {
		return RolePrimary
	}
	return s.Role
}

// Validate checks layer names, roles, toggles and concern rules.
func (p Plan) Validate() error {
	seen := map[layer.Name]bool{}
	for i, l := range p.Layers {
		if l.Layer == "" {
			return fmt.Errorf("%w: layer %d has no name", ErrInvalidPlan, i)
		}
		if seen[l.Layer] {
			return fmt.Errorf("%w: layer %q declared twice", ErrInvalidPlan, l.Layer)
		}
		seen[l.Layer] = true
		if err := dataset.ValidateName(l.Dataset); err != nil {
			return fmt.Errorf("%w: layer %q: %w", ErrInvalidPlan, l.Layer, err)
		}
		switch l.role() {
		case RoleBase, RolePrimary, RoleBackground:
		default:
			return fmt.Errorf("%w: layer %q: unknown role %q", ErrInvalidPlan, l.Layer, l.Role)
		}
	}
	for _, l := range p.Layers {
		if l.Concern == nil {
			continue
		}
		if l.Concern.Layer == "" {
			return fmt.Errorf("%w: layer %q: concern needs a layer", ErrInvalidPlan, l.Layer)
		}
		if l.Concern.Layer == l.Layer {
			return fmt.Errorf("%w: layer %q: concern layer must differ", ErrInvalidPlan, l.Layer)
		}
		if _, err := concern.Compile(l.Concern.Rules, nil); err != nil {
			return fmt.Errorf("%w: layer %q: %w", ErrInvalidPlan, l.Layer, err)
		}
		for _, h := range concern.Hazards(l.Concern.Rules) {
			if !p.loadsBefore(h, l) {
				return fmt.Errorf("%w: layer %q: hazard %q must be a base layer or an earlier primary layer", ErrInvalidPlan, l.Layer, h)
			}
		}
		seen[l.Concern.Layer] = true
	}
	for toggle, names := range p.Toggles {
		if len(names) == 0 {
			return fmt.Errorf("%w: toggle %q maps to no layer", ErrInvalidPlan, toggle)
		}
		for _, n := range names {
			if !seen[n] {
				return fmt.Errorf("%w: toggle %q: unknown layer %q", ErrInvalidPlan, toggle, n)
			}
		}
	}
	return nil
}

// loadOrder ranks when a layer is guaranteed to have finished loading:
// base layers in declaration order, then primary layers in declaration
// order. Background layers have no guaranteed position.
func (p Plan) loadOrder(target LayerSpec) (int, bool) {
	n := 0
	for _, r := range []Role{RoleBase, RolePrimary} {
		for _, l := range p.byRole(r) {
			if l.Layer == target.Layer {
				return n, true
			}
			n++
		}
	}
	return 0, false
}

// loadsBefore reports whether some base or primary layer loads the hazard
// dataset to completion before consumer starts rendering.
func (p Plan) loadsBefore(hazard string, consumer LayerSpec) bool {
	at, ok := p.loadOrder(consumer)
	if !ok {
		return false
	}
	for _, l := range p.Layers {
		if l.Dataset != hazard {
			continue
		}
		if pos, ok := p.loadOrder(l); ok && pos < at {
			return true
		}
	}
	return false
}

// groups returns every layer group the plan draws into, in declaration
// order, concern layers following their source layer.
func (p Plan) groups() []layer.Name {
	var out []layer.Name
	seen := map[layer.Name]bool{}
	add := func(n layer.Name) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, l := range p.Layers {
		add(l.Layer)
		if l.Concern != nil {
			add(l.Concern.Layer)
		}
	}
	return out
}

func (p Plan) byRole(r Role) []LayerSpec {
	var out []LayerSpec
	for _, l := range p.Layers {
		if l.role() == r {
			out = append(out, l)
		}
	}
	return out
}

// mapper builds the feature mapper for one layer: styled drawable with an
// attribute popup, wrapped with concern evaluation when configured.
func (s LayerSpec) mapper(reg *layer.Registry, hazards concern.HazardSource) (render.Mapper, error) {
	base := func(rec dataset.Record) (layer.Drawable, error) {
		return layer.Drawable{
			ID:       rec.ID,
			Geometry: rec.Geometry,
			Style:    s.Style,
			Popup:    s.Popup.build(rec),
		}, nil
	}
	if s.Concern == nil {
		return base, nil
	}
	rules, err := concern.Compile(s.Concern.Rules, hazards)
	if err != nil {
		return nil, err
	}
	return concern.Mapper(base, rules, concern.Target{
		Registry: reg,
		Layer:    s.Concern.Layer,
		Style:    s.Concern.Style,
		Title:    s.Concern.Title,
	}), nil
}

func (p PopupSpec) build(rec dataset.Record) *layer.Popup {
	title := p.Title
	if p.TitleField != "" && rec.Has(p.TitleField) {
		title = rec.String(p.TitleField)
	}
	if title == "" && len(p.Fields) == 0 {
		return nil
	}
	popup := &layer.Popup{Title: title}
	for _, f := range p.Fields {
		if rec.Has(f) {
			popup.Lines = append(popup.Lines, f+": "+rec.String(f))
		}
	}
	return popup
}
