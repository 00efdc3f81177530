// Package layer holds the per-session registry of named layer groups.
//
// The registry is the single source of truth for what is drawn. Every
// mutation goes through it, and once a registry is closed all further
// mutations are suppressed so that late batch callbacks cannot write onto a
// torn-down map surface.
package layer

import (
	"strings"

	"github.com/paulmach/orb"
)

// Name identifies a layer group within a session.
type Name string

// Layer groups used by the municipal panels.
const (
	Floodplain   Name = "floodplain"
	Concern      Name = "concern"
	Building     Name = "building"
	Street       Name = "street"
	Neighborhood Name = "neighborhood"
	Crash        Name = "crash"
	Transit      Name = "transit"
	Sidewalk     Name = "sidewalk"
)

// Style is the visual treatment of a drawable.
type Style struct {
	Stroke      string  `json:"stroke,omitempty" yaml:"stroke,omitempty" doc:"Stroke color (CSS)" example:"#2266cc"`
	Fill        string  `json:"fill,omitempty" yaml:"fill,omitempty" doc:"Fill color (CSS)" example:"#3388ff"`
	Weight      float64 `json:"weight,omitempty" yaml:"weight,omitempty" doc:"Line width in pixels"`
	Opacity     float64 `json:"opacity,omitempty" yaml:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Stroke opacity (0-1)"`
	FillOpacity float64 `json:"fillOpacity,omitempty" yaml:"fillOpacity,omitempty" minimum:"0" maximum:"1" doc:"Fill opacity (0-1)"`
	Radius      float64 `json:"radius,omitempty" yaml:"radius,omitempty" doc:"Point marker radius"`
}

// Popup is the inspection payload shown when a drawable is clicked.
type Popup struct {
	Title string   `json:"title"`
	Lines []string `json:"lines,omitempty"`
}

// Text renders the popup as plain text, one line per entry.
func (p *Popup) Text() string {
	if p == nil {
		return ""
	}
	if len(p.Lines) == 0 {
		return p.Title
	}
	return p.Title + "\n" + strings.Join(p.Lines, "\n")
}

// Drawable is one renderable unit derived from a dataset record. It is
// created by a feature mapper and never mutated afterwards.
type Drawable struct {
	ID       string
	Geometry orb.Geometry
	Style    Style
	Popup    *Popup
}
