// Package service contains the panel catalog and dataset listing for the
// citymap server.
package service

import (
	"time"

	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/session"
)

// PanelConfig describes one map panel: which datasets it loads, in what
// order, how they look, which concern overlays it derives and which toggles
// the UI offers.
// Huma reads the tags for OpenAPI and validation; yaml tags drive the panel
// files under <data>/panels.
type PanelConfig struct {
	ID          string              `json:"id,omitempty" yaml:"id,omitempty" pattern:"^[a-z0-9_]+$" maxLength:"100" doc:"Unique panel identifier" example:"street_condition"`
	Name        string              `json:"name" yaml:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Street Condition"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty" doc:"Short description shown above the map"`
	Center      []float64           `json:"center,omitempty" yaml:"center,omitempty" minItems:"2" maxItems:"2" doc:"Initial map center [lon, lat]" example:"[-84.512, 39.103]"`
	Zoom        float64             `json:"zoom,omitempty" yaml:"zoom,omitempty" minimum:"0" maximum:"22" default:"12" doc:"Initial zoom level"`
	Layers      []session.LayerSpec `json:"layers" yaml:"layers" required:"true" minItems:"1" doc:"Layers in load order"`
	Toggles     []Toggle            `json:"toggles,omitempty" yaml:"toggles,omitempty" doc:"UI toggles and the layer groups they control"`
	BatchCount  int                 `json:"batchCount,omitempty" yaml:"batchCount,omitempty" minimum:"0" maximum:"1000" doc:"Render batches per layer (0 uses the server default)"`
	BatchDelay  string              `json:"batchDelay,omitempty" yaml:"batchDelay,omitempty" doc:"Delay between batches, e.g. 25ms (empty uses the server default)" example:"25ms"`
}

// Toggle is one entry of a panel's toggle table.
type Toggle struct {
	Name   string       `json:"name" yaml:"name" required:"true" doc:"Toggle name sent by the UI" example:"streets"`
	Label  string       `json:"label,omitempty" yaml:"label,omitempty" doc:"Label shown next to the toggle" example:"Streets"`
	Layers []layer.Name `json:"layers" yaml:"layers" required:"true" minItems:"1" doc:"Layer groups controlled by the toggle"`
}

// PlanDefaults fills plan fields a panel leaves empty.
type PlanDefaults struct {
	BatchCount int
	Delay      time.Duration
}

// Plan converts the panel into a session plan.
func (p PanelConfig) Plan(d PlanDefaults) (session.Plan, error) {
	plan := session.Plan{
		Layers:     p.Layers,
		Toggles:    make(map[string][]layer.Name, len(p.Toggles)),
		BatchCount: d.BatchCount,
		Delay:      d.Delay,
	}
	for _, t := range p.Toggles {
		plan.Toggles[t.Name] = t.Layers
	}
	if p.BatchCount > 0 {
		plan.BatchCount = p.BatchCount
	}
	if p.BatchDelay != "" {
		delay, err := time.ParseDuration(p.BatchDelay)
		if err != nil {
			return session.Plan{}, err
		}
		plan.Delay = delay
	}
	return plan, plan.Validate()
}

// DatasetFile is a dataset published in the local data directory.
type DatasetFile struct {
	Name     string `json:"name" doc:"Dataset name" example:"street_condition"`
	File     string `json:"file" doc:"File name" example:"street_condition.json"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"JSON"`
	// Loadable reports whether sessions can fetch the file by name.
	Loadable bool `json:"loadable" doc:"Whether map sessions can load this dataset directly"`
}
