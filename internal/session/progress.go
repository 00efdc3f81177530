package session

import (
	"fmt"
	"sync"
)

// Stage is a step of the loading pipeline. Stages only move forward.
type Stage int

const (
	StageInitializing Stage = iota
	StageLoadingBase
	StageLoadingLayer
	StageComplete
)

// Progress ranges. Primary layers share [basePercent, 100] evenly.
const (
	initPercent = 5.0
	basePercent = 10.0
)

func (s Stage) String() string {
	switch s {
	case StageInitializing:
		return "initializing"
	case StageLoadingBase:
		return "loading-base"
	case StageLoadingLayer:
		return "loading-layer"
	case StageComplete:
		return "complete"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for st := StageInitializing; st <= StageComplete; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// Progress is the loading indicator readout.
type Progress struct {
	Stage Stage `json:"stage"`
	// Layer is the 1-based primary layer index while Stage is
	// StageLoadingLayer, 0 otherwise.
	Layer   int     `json:"layer,omitempty"`
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
}

// Key returns the stage key, e.g. "loading-layer-2".
func (p Progress) Key() string {
	if p.Stage == StageLoadingLayer {
		return fmt.Sprintf("loading-layer-%d", p.Layer)
	}
	return p.Stage.String()
}

// tracker holds the current progress and fans updates out to observers.
// Observers run under the tracker lock, in report order, and must not call
// back into the session.
type tracker struct {
	mu        sync.Mutex
	cur       Progress
	started   bool
	observers []func(Progress)
}

func (t *tracker) observe(fn func(Progress)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *tracker) current() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// enter moves to a new stage. Moving backwards is ignored.
func (t *tracker) enter(stage Stage, layer int, label string, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		if stage < t.cur.Stage || (stage == t.cur.Stage && layer < t.cur.Layer) {
			return
		}
	}
	t.started = true
	t.cur.Stage = stage
	t.cur.Layer = layer
	t.cur.Label = label
	t.setLocked(percent)
}

// advance updates the percentage within the current stage.
func (t *tracker) advance(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(percent)
}

func (t *tracker) setLocked(percent float64) {
	if percent > 100 {
		percent = 100
	}
	if percent < t.cur.Percent {
		percent = t.cur.Percent
	}
	t.cur.Percent = percent
	for _, fn := range t.observers {
		fn(t.cur)
	}
}
