package session

import (
	"errors"
	"fmt"

	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/render"
)

// ErrAlreadyStarted is returned when Run or Start is called twice.
var ErrAlreadyStarted = errors.New("session already started")

// Run drives the load pipeline: background layers start first and run
// concurrently, base layers load during loading-base, then each primary
// layer gets its own stage. A failed fetch renders as an empty layer and
// never stalls the pipeline. Run returns nil after firing the ready signal,
// or ctx.Err() if the session was closed first. Only the first call runs.
func (s *Session) Run() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.wg.Done()
	return s.run()
}

// Start runs the pipeline on its own goroutine and calls done, if not nil,
// with Run's result. Wait covers the pipeline and done as soon as Start
// returns.
func (s *Session) Start(done func(error)) error {
	if err := s.begin(); err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		err := s.run()
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// begin registers the pipeline with the wait group, unless the session has
// already started or closed.
func (s *Session) begin() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.running = true
	s.wg.Add(1)
	return nil
}

func (s *Session) run() error {
	for _, spec := range s.plan.byRole(RoleBackground) {
		s.wg.Add(1)
		go func(spec LayerSpec) {
			defer s.wg.Done()
			if err := s.load(spec, render.Options{}); err != nil {
				s.logger.Debug().Err(err).Str("layer", string(spec.Layer)).Msg("background load stopped")
			}
		}(spec)
	}
	s.progress.advance(initPercent)

	base := s.plan.byRole(RoleBase)
	s.progress.enter(StageLoadingBase, 0, "Loading base layers", initPercent)
	span := (basePercent - initPercent) / float64(max(len(base), 1))
	for i, spec := range base {
		opts := render.Options{StageStart: initPercent + float64(i)*span, StageSpan: span}
		if err := s.load(spec, opts); err != nil {
			return err
		}
	}
	s.progress.advance(basePercent)

	primary := s.plan.byRole(RolePrimary)
	span = (100 - basePercent) / float64(max(len(primary), 1))
	for i, spec := range primary {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		start := basePercent + float64(i)*span
		s.progress.enter(StageLoadingLayer, i+1, fmt.Sprintf("Loading %s (%d/%d)", spec.Layer, i+1, len(primary)), start)
		if err := s.load(spec, render.Options{StageStart: start, StageSpan: span}); err != nil {
			return err
		}
	}

	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.progress.enter(StageComplete, 0, "Complete", 100)
	s.surface.Invalidate()
	s.fireReady()
	return nil
}

// load fetches one layer's dataset, publishes it as a hazard snapshot and
// renders it. Only cancellation is returned as an error.
func (s *Session) load(spec LayerSpec, opts render.Options) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	ds, loadErr := s.loader.Load(s.ctx, spec.Dataset)
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if loadErr != nil {
		s.logger.Warn().Err(loadErr).
			Str("layer", string(spec.Layer)).
			Str("dataset", spec.Dataset).
			Msg("dataset unavailable, rendering empty layer")
		ds = dataset.Empty(spec.Dataset)
	}
	s.snapshots.Put(ds)

	opts.BatchCount = s.plan.BatchCount
	opts.Delay = s.plan.Delay
	if opts.StageSpan > 0 {
		opts.OnProgress = s.progress.advance
	}

	res, err := s.renderer.Render(s.ctx, ds, spec.Layer, s.mappers[spec.Layer], opts)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("layer", string(spec.Layer)).
		Int("rendered", res.Rendered).
		Int("skipped", res.Skipped).
		Msg("layer rendered")
	return nil
}
