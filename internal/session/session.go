// Package session runs one map panel lifetime: it owns the layer registry,
// sequences dataset loads through staged progress, and maps UI toggles onto
// layer visibility.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/concern"
	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/metrics"
	"github.com/joeblew999/plat-citymap/internal/render"
)

// Loader fetches a dataset by name.
type Loader interface {
	Load(ctx context.Context, name string) (*dataset.Dataset, error)
}

// Config configures a Session.
type Config struct {
	ID      string
	Surface layer.Surface
	Loader  Loader
	Plan    Plan
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// OnReady fires once when loading reaches StageComplete.
	OnReady func()
}

// Session is one map surface lifetime.
type Session struct {
	id        string
	surface   layer.Surface
	loader    Loader
	plan      Plan
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	registry  *layer.Registry
	snapshots *concern.Snapshots
	renderer  *render.Renderer
	mappers   map[layer.Name]render.Mapper
	progress  tracker

	ctx      context.Context
	cancel   context.CancelFunc
	unResize func()

	onReady   func()
	readyOnce sync.Once
	ready     chan struct{}
	started   time.Time

	// runMu orders run registration against Close so that wg.Add never
	// races with Wait.
	runMu     sync.Mutex
	running   bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New validates the plan, creates the registry with every group the plan
// draws into, applies initial visibility and registers the resize hook.
func New(cfg Config) (*Session, error) {
	if cfg.Surface == nil {
		return nil, errors.New("session needs a surface")
	}
	if cfg.Loader == nil {
		return nil, errors.New("session needs a loader")
	}
	if err := cfg.Plan.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger.With().Str("session", cfg.ID).Logger()
	reg := layer.NewRegistry(cfg.Surface, cfg.Plan.groups()...)

	s := &Session{
		id:        cfg.ID,
		surface:   cfg.Surface,
		loader:    cfg.Loader,
		plan:      cfg.Plan,
		logger:    logger,
		metrics:   cfg.Metrics,
		registry:  reg,
		snapshots: concern.NewSnapshots(),
		renderer:  render.NewRenderer(reg, logger, cfg.Metrics),
		mappers:   make(map[layer.Name]render.Mapper),
		ctx:       ctx,
		cancel:    cancel,
		onReady:   cfg.OnReady,
		ready:     make(chan struct{}),
		started:   time.Now(),
	}

	for _, l := range cfg.Plan.Layers {
		m, err := l.mapper(reg, s.snapshots)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("layer %q: %w", l.Layer, err)
		}
		s.mappers[l.Layer] = m
	}

	reg.OnStaleWrite(func(err error) {
		s.metrics.IncStaleWrite()
		s.logger.Debug().Err(err).Msg("suppressed write after close")
	})

	for _, l := range cfg.Plan.Layers {
		if l.Visible {
			reg.SetAttached(l.Layer, true)
		}
		if l.Concern != nil && l.Concern.Visible {
			reg.SetAttached(l.Concern.Layer, true)
		}
	}

	s.unResize = cfg.Surface.OnResize(func() {
		if s.ctx.Err() == nil {
			s.surface.Invalidate()
		}
	})

	s.progress.enter(StageInitializing, 0, "Initializing map", 0)
	s.metrics.SessionOpened()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Surface returns the map surface the session draws on.
func (s *Session) Surface() layer.Surface { return s.surface }

// Registry returns the session's layer registry.
func (s *Session) Registry() *layer.Registry { return s.registry }

// Progress returns the current progress readout.
func (s *Session) Progress() Progress { return s.progress.current() }

// Observe registers fn for every progress update. fn runs on the loading
// goroutine and must not block.
func (s *Session) Observe(fn func(Progress)) { s.progress.observe(fn) }

// Ready is closed once loading completes.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.ctx.Err() != nil }

// Toggles returns the toggle names this session understands.
func (s *Session) Toggles() []string {
	out := make([]string, 0, len(s.plan.Toggles))
	for t := range s.plan.Toggles {
		out = append(out, t)
	}
	return out
}

// Close cancels in-flight loads, closes the registry so that no further
// mutation reaches the surface, and removes the resize hook. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.runMu.Lock()
		s.cancel()
		s.runMu.Unlock()
		s.registry.Close()
		if s.unResize != nil {
			s.unResize()
		}
		s.metrics.SessionClosed()
		s.logger.Debug().Msg("session closed")
	})
}

// Wait blocks until Run and every background load have returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) fireReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
		s.metrics.ObserveSessionReady(time.Since(s.started))
		s.logger.Info().
			Dur("elapsed", time.Since(s.started)).
			Interface("counts", s.registry.Counts()).
			Msg("session ready")
		if s.onReady != nil {
			s.onReady()
		}
	})
}
