// Package render adds dataset features to a layer group in timed batches.
//
// Batching keeps the map surface responsive while a large layer streams in
// and gives the loading indicator visible stages. It never reorders or
// drops records other than the ones a mapper rejects.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/metrics"
)

// ErrMalformedFeature marks a record its mapper could not turn into a drawable.
var ErrMalformedFeature = errors.New("malformed feature")

// Defaults applied when Options leaves a field zero.
const (
	DefaultBatchCount = 10
	DefaultDelay      = 25 * time.Millisecond
)

// Mapper turns one record into a drawable. It may add drawables to other
// groups through the registry as a side effect (concern layers do this).
type Mapper func(rec dataset.Record) (layer.Drawable, error)

// ProgressFunc receives the overall progress percentage after each batch.
type ProgressFunc func(percent float64)

// Options controls one Render call.
type Options struct {
	BatchCount int
	Delay      time.Duration
	// StageStart and StageSpan place this layer's progress inside the
	// session-wide 0-100 range.
	StageStart float64
	StageSpan  float64
	OnProgress ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.BatchCount <= 0 {
		o.BatchCount = DefaultBatchCount
	}
	if o.Delay < 0 {
		o.Delay = 0
	} else if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	return o
}

// Result summarises a render pass.
type Result struct {
	Rendered int
	Skipped  int
	Batches  int
}

// Renderer writes batches into a registry.
type Renderer struct {
	registry *layer.Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewRenderer creates a renderer for one session's registry. m may be nil.
func NewRenderer(registry *layer.Registry, logger zerolog.Logger, m *metrics.Metrics) *Renderer {
	return &Renderer{registry: registry, logger: logger, metrics: m}
}

// Render maps every record of ds into target in opts.BatchCount contiguous
// slices whose sizes differ by at most one, the larger ones first. Cancellation of ctx is checked before each
// slice and during the inter-batch delay; once observed no further slices
// run, no further progress is reported, and ctx.Err() is returned.
func (r *Renderer) Render(ctx context.Context, ds *dataset.Dataset, target layer.Name, mapper Mapper, opts Options) (Result, error) {
	opts = opts.withDefaults()
	var res Result

	total := ds.Len()
	if total == 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.report(opts, 1)
		return res, nil
	}

	processed := 0

	for b := 0; b < opts.BatchCount; b++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		lo, hi := slice(b, total, opts.BatchCount)
		if lo == hi {
			// fewer records than batches
			continue
		}

		batch := make([]layer.Drawable, 0, hi-lo)
		for _, rec := range ds.Records[lo:hi] {
			d, err := safeMap(mapper, rec)
			if err != nil {
				res.Skipped++
				r.logger.Debug().Err(err).
					Str("layer", string(target)).
					Str("record", rec.ID).
					Msg("skipping record")
				continue
			}
			batch = append(batch, d)
		}
		if !r.registry.Add(target, batch...) {
			// session ended while this slice was being mapped
			return res, context.Canceled
		}

		res.Rendered += len(batch)
		res.Batches++
		processed = hi
		r.report(opts, float64(processed)/float64(total))

		if processed == total {
			break
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(opts.Delay):
		}
	}

	r.metrics.AddRendered(string(target), res.Rendered)
	r.metrics.AddSkipped(string(target), res.Skipped)
	return res, nil
}

// slice returns the bounds of batch b of count over total records. The
// first total%count slices hold one extra record, so later slices are never
// larger than earlier ones.
func slice(b, total, count int) (lo, hi int) {
	size, extra := total/count, total%count
	lo = b*size + min(b, extra)
	hi = lo + size
	if b < extra {
		hi++
	}
	return lo, hi
}

func (r *Renderer) report(opts Options, fraction float64) {
	if opts.OnProgress != nil {
		opts.OnProgress(opts.StageStart + fraction*opts.StageSpan)
	}
}

// safeMap runs mapper, converting errors and panics into ErrMalformedFeature.
func safeMap(mapper Mapper, rec dataset.Record) (d layer.Drawable, err error) {
	if rec.Geometry == nil {
		return d, fmt.Errorf("%w: record %s: %v", ErrMalformedFeature, rec.ID, rec.GeomErr)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: record %s: %v", ErrMalformedFeature, rec.ID, p)
		}
	}()
	d, err = mapper(rec)
	if err != nil && !errors.Is(err, ErrMalformedFeature) {
		err = fmt.Errorf("%w: record %s: %w", ErrMalformedFeature, rec.ID, err)
	}
	return d, err
}
