package dataset

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/metrics"
)

// Options configures a Loader.
type Options struct {
	// Timeout bounds a single fetch. Zero means no timeout: a hung fetch
	// stalls only the layer waiting on it.
	Timeout time.Duration
	Parse   ParseOptions
	// Cache is consulted before fetching and filled after a good parse.
	Cache Cache
}

// Loader fetches and parses named datasets.
type Loader struct {
	fetcher Fetcher
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewLoader creates a Loader over fetcher. m may be nil.
func NewLoader(fetcher Fetcher, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Loader {
	return &Loader{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With().Str("component", "dataset").Logger(),
		metrics: m,
	}
}

// Load fetches and parses a dataset. Any failure is reported as a
// *FetchError matching ErrDataUnavailable.
func (l *Loader) Load(ctx context.Context, name string) (*Dataset, error) {
	start := time.Now()

	if l.opts.Cache != nil {
		if payload, ok, err := l.opts.Cache.Get(ctx, name); err != nil {
			l.logger.Warn().Err(err).Str("dataset", name).Msg("cache read failed")
		} else if ok {
			if ds, err := Parse(name, payload, l.opts.Parse); err == nil {
				l.metrics.ObserveDatasetLoad(name, "cache", time.Since(start))
				return ds, nil
			}
			l.logger.Warn().Str("dataset", name).Msg("discarding unparsable cache entry")
		}
	}

	fetchCtx := ctx
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	payload, err := l.fetcher.Fetch(fetchCtx, name)
	if err != nil {
		l.metrics.ObserveDatasetLoad(name, "error", time.Since(start))
		return nil, &FetchError{Dataset: name, Source: l.fetcher.Source(), Err: err}
	}

	ds, err := Parse(name, payload, l.opts.Parse)
	if err != nil {
		l.metrics.ObserveDatasetLoad(name, "error", time.Since(start))
		return nil, &FetchError{Dataset: name, Source: l.fetcher.Source(), Err: err}
	}

	if l.opts.Cache != nil {
		if err := l.opts.Cache.Set(ctx, name, payload); err != nil {
			l.logger.Warn().Err(err).Str("dataset", name).Msg("cache write failed")
		}
	}

	l.metrics.ObserveDatasetLoad(name, "ok", time.Since(start))
	l.logger.Debug().
		Str("dataset", name).
		Int("records", ds.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("dataset loaded")
	return ds, nil
}
