package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-citymap/internal/api"
	"github.com/joeblew999/plat-citymap/internal/api/mapview"
	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/db"
	"github.com/joeblew999/plat-citymap/internal/metrics"
	"github.com/joeblew999/plat-citymap/internal/service"
	"github.com/joeblew999/plat-citymap/internal/session"
	"github.com/joeblew999/plat-citymap/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // static files served under /static/ when set

	// TemplateDir overrides the built-in HTML fragments with its *.html
	// files.
	TemplateDir string

	// DatasetURL fetches datasets over HTTP instead of <data>/datasets.
	DatasetURL   string
	FetchTimeout time.Duration
	BatchCount   int
	BatchDelay   time.Duration

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// NoDB skips opening DuckDB.
	NoDB bool

	Logger zerolog.Logger
}

// Server is the citymap HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	store    *db.Store
	redis    *dataset.RedisCache
	manager  *session.Manager
	metrics  *metrics.Metrics
	renderer *templates.Renderer
	logger   zerolog.Logger
}

// New creates a new citymap server.
func New(cfg Config) (*Server, error) {
	mux := http.NewServeMux()
	logger := cfg.Logger

	humaConfig := huma.DefaultConfig("plat-citymap API", "1.0.0")
	humaConfig.Info.Description = "Map panels with progressive layer loading and concern detection."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	bus := service.NewEventBus()
	panels, err := service.NewPanelService(cfg.DataDir, bus)
	if err != nil {
		return nil, fmt.Errorf("panels: %w", err)
	}
	datasets := service.NewDatasetService(cfg.DataDir)

	renderer, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	if cfg.TemplateDir != "" {
		if err := renderer.Reload(cfg.TemplateDir); err != nil {
			return nil, fmt.Errorf("templates from %s: %w", cfg.TemplateDir, err)
		}
		logger.Info().Str("dir", cfg.TemplateDir).Msg("using template overrides")
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		manager:  session.NewManager(),
		metrics:  metrics.New(),
		renderer: renderer,
		logger:   logger,
	}

	if !cfg.NoDB {
		store, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "citymap"})
		if err != nil {
			logger.Warn().Err(err).Msg("duckdb unavailable, staging disabled")
		} else {
			s.store = store
		}
	}

	loader := s.newLoader(datasets)

	huma.AutoRegister(humaAPI, api.NewAPIHandler(&api.Services{Panels: panels, Datasets: datasets}))
	huma.AutoRegister(humaAPI, api.NewInfoHandler(cfg.DataDir, s.store != nil, s.cacheName()))
	huma.AutoRegister(humaAPI, api.NewDBHandler(s.store, datasets))
	huma.AutoRegister(humaAPI, mapview.NewHandler(mapview.Deps{
		Panels:   panels,
		Bus:      bus,
		Manager:  s.manager,
		Loader:   loader,
		Defaults: service.PlanDefaults{BatchCount: cfg.BatchCount, Delay: cfg.BatchDelay},
		Renderer: renderer,
		Logger:   logger,
		Metrics:  s.metrics,
	}))

	s.routes()
	s.handler = s.metrics.Middleware(mux)
	return s, nil
}

// newLoader chains the DuckDB store ahead of the directory (or HTTP)
// fetcher and picks the cache.
func (s *Server) newLoader(datasets *service.DatasetService) *dataset.Loader {
	var fetchers dataset.Chain
	if s.store != nil {
		fetchers = append(fetchers, s.store)
	}
	if s.config.DatasetURL != "" {
		fetchers = append(fetchers, dataset.NewHTTPFetcher(s.config.DatasetURL))
	} else {
		fetchers = append(fetchers, dataset.NewDirFetcher(datasets.Dir()))
	}

	var cache dataset.Cache
	if rc := dataset.OpenRedisCache(s.config.RedisAddr, s.config.RedisPassword, s.config.CacheTTL); rc != nil {
		s.redis = rc
		cache = rc
	} else if s.config.CacheTTL > 0 {
		cache = dataset.NewMemoryCache(s.config.CacheTTL)
	}

	return dataset.NewLoader(fetchers, dataset.Options{
		Timeout: s.config.FetchTimeout,
		Cache:   cache,
	}, s.logger, s.metrics)
}

func (s *Server) cacheName() string {
	switch {
	case s.redis != nil:
		return "redis"
	case s.config.CacheTTL > 0:
		return "memory"
	}
	return "none"
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the live session manager.
func (s *Server) Sessions() *session.Manager {
	return s.manager
}

// Close closes live sessions and server resources.
func (s *Server) Close() error {
	s.manager.CloseAll()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing redis")
		}
	}
	return s.store.Close()
}

func (s *Server) routes() {
	s.mux.Handle("/metrics", s.metrics.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":  "plat-citymap",
		"status":   "running",
		"sessions": len(s.manager.List()),
	})
}
