package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-citymap/internal/dataset"
	"github.com/joeblew999/plat-citymap/internal/layer"
	"github.com/joeblew999/plat-citymap/internal/logging"
	"github.com/joeblew999/plat-citymap/internal/server"
	"github.com/joeblew999/plat-citymap/internal/service"
	"github.com/joeblew999/plat-citymap/internal/session"
	"github.com/joeblew999/plat-citymap/internal/surface"
)

// Options defines all CLI flags and env vars for the citymap server.
// Flags: --host, --port, --data-dir, --dataset-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_DATASET_URL, ...
type Options struct {
	Host          string `doc:"Host to bind to" default:"0.0.0.0"`
	Port          int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir       string `doc:"Directory for panels, datasets and DuckDB" default:".data"`
	WebDir        string `doc:"Directory with static/ assets (optional)" default:""`
	TemplateDir   string `doc:"Directory of *.html fragments overriding the built-in ones (optional)" default:""`
	DatasetURL    string `doc:"Base URL for <name>.json datasets; empty reads <data-dir>/datasets" default:""`
	LogLevel      string `doc:"Log level (debug, info, warn, error)" default:"info"`
	BatchCount    int    `doc:"Render batches per layer" default:"10"`
	BatchDelay    string `doc:"Delay between render batches" default:"25ms"`
	FetchTimeout  string `doc:"Per-dataset fetch timeout, 0 for none" default:"0"`
	CacheTTL      string `doc:"Dataset cache TTL, 0 disables the cache" default:"0"`
	RedisAddr     string `doc:"Redis address for the dataset cache (optional)" default:""`
	RedisPassword string `doc:"Redis password" default:""`
	NoDB          bool   `doc:"Do not open the DuckDB store" default:"false"`
}

func durationOpt(logger zerolog.Logger, name, v string) time.Duration {
	if v == "" || v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Fatal().Err(err).Str("option", name).Msg("invalid duration")
	}
	return d
}

func serverConfig(opts *Options, logger zerolog.Logger) server.Config {
	return server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		DataDir:       opts.DataDir,
		WebDir:        opts.WebDir,
		TemplateDir:   opts.TemplateDir,
		DatasetURL:    opts.DatasetURL,
		FetchTimeout:  durationOpt(logger, "fetch-timeout", opts.FetchTimeout),
		BatchCount:    opts.BatchCount,
		BatchDelay:    durationOpt(logger, "batch-delay", opts.BatchDelay),
		RedisAddr:     opts.RedisAddr,
		RedisPassword: opts.RedisPassword,
		CacheTTL:      durationOpt(logger, "cache-ttl", opts.CacheTTL),
		NoDB:          opts.NoDB,
		Logger:        logger,
	}
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger := logging.New(opts.LogLevel)
		var httpServer *http.Server

		hooks.OnStart(func() {
			srv, err := server.New(serverConfig(opts, logger))
			if err != nil {
				logger.Fatal().Err(err).Msg("server init failed")
			}
			defer srv.Close()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			logger.Info().
				Str("addr", addr).
				Str("data", opts.DataDir).
				Str("docs", baseURL+"/docs").
				Str("openapi", baseURL+"/openapi.json").
				Msg("plat-citymap API server starting")

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if httpServer == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
		})
	})

	cli.Root().Use = "citymap"
	cli.Root().Short = "City map panels with progressive layer loading"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger := logging.NewConsole("error")
			cfg := serverConfig(opts, logger)
			cfg.NoDB = true
			dir, err := os.MkdirTemp("", "citymap-spec")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
				os.Exit(1)
			}
			defer os.RemoveAll(dir)
			cfg.DataDir = dir
			srv, err := server.New(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error building server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// load subcommand: run a panel headless and report what it drew
	loadCmd := &cobra.Command{
		Use:   "load <panel>",
		Short: "Load a panel without a browser and print progress and layer counts",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger := logging.NewConsole(opts.LogLevel)
			if err := runLoad(cmd.Context(), args[0], opts, logger); err != nil {
				logger.Error().Err(err).Msg("load failed")
				os.Exit(1)
			}
		}),
	}
	cli.Root().AddCommand(loadCmd)

	cli.Run()
}

func runLoad(ctx context.Context, panelID string, opts *Options, logger zerolog.Logger) error {
	panels, err := service.NewPanelService(opts.DataDir, nil)
	if err != nil {
		return err
	}
	panel, err := panels.Get(panelID)
	if err != nil {
		return err
	}
	plan, err := panel.Plan(service.PlanDefaults{
		BatchCount: opts.BatchCount,
		Delay:      durationOpt(logger, "batch-delay", opts.BatchDelay),
	})
	if err != nil {
		return err
	}

	var fetcher dataset.Fetcher = dataset.NewDirFetcher(filepath.Join(opts.DataDir, "datasets"))
	if opts.DatasetURL != "" {
		fetcher = dataset.NewHTTPFetcher(opts.DatasetURL)
	}
	loader := dataset.NewLoader(fetcher, dataset.Options{
		Timeout: durationOpt(logger, "fetch-timeout", opts.FetchTimeout),
	}, logger, nil)

	s, err := session.New(session.Config{
		ID:      panelID,
		Surface: surface.NewMemory(),
		Loader:  loader,
		Plan:    plan,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	s.Observe(func(p session.Progress) {
		fmt.Printf("%5.1f%%  %s\n", p.Percent, p.Label)
	})

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	if err := s.Run(); err != nil {
		return err
	}
	s.Wait()

	counts := s.Registry().Counts()
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, string(n))
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("%-14s %d\n", n, counts[layer.Name(n)])
	}
	return nil
}
