package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-viewshed/internal/db"
	"github.com/joeblew999/plat-viewshed/internal/server"
	"github.com/joeblew999/plat-viewshed/internal/service"
)

// Options defines all CLI flags and env vars for the viewshed server.
// Flags: --host, --port, --data-dir, --web-dir, --base-path, --catalog, --log-level
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir  string `doc:"Directory holding tiles/ and the coverage database" default:".data"`
	WebDir   string `doc:"Serve templates and static files from this web/ directory instead of the embedded copy"`
	BasePath string `doc:"URL prefix the viewer is mounted under" default:"/"`
	Catalog  string `doc:"YAML viewpoint catalog (built-in Tokyo landmarks when empty)"`
	LogLevel string `doc:"Log level: debug, info, warn, error" default:"info"`
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func newServer(opts *Options, log zerolog.Logger) (*server.Server, error) {
	return server.New(server.Config{
		Host:     opts.Host,
		Port:     fmt.Sprintf("%d", opts.Port),
		DataDir:  opts.DataDir,
		WebDir:   opts.WebDir,
		BasePath: opts.BasePath,
		Catalog:  opts.Catalog,
		Log:      log,
	})
}

// runE adapts a subcommand body that returns an error. Cobra prints the
// error; main exits non-zero after the command's cleanups have run.
func runE(failed *bool, f func(cmd *cobra.Command, opts *Options) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var err error
		humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *Options) {
			err = f(cmd, opts)
		})(cmd, args)
		if err != nil {
			*failed = true
			cmd.SilenceUsage = true
		}
		return err
	}
}

// exportSpec renders the OpenAPI document as JSON or YAML.
func exportSpec(opts *Options, asYAML bool) ([]byte, error) {
	srv, err := newServer(opts, zerolog.Nop())
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()
	spec := srv.OpenAPI()
	if asYAML {
		return yaml.Marshal(spec)
	}
	return json.MarshalIndent(spec, "", "  ")
}

// packTiles packs the tile directory of layer into a PMTiles archive,
// taking the attribution from the catalog entry of that layer.
func packTiles(opts *Options, layer, out string, log zerolog.Logger) (string, int, error) {
	catalog, err := service.LoadCatalog(opts.Catalog)
	if err != nil {
		return "", 0, fmt.Errorf("loading catalog: %w", err)
	}
	var attribution string
	if vp, ok := catalog.ByLayer(layer); ok {
		attribution = vp.Attribution
	} else {
		log.Warn().Str("layer", layer).Msg("layer not in catalog, packing without attribution")
	}

	tiles := service.NewTileService(opts.DataDir)
	defer tiles.Close()
	path, n, err := tiles.Pack(layer, service.PackOptions{Out: out, Attribution: attribution})
	if err != nil {
		return "", 0, fmt.Errorf("packing %s: %w", layer, err)
	}
	return path, n, nil
}

// indexTiles rebuilds the DuckDB coverage index of every tile set.
func indexTiles(ctx context.Context, opts *Options, log zerolog.Logger) (int, error) {
	conn, err := db.Open(db.Config{DataDir: opts.DataDir, DBName: "viewshed"})
	if err != nil {
		return 0, fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	tiles := service.NewTileService(opts.DataDir)
	defer tiles.Close()
	n, err := service.NewCoverageService(conn, tiles, log).Index(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexing tiles: %w", err)
	}
	return n, nil
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv     *server.Server
			httpSrv *http.Server
			cancel  context.CancelFunc
		)

		hooks.OnStart(func() {
			log := newLogger(opts.LogLevel)
			var err error
			srv, err = newServer(opts, log)
			if err != nil {
				log.Fatal().Err(err).Msg("creating server")
			}

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go srv.Run(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d%s", displayHost, opts.Port, server.NormalizeBasePath(opts.BasePath))

			fmt.Println()
			fmt.Printf("plat-viewshed server starting...\n")
			fmt.Printf("  Viewer:  %s/\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			cancel()
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpSrv.Shutdown(ctx)
			srv.Close()
		})
	})

	cli.Root().Use = "viewshed"
	cli.Root().Short = "Landmark viewshed map viewer"
	cli.Root().Version = "0.1.0"

	var failed bool

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		RunE: runE(&failed, func(cmd *cobra.Command, opts *Options) error {
			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := exportSpec(opts, useYAML)
			if err != nil {
				return err
			}
			fmt.Println(string(output))
			return nil
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// pack subcommand: directory tile set to PMTiles archive
	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Pack a {z}/{x}/{y} tile directory into a PMTiles archive",
		RunE: runE(&failed, func(cmd *cobra.Command, opts *Options) error {
			layer, _ := cmd.Flags().GetString("layer")
			out, _ := cmd.Flags().GetString("out")
			path, n, err := packTiles(opts, layer, out, newLogger(opts.LogLevel))
			if err != nil {
				return err
			}
			fmt.Printf("Packed %d tiles into %s\n", n, path)
			return nil
		}),
	}
	packCmd.Flags().StringP("layer", "l", "", "Tile set directory name under <data-dir>/tiles")
	packCmd.Flags().StringP("out", "o", "", "Archive path (default <data-dir>/tiles/<layer>.pmtiles)")
	packCmd.MarkFlagRequired("layer")
	cli.Root().AddCommand(packCmd)

	// index subcommand: rebuild the DuckDB coverage index
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Index tile coverage of every tile set into DuckDB",
		RunE: runE(&failed, func(cmd *cobra.Command, opts *Options) error {
			n, err := indexTiles(cmd.Context(), opts, newLogger(opts.LogLevel))
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d tiles\n", n)
			return nil
		}),
	}
	cli.Root().AddCommand(indexCmd)

	cli.Run()
	if failed {
		os.Exit(1)
	}
}
