package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-viewshed/internal/api"
	viewerapi "github.com/joeblew999/plat-viewshed/internal/api/viewer"
	"github.com/joeblew999/plat-viewshed/internal/db"
	"github.com/joeblew999/plat-viewshed/internal/humastar"
	"github.com/joeblew999/plat-viewshed/internal/service"
	"github.com/joeblew999/plat-viewshed/internal/templates"
	"github.com/joeblew999/plat-viewshed/internal/viewer"
	"github.com/joeblew999/plat-viewshed/web"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// WebDir serves templates and static files from disk instead of the
	// embedded copies.
	WebDir string
	// BasePath is the URL prefix the app is mounted under, e.g. /viewshed.
	BasePath string
	// Catalog is a YAML viewpoint catalog; empty uses the built-in one.
	Catalog string
	Log     zerolog.Logger
}

// Server is the viewshed HTTP server.
type Server struct {
	config   Config
	base     string
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	sessions *viewer.Manager
	renderer *templates.Renderer
	links    *humastar.Links
	webFS    fs.FS
	log      zerolog.Logger
}

// New creates a new viewshed server.
func New(cfg Config) (*Server, error) {
	log := cfg.Log.With().Str("component", "server").Logger()
	base := NormalizeBasePath(cfg.BasePath)

	catalog, err := service.LoadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	var webFS fs.FS = web.FS
	if cfg.WebDir != "" {
		webFS = os.DirFS(cfg.WebDir)
		log.Info().Str("dir", cfg.WebDir).Msg("serving web assets from disk")
	}
	renderer, err := templates.New(webFS)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{
		config:   cfg,
		base:     base,
		mux:      mux,
		renderer: renderer,
		webFS:    webFS,
		log:      log,
	}

	humaConfig := huma.DefaultConfig("plat-viewshed API", "1.0.0")
	humaConfig.Info.Description = "Viewshed viewer API: landmark catalog, overlay tiles, coverage and the server-driven map session."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s%s", cfg.Host, cfg.Port, base), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	// Links are derived once every route is registered.
	humaConfig.Transformers = append(humaConfig.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return s.links.Transformer()(ctx, status, v)
	})
	s.humaAPI = humago.New(mux, humaConfig)

	conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "viewshed"})
	if err != nil {
		log.Warn().Err(err).Msg("coverage database disabled")
	} else {
		s.db = conn
	}

	tiles := service.NewTileService(cfg.DataDir)
	s.services = &api.Services{
		Viewpoint: service.NewViewpointService(catalog, base+"/tiles"),
		Tile:      tiles,
		Coverage:  service.NewCoverageService(s.db, tiles, cfg.Log),
	}
	s.sessions = viewer.NewManager(viewer.Config{Catalog: catalog, Log: cfg.Log})

	s.routes()
	s.handler = mountAt(base, mux)
	return s, nil
}

// NormalizeBasePath turns "/", "" and "viewshed/" style prefixes into ""
// or "/viewshed".
func NormalizeBasePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the server.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the viewer session manager.
func (s *Server) Sessions() *viewer.Manager {
	return s.sessions
}

// Run evicts idle viewer sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	s.sessions.Close()
	err := s.services.Tile.Close()
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

func (s *Server) routes() {
	// Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.db != nil, s.services.Viewpoint.Catalog().Len()).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)

	// Viewer Datastar routes
	vh := viewerapi.NewHandler(s.sessions, s.renderer, s.services.Viewpoint.TileURL, s.base, s.config.Log)
	vh.RegisterRoutes(s.humaAPI)

	s.links = humastar.AutoLinks(s.humaAPI, viewerapi.Tag)

	static, err := fs.Sub(s.webFS, "static")
	if err != nil {
		s.log.Error().Err(err).Msg("static assets unavailable")
	} else {
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	}
	s.mux.HandleFunc("/tiles/{layer}/{z}/{x}/{y}", s.handleTile)

	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		for _, link := range s.links.Root() {
			w.Header().Add("Link", link)
		}
		vh.Page(w, r)
	})
}

// handleTile serves /tiles/{layer}/{z}/{x}/{y}.{ext} from a tile directory
// or PMTiles archive.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Encoding")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodHead:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	yStr, ext, _ := strings.Cut(r.PathValue("y"), ".")
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(yStr)
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "Invalid tile coordinates", http.StatusBadRequest)
		return
	}

	tile, err := s.services.Tile.Tile(r.PathValue("layer"), z, x, y, ext)
	switch {
	case errors.Is(err, service.ErrTileNotFound):
		// Sparse overlays: an absent tile is an empty one.
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, service.ErrUnknownTileSet), errors.Is(err, service.ErrInvalidTileSet):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("reading tile")
		http.Error(w, "Failed to read tile", http.StatusInternalServerError)
		return
	}

	h.Set("Content-Type", tile.ContentType)
	if tile.Encoding != "" {
		h.Set("Content-Encoding", tile.Encoding)
	}
	h.Set("Cache-Control", "public, max-age=86400")
	h.Set("Content-Length", strconv.Itoa(len(tile.Bytes)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(tile.Bytes)
}

// mountAt serves h under base, stripping the prefix.
func mountAt(base string, h http.Handler) http.Handler {
	if base == "" {
		return h
	}
	outer := http.NewServeMux()
	outer.Handle(base+"/", http.StripPrefix(base, h))
	outer.Handle(base, http.RedirectHandler(base+"/", http.StatusMovedPermanently))
	return outer
}
