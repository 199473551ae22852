// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-viewshed/internal/humastar"
	"github.com/joeblew999/plat-viewshed/internal/service"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Viewpoint *service.ViewpointService
	Tile      *service.TileService
	Coverage  *service.CoverageService
}

// RegisterRoutes registers every REST route of the API.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Viewpoint ID" example:"tokyoTower"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// ViewpointBody is a landmark as exposed over the API.
type ViewpointBody struct {
	ID          string  `json:"id" doc:"Viewpoint ID" example:"tokyoTower"`
	Label       string  `json:"label" doc:"Display name"`
	Subtitle    string  `json:"subtitle,omitempty" doc:"Secondary caption"`
	HeightM     float64 `json:"height_m" doc:"Observer height above ground in metres"`
	Lon         float64 `json:"lon" doc:"Landmark longitude"`
	Lat         float64 `json:"lat" doc:"Landmark latitude"`
	Source      string  `json:"source" doc:"Map source ID"`
	Layer       string  `json:"layer" doc:"Map layer ID"`
	TileSet     string  `json:"tile_set" doc:"Tile set name under the tiles directory"`
	Tiles       string  `json:"tiles" doc:"Raster tile URL template"`
	Attribution string  `json:"attribution,omitempty" doc:"Overlay attribution"`
	Gradient    string  `json:"gradient,omitempty" doc:"Legend CSS gradient"`
	PhotoURL    string  `json:"photo_url,omitempty" doc:"Card photo"`
}

var viewpointActions = []humastar.ActionDef{
	{Rel: "toggle", Pattern: "/api/v1/viewer/viewpoints/%s/toggle", Method: "POST", Title: "Show on map"},
	{Rel: "coverage", Pattern: "/api/v1/coverage/%s", Method: "GET", Title: "Tile coverage"},
}

// Actions implements humastar.Actor.
func (b ViewpointBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, viewpointActions)
}

type ViewpointOutput struct {
	Body ViewpointBody
}

type ViewpointsOutput struct {
	Body []ViewpointBody
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterViewpoints registers the landmark catalog routes.
func (h *APIHandler) RegisterViewpoints(api huma.API) {
	huma.Get(api, "/api/v1/viewpoints", h.GetViewpoints, huma.OperationTags("viewpoints"))
	huma.Get(api, "/api/v1/viewpoints/{id}", h.GetViewpoint, huma.OperationTags("viewpoints"))
	huma.Get(api, "/api/v1/viewpoints.geojson", h.GetViewpointsGeoJSON, huma.OperationTags("viewpoints"))
}

// RegisterTiles registers tile set listing routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
}

// RegisterCoverage registers the tile coverage routes.
func (h *APIHandler) RegisterCoverage(api huma.API) {
	huma.Get(api, "/api/v1/coverage/{id}", h.GetCoverage, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetViewpoints(ctx context.Context, input *struct{}) (*ViewpointsOutput, error) {
	if h.svc == nil || h.svc.Viewpoint == nil {
		return &ViewpointsOutput{Body: []ViewpointBody{}}, nil
	}
	vps := h.svc.Viewpoint.List()
	out := make([]ViewpointBody, len(vps))
	for i, vp := range vps {
		out[i] = h.viewpointBody(vp)
	}
	return &ViewpointsOutput{Body: out}, nil
}

func (h *APIHandler) GetViewpoint(ctx context.Context, input *IDInput) (*ViewpointOutput, error) {
	if h.svc == nil || h.svc.Viewpoint == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	vp, ok := h.svc.Viewpoint.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("viewpoint not found")
	}
	return &ViewpointOutput{Body: h.viewpointBody(vp)}, nil
}

func (h *APIHandler) GetViewpointsGeoJSON(ctx context.Context, input *struct{}) (*GeoJSONOutput, error) {
	if h.svc == nil || h.svc.Viewpoint == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	data, err := h.svc.Viewpoint.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to encode viewpoints", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileSource }, error) {
	if h.svc == nil || h.svc.Tile == nil {
		return &struct{ Body []service.TileSource }{Body: []service.TileSource{}}, nil
	}
	tiles, err := h.svc.Tile.List()
	if err != nil || tiles == nil {
		return &struct{ Body []service.TileSource }{Body: []service.TileSource{}}, nil
	}
	return &struct{ Body []service.TileSource }{Body: tiles}, nil
}

func (h *APIHandler) GetCoverage(ctx context.Context, input *IDInput) (*struct{ Body service.Coverage }, error) {
	if h.svc == nil || h.svc.Coverage == nil || !h.svc.Coverage.Available() {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if h.svc.Viewpoint == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	vp, ok := h.svc.Viewpoint.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("viewpoint not found")
	}
	cov, err := h.svc.Coverage.Coverage(ctx, vp.Layer)
	if errors.Is(err, service.ErrNotIndexed) {
		return nil, huma.Error404NotFound("tile set not indexed, run `viewshed index`")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read coverage", err)
	}
	return &struct{ Body service.Coverage }{Body: cov}, nil
}

func (h *APIHandler) viewpointBody(vp viewshed.Viewpoint) ViewpointBody {
	return ViewpointBody{
		ID:          string(vp.ID),
		Label:       vp.Label,
		Subtitle:    vp.Subtitle,
		HeightM:     vp.HeightM,
		Lon:         vp.Location.Lon(),
		Lat:         vp.Location.Lat(),
		Source:      vp.Source,
		Layer:       vp.LayerID(),
		TileSet:     vp.Layer,
		Tiles:       h.svc.Viewpoint.TileURL(vp),
		Attribution: vp.Attribution,
		Gradient:    vp.Gradient,
		PhotoURL:    vp.PhotoURL,
	}
}
