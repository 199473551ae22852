package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir    string
	dbOK       bool
	viewpoints int
}

func NewInfoHandler(dataDir string, dbOK bool, viewpoints int) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, viewpoints: viewpoints}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	DataDir    string   `json:"data_dir" doc:"Data directory path"`
	DB         bool     `json:"db" doc:"Whether the coverage database is available"`
	Viewpoints int      `json:"viewpoints" doc:"Number of landmarks in the catalog"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"viewshed", "pmtiles", "geolocation"}
	if h.dbOK {
		features = append(features, "coverage")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:       "plat-viewshed",
		Version:    "0.1.0",
		DataDir:    h.dataDir,
		DB:         h.dbOK,
		Viewpoints: h.viewpoints,
		Features:   features,
	}}, nil
}
