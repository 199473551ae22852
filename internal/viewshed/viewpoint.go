// Package viewshed holds the viewer's domain model: the landmark catalog,
// the selection state snapshot and the pure reducers that advance it.
package viewshed

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ViewpointID identifies a landmark with a precomputed viewshed overlay.
type ViewpointID string

const (
	TokyoTower ViewpointID = "tokyoTower"
	Skytree    ViewpointID = "skytree"
	Docomo     ViewpointID = "docomo"
	Tocho      ViewpointID = "tocho"

	// None is the clear sentinel. Toggling it empties the selection.
	None ViewpointID = "none"
)

// Viewpoint is one landmark and the raster overlay computed from it.
//
// Source is the map source id used by the browser widget; the overlay layer
// id is derived from it (see LayerID). Layer is the tile set name used in
// the tile URL {base}/{layer}/{z}/{x}/{y}.{format}.
type Viewpoint struct {
	ID          ViewpointID `json:"id" yaml:"id" doc:"Viewpoint identifier" example:"tokyoTower"`
	Label       string      `json:"label" yaml:"label" doc:"Display name" example:"東京タワー"`
	Subtitle    string      `json:"subtitle,omitempty" yaml:"subtitle" doc:"Secondary caption" example:"港区 / 333m"`
	HeightM     float64     `json:"heightM,omitempty" yaml:"height_m" doc:"Observation height in metres" example:"333"`
	Location    orb.Point   `json:"location" yaml:"location" doc:"Landmark position as [lon, lat]"`
	Source      string      `json:"source" yaml:"source" doc:"Map source id" example:"tokyotower"`
	Layer       string      `json:"layer" yaml:"layer" doc:"Tile set name" example:"viewshed_tokyotower_inf_3857_rgba_tiles"`
	Format      string      `json:"format" yaml:"format" doc:"Tile image extension" example:"png" default:"png"`
	Attribution string      `json:"attribution,omitempty" yaml:"attribution" doc:"Overlay attribution"`
	Gradient    string      `json:"gradient,omitempty" yaml:"gradient" doc:"CSS gradient used by the legend"`
	PhotoURL    string      `json:"photoUrl,omitempty" yaml:"photo_url" doc:"Card photo URL"`
}

// LayerID returns the id of the widget layer that draws this overlay.
func (v Viewpoint) LayerID() string {
	return v.Source + "-layer"
}

// Catalog is the immutable, ordered set of known viewpoints.
type Catalog struct {
	order []Viewpoint
	index map[ViewpointID]int
}

var (
	// ErrUnknownViewpoint is returned for ids that are not in the catalog.
	ErrUnknownViewpoint = errors.New("unknown viewpoint")
	// ErrEmptyCatalog is returned when a catalog has no viewpoints.
	ErrEmptyCatalog = errors.New("catalog has no viewpoints")
)

// NewCatalog validates vps and builds a catalog preserving their order.
func NewCatalog(vps []Viewpoint) (*Catalog, error) {
	if len(vps) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		order: make([]Viewpoint, 0, len(vps)),
		index: make(map[ViewpointID]int, len(vps)),
	}
	sources := make(map[string]ViewpointID, len(vps))
	for _, vp := range vps {
		switch {
		case vp.ID == "":
			return nil, errors.New("viewpoint id is required")
		case vp.ID == None:
			return nil, fmt.Errorf("viewpoint id %q is reserved", vp.ID)
		case vp.Source == "":
			return nil, fmt.Errorf("viewpoint %q: source is required", vp.ID)
		case vp.Layer == "":
			return nil, fmt.Errorf("viewpoint %q: layer is required", vp.ID)
		}
		if _, dup := c.index[vp.ID]; dup {
			return nil, fmt.Errorf("duplicate viewpoint %q", vp.ID)
		}
		if other, dup := sources[vp.Source]; dup {
			return nil, fmt.Errorf("viewpoints %q and %q share source %q", other, vp.ID, vp.Source)
		}
		if vp.Format == "" {
			vp.Format = "png"
		}
		sources[vp.Source] = vp.ID
		c.index[vp.ID] = len(c.order)
		c.order = append(c.order, vp)
	}
	return c, nil
}

// All returns the viewpoints in catalog order.
func (c *Catalog) All() []Viewpoint {
	out := make([]Viewpoint, len(c.order))
	copy(out, c.order)
	return out
}

// Get returns the viewpoint with the given id.
func (c *Catalog) Get(id ViewpointID) (Viewpoint, bool) {
	i, ok := c.index[id]
	if !ok {
		return Viewpoint{}, false
	}
	return c.order[i], true
}

// Has reports whether id is a known viewpoint.
func (c *Catalog) Has(id ViewpointID) bool {
	_, ok := c.index[id]
	return ok
}

// ByLayer returns the viewpoint whose tile set is named layer.
func (c *Catalog) ByLayer(layer string) (Viewpoint, bool) {
	for _, vp := range c.order {
		if vp.Layer == layer {
			return vp, true
		}
	}
	return Viewpoint{}, false
}

// Len returns the number of viewpoints.
func (c *Catalog) Len() int {
	return len(c.order)
}

// DefaultCatalog returns the built-in Tokyo landmark set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(tokyoViewpoints)
	if err != nil {
		panic(err)
	}
	return c
}

const photoBase = "https://pub-270c6735fbc041bdb5476aaf4093cf55.r2.dev/layer_photo"

var tokyoViewpoints = []Viewpoint{
	{
		ID:          TokyoTower,
		Label:       "東京タワー",
		Subtitle:    "港区 / 333m",
		HeightM:     333,
		Location:    orb.Point{139.7454, 35.6586},
		Source:      "tokyotower",
		Layer:       "viewshed_tokyotower_inf_3857_rgba_tiles",
		Format:      "png",
		Attribution: "Tokyo Tower Data",
		Gradient: "linear-gradient(to top, rgb(255,245,235) 0%, rgb(254,231,207) 8%, rgb(253,210,165) 18%, " +
			"rgb(253,178,113) 30%, rgb(253,146,67) 40%, rgb(243,112,27) 55%, rgb(223,80,5) 75%, rgb(177,58,3) 100%)",
		PhotoURL: photoBase + "/tokyotower.jpg",
	},
	{
		ID:          Skytree,
		Label:       "東京スカイツリー",
		Subtitle:    "墨田区 / 634m",
		HeightM:     634,
		Location:    orb.Point{139.8107, 35.7101},
		Source:      "skytree",
		Layer:       "viewshed_skytree_inf_3857_rgba_tiles",
		Format:      "png",
		Attribution: "Tokyo Skytree Data",
		Gradient: "linear-gradient(to top, rgb(255,245,240) 0%, rgb(252,190,165) 20%, rgb(251,112,80) 40%, " +
			"rgb(211,32,32) 70%, rgb(103,0,13) 100%)",
		PhotoURL: photoBase + "/tokyoskytree.webp",
	},
	{
		ID:          Docomo,
		Label:       "ドコモタワー",
		Subtitle:    "渋谷区 / 240m",
		HeightM:     240,
		Location:    orb.Point{139.6987, 35.6846},
		Source:      "docomo",
		Layer:       "viewshed_docomo_inf_3857_rgba_tiles",
		Format:      "png",
		Attribution: "Docomo Tower Data",
		Gradient: "linear-gradient(to top, rgb(252,251,253) 0%, rgb(220,219,236) 20%, rgb(163,159,203) 40%, " +
			"rgb(106,81,163) 70%, rgb(63,0,125) 100%)",
		PhotoURL: photoBase + "/docomotower.jpg",
	},
	{
		ID:          Tocho,
		Label:       "都庁",
		Subtitle:    "新宿区 / 243m",
		HeightM:     243,
		Location:    orb.Point{139.6917, 35.6896},
		Source:      "tocho",
		Layer:       "viewshed_tocho_inf_3857_rgba_tiles",
		Format:      "png",
		Attribution: "Tocho Data",
		Gradient: "linear-gradient(to top, rgb(247,251,255) 0%, rgb(200,220,240) 20%, rgb(115,178,216) 40%, " +
			"rgb(41,121,185) 70%, rgb(8,48,107) 100%)",
		PhotoURL: photoBase + "/tocho.jpg",
	},
}
