package service

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// catalogFile is the on-disk YAML layout of a viewpoint catalog.
type catalogFile struct {
	Viewpoints []viewshed.Viewpoint `yaml:"viewpoints"`
}

// LoadCatalog reads a YAML viewpoint catalog. An empty path yields the
// built-in Tokyo catalog.
func LoadCatalog(path string) (*viewshed.Catalog, error) {
	if path == "" {
		return viewshed.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML viewpoint catalog.
func ParseCatalog(data []byte) (*viewshed.Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return viewshed.NewCatalog(f.Viewpoints)
}

// MarshalCatalog encodes c in the layout LoadCatalog reads.
func MarshalCatalog(c *viewshed.Catalog) ([]byte, error) {
	return yaml.Marshal(catalogFile{Viewpoints: c.All()})
}

// ViewpointService exposes the catalog together with the tile URLs the
// browser loads overlays from.
type ViewpointService struct {
	catalog  *viewshed.Catalog
	tileBase string
}

// NewViewpointService creates a viewpoint service. tileBase is the URL
// prefix tile sets are served under.
func NewViewpointService(catalog *viewshed.Catalog, tileBase string) *ViewpointService {
	return &ViewpointService{
		catalog:  catalog,
		tileBase: strings.TrimSuffix(tileBase, "/"),
	}
}

// Catalog returns the underlying catalog.
func (s *ViewpointService) Catalog() *viewshed.Catalog {
	return s.catalog
}

// List returns all viewpoints in catalog order.
func (s *ViewpointService) List() []viewshed.Viewpoint {
	return s.catalog.All()
}

// Get returns a viewpoint by ID.
func (s *ViewpointService) Get(id string) (viewshed.Viewpoint, bool) {
	return s.catalog.Get(viewshed.ViewpointID(id))
}

// TileURL returns the XYZ template the widget requests vp's overlay from.
func (s *ViewpointService) TileURL(vp viewshed.Viewpoint) string {
	return fmt.Sprintf("%s/%s/{z}/{x}/{y}.%s", s.tileBase, vp.Layer, vp.Format)
}

// FeatureCollection returns the landmarks as GeoJSON points.
func (s *ViewpointService) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, vp := range s.catalog.All() {
		f := geojson.NewFeature(vp.Location)
		f.ID = string(vp.ID)
		f.Properties["label"] = vp.Label
		f.Properties["subtitle"] = vp.Subtitle
		f.Properties["heightM"] = vp.HeightM
		f.Properties["layer"] = vp.Layer
		f.Properties["tiles"] = s.TileURL(vp)
		fc.Append(f)
	}
	return fc
}
