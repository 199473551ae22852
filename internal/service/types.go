// Package service contains the viewer's data services: the viewpoint
// catalog, tile sources and the coverage index.
package service

// TileSource is one tile set available under the tiles directory.
type TileSource struct {
	Name   string `json:"name" doc:"Tile set name" example:"viewshed_tokyotower_inf_3857_rgba_tiles"`
	Kind   string `json:"kind" enum:"directory,pmtiles" doc:"Storage kind" example:"directory"`
	Size   string `json:"size" doc:"Human-readable size on disk" example:"5.4 MB"`
	Format string `json:"format,omitempty" doc:"Tile image extension" example:"png"`
}

// Tile kinds.
const (
	KindDirectory = "directory"
	KindPMTiles   = "pmtiles"
)

// TileData is one tile ready to be written to a response.
type TileData struct {
	Bytes       []byte
	ContentType string
	// Encoding is the Content-Encoding of Bytes, empty when uncompressed.
	Encoding string
}

// ZoomCoverage counts the tiles of one zoom level.
type ZoomCoverage struct {
	Zoom   int        `json:"zoom" doc:"Zoom level"`
	Tiles  int64      `json:"tiles" doc:"Number of tiles"`
	Bytes  int64      `json:"bytes" doc:"Total tile size in bytes"`
	Bounds [4]float64 `json:"bounds" doc:"Covered area as [west, south, east, north]"`
}

// Coverage summarises the indexed tiles of one tile set.
type Coverage struct {
	Layer   string         `json:"layer" doc:"Tile set name"`
	Tiles   int64          `json:"tiles" doc:"Number of tiles across all zooms"`
	Bytes   int64          `json:"bytes" doc:"Total tile size in bytes"`
	MinZoom int            `json:"minZoom" doc:"Lowest indexed zoom"`
	MaxZoom int            `json:"maxZoom" doc:"Highest indexed zoom"`
	Bounds  [4]float64     `json:"bounds" doc:"Covered area at the highest zoom as [west, south, east, north]"`
	Zooms   []ZoomCoverage `json:"zooms" doc:"Per-zoom breakdown"`
}
