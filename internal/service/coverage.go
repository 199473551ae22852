package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
)

// ErrNotIndexed means the tile set has no rows in the coverage index.
var ErrNotIndexed = errors.New("tile set not indexed")

const coverageSchema = `CREATE TABLE IF NOT EXISTS viewshed_tiles (
	layer VARCHAR NOT NULL,
	z INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	bytes BIGINT NOT NULL
)`

// CoverageService indexes which tiles every tile set holds in DuckDB and
// answers coverage questions from the index.
type CoverageService struct {
	db    *sql.DB
	tiles *TileService
	log   zerolog.Logger
}

// NewCoverageService creates a coverage service. db may be nil, in which
// case the service reports itself unavailable.
func NewCoverageService(db *sql.DB, tiles *TileService, log zerolog.Logger) *CoverageService {
	return &CoverageService{
		db:    db,
		tiles: tiles,
		log:   log.With().Str("component", "coverage").Logger(),
	}
}

// Available reports whether a database is attached.
func (s *CoverageService) Available() bool {
	return s.db != nil
}

// Index rebuilds the index for every tile set and returns the number of
// tiles recorded.
func (s *CoverageService) Index(ctx context.Context) (int, error) {
	sources, err := s.tiles.List()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, src := range sources {
		n, err := s.IndexLayer(ctx, src.Name)
		if err != nil {
			return total, fmt.Errorf("indexing %s: %w", src.Name, err)
		}
		total += n
	}
	return total, nil
}

// IndexLayer replaces the index rows of one tile set.
func (s *CoverageService) IndexLayer(ctx context.Context, layer string) (int, error) {
	if !s.Available() {
		return 0, errors.New("database not available")
	}
	if _, err := s.db.ExecContext(ctx, coverageSchema); err != nil {
		return 0, fmt.Errorf("creating coverage table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM viewshed_tiles WHERE layer = ?", layer); err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO viewshed_tiles (layer, z, x, y, bytes) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	err = s.tiles.Walk(layer, func(t maptile.Tile, size int64) error {
		if _, err := stmt.ExecContext(ctx, layer, int(t.Z), int(t.X), int(t.Y), size); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.log.Info().Str("layer", layer).Int("tiles", n).Msg("indexed tile set")
	return n, nil
}

// Coverage summarises the indexed tiles of layer.
func (s *CoverageService) Coverage(ctx context.Context, layer string) (Coverage, error) {
	if !s.Available() {
		return Coverage{}, errors.New("database not available")
	}
	if _, err := s.db.ExecContext(ctx, coverageSchema); err != nil {
		return Coverage{}, fmt.Errorf("creating coverage table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT z, count(*), CAST(sum(bytes) AS BIGINT),
		min(x), max(x), min(y), max(y)
		FROM viewshed_tiles WHERE layer = ? GROUP BY z ORDER BY z`, layer)
	if err != nil {
		return Coverage{}, err
	}
	defer rows.Close()

	cov := Coverage{Layer: layer, Zooms: []ZoomCoverage{}}
	for rows.Next() {
		var (
			zc                     ZoomCoverage
			minX, maxX, minY, maxY int64
		)
		if err := rows.Scan(&zc.Zoom, &zc.Tiles, &zc.Bytes, &minX, &maxX, &minY, &maxY); err != nil {
			return Coverage{}, err
		}
		zc.Bounds = tileRangeBounds(maptile.Zoom(zc.Zoom), uint32(minX), uint32(maxX), uint32(minY), uint32(maxY))
		cov.Zooms = append(cov.Zooms, zc)
	}
	if err := rows.Err(); err != nil {
		return Coverage{}, err
	}
	if len(cov.Zooms) == 0 {
		return Coverage{}, fmt.Errorf("%w: %s", ErrNotIndexed, layer)
	}

	for _, zc := range cov.Zooms {
		cov.Tiles += zc.Tiles
		cov.Bytes += zc.Bytes
	}
	cov.MinZoom = cov.Zooms[0].Zoom
	last := cov.Zooms[len(cov.Zooms)-1]
	cov.MaxZoom = last.Zoom
	cov.Bounds = last.Bounds
	return cov, nil
}

// tileRangeBounds returns the lon/lat extent of a tile range as
// [west, south, east, north].
func tileRangeBounds(z maptile.Zoom, minX, maxX, minY, maxY uint32) [4]float64 {
	b := maptile.New(minX, minY, z).Bound().Union(maptile.New(maxX, maxY, z).Bound())
	return boundArray(b)
}

func boundArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}
