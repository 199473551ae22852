package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewshed/internal/db"
)

func TestCoverageService(t *testing.T) {
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	defer conn.Close()

	tiles := NewTileService(t.TempDir())
	defer tiles.Close()
	writeTree(t, tiles.TilesDir(), towerLayer, sampleTiles)
	writeArchive(t, tiles.TilesDir(), "skytree", sampleTiles)

	s := NewCoverageService(conn, tiles, zerolog.Nop())
	require.True(t, s.Available())

	ctx := context.Background()
	n, err := s.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	// Re-indexing replaces rows instead of duplicating them.
	n, err = s.IndexLayer(ctx, towerLayer)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cov, err := s.Coverage(ctx, towerLayer)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cov.Tiles)
	assert.Equal(t, int64(13), cov.Bytes)
	assert.Equal(t, 13, cov.MinZoom)
	assert.Equal(t, 14, cov.MaxZoom)
	require.Len(t, cov.Zooms, 2)
	assert.Equal(t, int64(1), cov.Zooms[0].Tiles)
	assert.Equal(t, int64(2), cov.Zooms[1].Tiles)

	west, south, east, north := cov.Bounds[0], cov.Bounds[1], cov.Bounds[2], cov.Bounds[3]
	assert.Less(t, west, east)
	assert.Less(t, south, north)
	assert.InDelta(t, 139.75, (west+east)/2, 0.05)
	assert.InDelta(t, 35.69, (south+north)/2, 0.05)

	_, err = s.Coverage(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestCoverageService_Unavailable(t *testing.T) {
	s := NewCoverageService(nil, NewTileService(t.TempDir()), zerolog.Nop())
	assert.False(t, s.Available())
	_, err := s.Coverage(context.Background(), towerLayer)
	assert.Error(t, err)
}
