package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewshed/internal/pmtiles"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

const towerLayer = "viewshed_tokyotower_inf_3857_rgba_tiles"

func newOptions(t *testing.T) *Options {
	t.Helper()
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "tiles", towerLayer, "13", "7276")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3226.png"), []byte("\x89PNG\r\n\x1a\nfake"), 0644))
	return &Options{DataDir: dataDir, BasePath: "/", LogLevel: "error"}
}

func TestPackTiles(t *testing.T) {
	opts := newOptions(t)

	path, n, err := packTiles(opts, towerLayer, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, filepath.Join(opts.DataDir, "tiles", towerLayer+".pmtiles"), path)

	vp, ok := viewshed.DefaultCatalog().ByLayer(towerLayer)
	require.True(t, ok)
	r, err := pmtiles.Open(path)
	require.NoError(t, err)
	defer r.Close()
	md, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, vp.Attribution, md["attribution"])
}

func TestPackTiles_BadCatalog(t *testing.T) {
	opts := newOptions(t)
	opts.Catalog = filepath.Join(t.TempDir(), "missing.yaml")

	_, _, err := packTiles(opts, towerLayer, "", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading catalog")
	_, statErr := os.Stat(filepath.Join(opts.DataDir, "tiles", towerLayer+".pmtiles"))
	assert.True(t, os.IsNotExist(statErr), "nothing is packed")
}

func TestPackTiles_UnknownLayer(t *testing.T) {
	opts := newOptions(t)

	_, _, err := packTiles(opts, "nope", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestIndexTiles(t *testing.T) {
	opts := newOptions(t)

	n, err := indexTiles(context.Background(), opts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExportSpec(t *testing.T) {
	opts := newOptions(t)

	out, err := exportSpec(opts, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"/api/v1/viewer/stream"`)

	out, err = exportSpec(opts, true)
	require.NoError(t, err)
	assert.Contains(t, string(out), "/api/v1/viewer/stream:")
}
