package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeblew999/plat-viewshed/internal/pmtiles"
)

// PackOptions configures Pack.
type PackOptions struct {
	// Out is the archive path; {tilesDir}/{layer}.pmtiles when empty.
	Out         string
	Attribution string
}

// Pack writes the directory tile set layer into a PMTiles archive and
// returns the archive path and the number of tiles written.
func (s *TileService) Pack(layer string, opts PackOptions) (string, int, error) {
	tiles, ext, err := s.ReadTree(layer)
	if err != nil {
		return "", 0, err
	}
	if len(tiles) == 0 {
		return "", 0, fmt.Errorf("%s: no tiles to pack", layer)
	}
	tileType := pmtiles.TileTypeFor(ext)
	if tileType == pmtiles.UnknownTileType {
		return "", 0, fmt.Errorf("%s: unsupported tile format %q", layer, ext)
	}

	out := opts.Out
	if out == "" {
		out = filepath.Join(s.tilesDir, layer+".pmtiles")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", 0, err
	}

	// Write next to the target and rename so readers never see a partial
	// archive.
	tmp, err := os.CreateTemp(filepath.Dir(out), ".pack-*")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	err = pmtiles.WriteArchive(tmp, tiles, pmtiles.ArchiveConfig{
		Name:        layer,
		Attribution: opts.Attribution,
		TileType:    tileType,
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("writing %s: %w", out, err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return "", 0, err
	}

	s.mu.Lock()
	if r, ok := s.archives[layer]; ok {
		r.Close()
		delete(s.archives, layer)
	}
	s.mu.Unlock()
	return out, len(tiles), nil
}
