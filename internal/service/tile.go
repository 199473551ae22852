package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-viewshed/internal/pmtiles"
)

var (
	// ErrTileNotFound means the tile set has no tile at the coordinates.
	ErrTileNotFound = errors.New("tile not found")
	// ErrUnknownTileSet means no directory or archive has that name.
	ErrUnknownTileSet = errors.New("unknown tile set")
	// ErrInvalidTileSet means the name cannot be a tile set.
	ErrInvalidTileSet = errors.New("invalid tile set name")
)

// TileService serves tiles from {tilesDir}/{layer}/{z}/{x}/{y}.{ext}
// directory trees or from {tilesDir}/{layer}.pmtiles archives. A directory
// wins when both exist.
type TileService struct {
	tilesDir string

	mu       sync.Mutex
	archives map[string]*pmtiles.Reader
}

// NewTileService creates a new tile service.
func NewTileService(dataDir string) *TileService {
	return &TileService{
		tilesDir: filepath.Join(dataDir, "tiles"),
		archives: make(map[string]*pmtiles.Reader),
	}
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// List returns all available tile sets.
func (s *TileService) List() ([]TileSource, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileSource{}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	sources := []TileSource{}
	for _, entry := range entries {
		if entry.IsDir() {
			size, format := dirStats(filepath.Join(s.tilesDir, entry.Name()))
			sources = append(sources, TileSource{
				Name:   entry.Name(),
				Kind:   KindDirectory,
				Size:   formatSize(size),
				Format: format,
			})
			seen[entry.Name()] = true
		}
	}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".pmtiles")
		if entry.IsDir() || !ok || seen[name] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		src := TileSource{Name: name, Kind: KindPMTiles, Size: formatSize(info.Size())}
		if r, err := s.archive(name); err == nil {
			src.Format = r.Header().TileType.Ext()
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

// Tile returns one tile of layer. ext selects the file in a directory tree;
// archives carry their own type.
func (s *TileService) Tile(layer string, z, x, y int, ext string) (TileData, error) {
	if err := validName(layer); err != nil {
		return TileData{}, err
	}
	if z < 0 || z > 30 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return TileData{}, ErrTileNotFound
	}

	if s.isDir(layer) {
		if err := validName(ext); err != nil {
			return TileData{}, err
		}
		path := filepath.Join(s.tilesDir, layer, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+"."+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return TileData{}, ErrTileNotFound
			}
			return TileData{}, err
		}
		return TileData{Bytes: data, ContentType: pmtiles.TileTypeFor(ext).ContentType()}, nil
	}

	r, err := s.archive(layer)
	if err != nil {
		return TileData{}, err
	}
	data, err := r.Tile(uint8(z), uint32(x), uint32(y))
	if err != nil {
		if errors.Is(err, pmtiles.ErrNotFound) {
			return TileData{}, ErrTileNotFound
		}
		return TileData{}, err
	}
	h := r.Header()
	td := TileData{Bytes: data, ContentType: h.TileType.ContentType()}
	if h.TileCompression == pmtiles.Gzip {
		td.Encoding = "gzip"
	}
	return td, nil
}

// Walk calls fn for every tile of layer with its stored size.
func (s *TileService) Walk(layer string, fn func(t maptile.Tile, size int64) error) error {
	if err := validName(layer); err != nil {
		return err
	}
	if s.isDir(layer) {
		return s.walkDir(layer, fn)
	}
	r, err := s.archive(layer)
	if err != nil {
		return err
	}
	return r.Walk(func(z uint8, x, y uint32, length uint32) error {
		return fn(maptile.New(x, y, maptile.Zoom(z)), int64(length))
	})
}

// ReadTree loads every tile of a directory tile set into memory, keyed by
// tile. It is the input for packing an archive.
func (s *TileService) ReadTree(layer string) (map[maptile.Tile][]byte, string, error) {
	if err := validName(layer); err != nil {
		return nil, "", err
	}
	if !s.isDir(layer) {
		return nil, "", fmt.Errorf("%w: %s is not a directory tile set", ErrUnknownTileSet, layer)
	}
	tiles := make(map[maptile.Tile][]byte)
	format := ""
	err := s.walkFiles(layer, func(t maptile.Tile, path, ext string) error {
		if format == "" {
			format = ext
		} else if ext != format {
			return fmt.Errorf("%s: mixed tile formats %s and %s", layer, format, ext)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tiles[t] = data
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return tiles, format, nil
}

// Close releases open archives.
func (s *TileService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, r := range s.archives {
		errs = append(errs, r.Close())
		delete(s.archives, name)
	}
	return errors.Join(errs...)
}

func (s *TileService) isDir(layer string) bool {
	info, err := os.Stat(filepath.Join(s.tilesDir, layer))
	return err == nil && info.IsDir()
}

func (s *TileService) archive(layer string) (*pmtiles.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.archives[layer]; ok {
		return r, nil
	}
	r, err := pmtiles.Open(filepath.Join(s.tilesDir, layer+".pmtiles"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTileSet, layer)
		}
		return nil, err
	}
	s.archives[layer] = r
	return r, nil
}

func (s *TileService) walkDir(layer string, fn func(t maptile.Tile, size int64) error) error {
	return s.walkFiles(layer, func(t maptile.Tile, path, _ string) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		return fn(t, info.Size())
	})
}

// walkFiles visits files laid out as {z}/{x}/{y}.{ext}, skipping anything
// else.
func (s *TileService) walkFiles(layer string, fn func(t maptile.Tile, path, ext string) error) error {
	root := filepath.Join(s.tilesDir, layer)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		yStr, ext, ok := strings.Cut(parts[2], ".")
		if !ok {
			return nil
		}
		z, errZ := strconv.Atoi(parts[0])
		x, errX := strconv.Atoi(parts[1])
		y, errY := strconv.Atoi(yStr)
		if errZ != nil || errX != nil || errY != nil {
			return nil
		}
		return fn(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), path, ext)
	})
}

func dirStats(dir string) (int64, string) {
	var size int64
	format := ""
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(path), ".")
		}
		return nil
	})
	return size, format
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidTileSet, name)
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
