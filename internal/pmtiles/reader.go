package pmtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxDirectoryDepth bounds leaf directory recursion.
const maxDirectoryDepth = 4

// ErrNotFound is returned when an archive holds no tile at the requested
// coordinates.
var ErrNotFound = errors.New("tile not found")

// Reader serves tiles out of a PMTiles v3 archive. It is safe for
// concurrent use when the underlying io.ReaderAt is.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	header HeaderV3
	root   []EntryV3
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header and root directory from ra.
func NewReader(ra io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := DeserializeHeader(buf)
	if err != nil {
		return nil, err
	}
	if header.SpecVersion != 3 {
		return nil, fmt.Errorf("unsupported pmtiles version %d", header.SpecVersion)
	}

	r := &Reader{r: ra, header: header}
	r.root, err = r.directory(header.RootOffset, header.RootLength)
	if err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}
	return r, nil
}

// Header returns the archive header.
func (r *Reader) Header() HeaderV3 {
	return r.header
}

// Tile returns the stored bytes for a tile. The bytes carry the archive's
// TileCompression.
func (r *Reader) Tile(z uint8, x, y uint32) ([]byte, error) {
	if z < r.header.MinZoom || z > r.header.MaxZoom {
		return nil, ErrNotFound
	}
	id := ZxyToID(z, x, y)
	dir := r.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		entry, ok := FindTile(dir, id)
		if !ok {
			return nil, ErrNotFound
		}
		if entry.RunLength > 0 {
			return r.read(r.header.TileDataOffset+entry.Offset, uint64(entry.Length))
		}
		leaf, err := r.directory(r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length))
		if err != nil {
			return nil, err
		}
		dir = leaf
	}
	return nil, ErrNotFound
}

// Walk calls fn for every addressed tile, expanding runs, in tile id order.
func (r *Reader) Walk(fn func(z uint8, x, y uint32, length uint32) error) error {
	return r.walk(r.root, 0, fn)
}

func (r *Reader) walk(dir []EntryV3, depth int, fn func(z uint8, x, y uint32, length uint32) error) error {
	if depth >= maxDirectoryDepth {
		return errors.New("directory nesting too deep")
	}
	for _, e := range dir {
		if e.RunLength == 0 {
			leaf, err := r.directory(r.header.LeafDirectoryOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return err
			}
			if err := r.walk(leaf, depth+1, fn); err != nil {
				return err
			}
			continue
		}
		for i := uint64(0); i < uint64(e.RunLength); i++ {
			z, x, y := IDToZxy(e.TileID + i)
			if err := fn(z, x, y, e.Length); err != nil {
				return err
			}
		}
	}
	return nil
}

// Metadata returns the archive's JSON metadata.
func (r *Reader) Metadata() (map[string]any, error) {
	raw, err := r.read(r.header.MetadataOffset, r.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	data, err := r.decompress(raw)
	if err != nil {
		return nil, err
	}
	var md map[string]any
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}

// Close releases the underlying file when the reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) directory(offset, length uint64) ([]EntryV3, error) {
	raw, err := r.read(offset, length)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(raw, r.header.InternalCompression)
}

func (r *Reader) read(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.r.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) decompress(raw []byte) ([]byte, error) {
	return decompress(raw, r.header.InternalCompression)
}
