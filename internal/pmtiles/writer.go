package pmtiles

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ArchiveConfig describes the archive being written.
type ArchiveConfig struct {
	Name        string
	Attribution string
	TileType    TileType
	// TileCompression is the compression the tile bytes already carry.
	// Raster tiles are stored as-is.
	TileCompression Compression
}

// TileTypeFor maps a tile file extension to its PMTiles tile type.
func TileTypeFor(ext string) TileType {
	switch ext {
	case "png":
		return Png
	case "jpg", "jpeg":
		return Jpeg
	case "webp":
		return Webp
	case "avif":
		return Avif
	case "pbf", "mvt":
		return Mvt
	default:
		return UnknownTileType
	}
}

// Ext is the conventional file extension for a tile type.
func (t TileType) Ext() string {
	switch t {
	case Png:
		return "png"
	case Jpeg:
		return "jpg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	case Mvt:
		return "pbf"
	default:
		return ""
	}
}

// ContentType is the HTTP media type of a tile type.
func (t TileType) ContentType() string {
	switch t {
	case Png:
		return "image/png"
	case Jpeg:
		return "image/jpeg"
	case Webp:
		return "image/webp"
	case Avif:
		return "image/avif"
	case Mvt:
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

// WriteArchive writes tiles as a clustered single-directory PMTiles v3
// archive. Identical consecutive tiles are stored once as a run.
func WriteArchive(w io.Writer, tiles map[maptile.Tile][]byte, config ArchiveConfig) error {
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles to write")
	}

	type tileEntry struct {
		id   uint64
		tile maptile.Tile
		data []byte
	}
	tileEntries := make([]tileEntry, 0, len(tiles))
	for t, data := range tiles {
		id := ZxyToID(uint8(t.Z), t.X, t.Y)
		tileEntries = append(tileEntries, tileEntry{id: id, tile: t, data: data})
	}
	sort.Slice(tileEntries, func(i, j int) bool {
		return tileEntries[i].id < tileEntries[j].id
	})

	var entries []EntryV3
	var tileData bytes.Buffer
	currentOffset := uint64(0)
	minZoom, maxZoom := maptile.Zoom(255), maptile.Zoom(0)
	bound := tileEntries[0].tile.Bound()

	for i, te := range tileEntries {
		minZoom = min(minZoom, te.tile.Z)
		maxZoom = max(maxZoom, te.tile.Z)
		bound = bound.Union(te.tile.Bound())

		if i > 0 {
			last := &entries[len(entries)-1]
			prev := tileEntries[i-1]
			if te.id == last.TileID+uint64(last.RunLength) && bytes.Equal(te.data, prev.data) {
				last.RunLength++
				continue
			}
		}
		entries = append(entries, EntryV3{
			TileID:    te.id,
			Offset:    currentOffset,
			Length:    uint32(len(te.data)),
			RunLength: 1,
		})
		tileData.Write(te.data)
		currentOffset += uint64(len(te.data))
	}

	metadata := map[string]any{
		"name":    config.Name,
		"format":  config.TileType.Ext(),
		"minzoom": int(minZoom),
		"maxzoom": int(maxZoom),
	}
	if config.Attribution != "" {
		metadata["attribution"] = config.Attribution
	}
	metadataBytes, err := SerializeMetadata(metadata, Gzip)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}

	rootDirBytes, err := SerializeEntries(entries, Gzip)
	if err != nil {
		return fmt.Errorf("serializing directory: %w", err)
	}

	rootDirOffset := uint64(HeaderV3LenBytes)
	rootDirLen := uint64(len(rootDirBytes))
	metadataOffset := rootDirOffset + rootDirLen
	metadataLen := uint64(len(metadataBytes))
	tileDataOffset := metadataOffset + metadataLen

	tileCompression := config.TileCompression
	if tileCompression == UnknownCompression {
		tileCompression = NoCompression
	}
	center := bound.Center()

	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootDirOffset,
		RootLength:          rootDirLen,
		MetadataOffset:      metadataOffset,
		MetadataLength:      metadataLen,
		TileDataOffset:      tileDataOffset,
		TileDataLength:      uint64(tileData.Len()),
		AddressedTilesCount: uint64(len(tileEntries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     tileCompression,
		TileType:            config.TileType,
		MinZoom:             uint8(minZoom),
		MaxZoom:             uint8(maxZoom),
		MinLonE7:            e7(bound.Min.Lon()),
		MinLatE7:            e7(bound.Min.Lat()),
		MaxLonE7:            e7(bound.Max.Lon()),
		MaxLatE7:            e7(bound.Max.Lat()),
		CenterZoom:          uint8(minZoom),
		CenterLonE7:         e7(center.Lon()),
		CenterLatE7:         e7(center.Lat()),
	}

	for _, part := range [][]byte{SerializeHeader(header), rootDirBytes, metadataBytes, tileData.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func e7(deg float64) int32 {
	return int32(deg * 1e7)
}

func fromE7(v int32) float64 {
	return float64(v) / 1e7
}

// Bound returns the archive's geographic bounds from the header.
func (h HeaderV3) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{fromE7(h.MinLonE7), fromE7(h.MinLatE7)},
		Max: orb.Point{fromE7(h.MaxLonE7), fromE7(h.MaxLatE7)},
	}
}
