package tile

import "fmt"

// Tile identifies one tile to download for a set.
// (X, Y, Z, Type, Set) names the logical request; Hash, when non-empty, names the cached payload.
type Tile struct {
	X    int       `json:"x"`
	Y    int       `json:"y"`
	Z    int       `json:"z"`
	Set  NullSetID `json:"set"`
	Hash string    `json:"hash"`
	Type MapType   `json:"type"`
}

// CacheTile is a tile payload as stored in the cache, keyed by Hash.
type CacheTile struct {
	Hash   string    `json:"hash"`
	Img    []byte    `json:"-"`
	Format string    `json:"format"`
	Type   MapType   `json:"type"`
	Set    NullSetID `json:"set"`
}

// NewCacheTile builds a tile carrying a fetched payload.
func NewCacheTile(hash string, img []byte, format string, mapType MapType, set NullSetID) *CacheTile {
	return &CacheTile{Hash: hash, Img: img, Format: format, Type: mapType, Set: set}
}

// NewCacheTileRef builds an identity-only tile used to reference an entry without its bytes.
func NewCacheTileRef(hash string, set NullSetID) *CacheTile {
	return &CacheTile{Hash: hash, Set: set}
}

func (c *CacheTile) HasPayload() bool { return len(c.Img) > 0 }

func (c *CacheTile) Size() int64 { return int64(len(c.Img)) }

// Hash returns the content key of a provider tile: type, x, y and zoom as zero-padded decimals.
func Hash(mapType MapType, x, y, z int) string {
	return fmt.Sprintf("%04d%08d%08d%03d", int(mapType), x, y, z)
}

// ParseHash reverses Hash.
func ParseHash(hash string) (mapType MapType, x, y, z int, err error) {
	if len(hash) != 23 {
		return Invalid, 0, 0, 0, fmt.Errorf("tile hash %q: expected 23 digits", hash)
	}
	var t int
	if _, err = fmt.Sscanf(hash, "%4d%8d%8d%3d", &t, &x, &y, &z); err != nil {
		return Invalid, 0, 0, 0, fmt.Errorf("tile hash %q: %w", hash, err)
	}
	return MapType(t), x, y, z, nil
}

// ContentType maps a stored image format to a MIME type.
func ContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
