package tile

import "math"

// MaxZoom is the highest zoom level a tile set may request.
const MaxZoom = 23

// LonToTileX converts a longitude to the slippy-map tile column at zoom z.
func LonToTileX(lon float64, z int) int {
	n := float64(int(1) << uint(z))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	return clampTile(x, z)
}

// LatToTileY converts a latitude to the slippy-map tile row at zoom z.
func LatToTileY(lat float64, z int) int {
	n := float64(int(1) << uint(z))
	rad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(rad)+1.0/math.Cos(rad))/math.Pi) / 2.0 * n))
	return clampTile(y, z)
}

func clampTile(v, z int) int {
	limit := (1 << uint(z)) - 1
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// Range is an inclusive block of tiles at one zoom level.
type Range struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

func (r Range) Count() int64 {
	return int64(r.MaxX-r.MinX+1) * int64(r.MaxY-r.MinY+1)
}

// TileRange returns the tiles covering the set's bounding box at zoom z.
func TileRange(set *TileSet, z int) Range {
	return Range{
		Z:    z,
		MinX: LonToTileX(set.TopLeftLon, z),
		MaxX: LonToTileX(set.BottomRightLon, z),
		MinY: LatToTileY(set.TopLeftLat, z),
		MaxY: LatToTileY(set.BottomRightLat, z),
	}
}

// TileCount totals the tiles of the set's bounding box over all its zoom levels.
func TileCount(set *TileSet) int64 {
	var total int64
	for z := set.MinZoom; z <= set.MaxZoom; z++ {
		total += TileRange(set, z).Count()
	}
	return total
}
