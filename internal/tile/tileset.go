package tile

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultSetName is the name of the set that collects tiles saved outside any user set.
const DefaultSetName = "Default Tile Set"

var validate = validator.New()

// TileSet is a named offline region: a bounding box over a zoom range of one map type.
//
// A *TileSet is shared between the caller that asks for it to be created and the worker that
// persists it. Only the worker calls MarkSaved; the caller reads ID and Saved after the
// completion callback has run. Always pass TileSet by pointer.
type TileSet struct {
	ID          NullSetID `json:"id"`
	Name        string    `json:"name" validate:"required,max=256"`
	MapTypeName string    `json:"mapTypeName"`
	Type        MapType   `json:"type" validate:"required"`

	TopLeftLat     float64 `json:"topleftLat" validate:"gte=-90,lte=90,gtefield=BottomRightLat"`
	TopLeftLon     float64 `json:"topleftLon" validate:"gte=-180,lte=180"`
	BottomRightLat float64 `json:"bottomRightLat" validate:"gte=-90,lte=90"`
	BottomRightLon float64 `json:"bottomRightLon" validate:"gte=-180,lte=180,gtefield=TopLeftLon"`

	MinZoom int `json:"minZoom" validate:"gte=0,lte=23"`
	MaxZoom int `json:"maxZoom" validate:"gte=0,lte=23,gtefield=MinZoom"`

	TotalTileCount  int64 `json:"totalTileCount"`
	UniqueTileCount int64 `json:"uniqueTileCount"`
	UniqueTileSize  int64 `json:"uniqueTileSize"`
	SavedTileCount  int64 `json:"savedTileCount"`
	SavedTileSize   int64 `json:"savedTileSize"`

	DefaultSet bool      `json:"defaultSet"`
	CreatedAt  time.Time `json:"createdAt"`

	saved atomic.Bool
}

// Validate checks the user-supplied fields of a set about to be created.
func (s *TileSet) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("tile set %q: %w", s.Name, err)
	}
	return nil
}

// Saved reports whether the worker has persisted this set.
func (s *TileSet) Saved() bool { return s.saved.Load() }

// MarkSaved records the persistent id and flips the saved flag.
func (s *TileSet) MarkSaved(id SetID) {
	s.ID = Assigned(id)
	s.saved.Store(true)
}

// Complete reports whether every tile of the set has been downloaded.
func (s *TileSet) Complete() bool {
	return s.TotalTileCount > 0 && s.SavedTileCount >= s.TotalTileCount
}

// PendingTiles is the number of tiles not yet stored for this set.
func (s *TileSet) PendingTiles() int64 {
	if s.SavedTileCount >= s.TotalTileCount {
		return 0
	}
	return s.TotalTileCount - s.SavedTileCount
}

func (s *TileSet) MarshalJSON() ([]byte, error) {
	type plain TileSet
	return json.Marshal(struct {
		*plain
		Saved    bool `json:"saved"`
		Complete bool `json:"complete"`
	}{(*plain)(s), s.Saved(), s.Complete()})
}
