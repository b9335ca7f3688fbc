package tile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MapType identifies the map source a tile was fetched from.
// Codes are persisted and part of the tile hash, so they must never be renumbered.
type MapType int

const (
	Invalid MapType = iota
	GoogleStreet
	GoogleSatellite
	GoogleTerrain
	GoogleHybrid
	BingRoad
	BingSatellite
	BingHybrid
	OpenStreetMap
	EsriWorldStreet
	EsriWorldSatellite
	EsriTerrain
	MapboxStreets
	MapboxSatellite
	Elevation
)

var mapTypeNames = map[MapType]string{
	Invalid:            "Invalid",
	GoogleStreet:       "Google Street Map",
	GoogleSatellite:    "Google Satellite Map",
	GoogleTerrain:      "Google Terrain Map",
	GoogleHybrid:       "Google Hybrid Map",
	BingRoad:           "Bing Street Map",
	BingSatellite:      "Bing Satellite Map",
	BingHybrid:         "Bing Hybrid Map",
	OpenStreetMap:      "Open Street Map",
	EsriWorldStreet:    "Esri World Street Map",
	EsriWorldSatellite: "Esri World Satellite Map",
	EsriTerrain:        "Esri Terrain Map",
	MapboxStreets:      "Mapbox Streets Map",
	MapboxSatellite:    "Mapbox Satellite Map",
	Elevation:          "Elevation Data",
}

func (m MapType) String() string {
	if name, ok := mapTypeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MapType(%d)", int(m))
}

// Valid reports whether m is a known, non-Invalid map type.
func (m MapType) Valid() bool {
	_, ok := mapTypeNames[m]
	return ok && m != Invalid
}

// ParseMapType resolves a display name (case-insensitive) or numeric code.
func ParseMapType(s string) (MapType, error) {
	s = strings.TrimSpace(s)
	for m, name := range mapTypeNames {
		if strings.EqualFold(name, s) && m != Invalid {
			return m, nil
		}
	}
	var code int
	if _, err := fmt.Sscanf(s, "%d", &code); err == nil && MapType(code).Valid() {
		return MapType(code), nil
	}
	return Invalid, fmt.Errorf("unknown map type %q", s)
}

func (m MapType) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either the display name or the numeric code.
func (m *MapType) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		if !MapType(code).Valid() {
			return fmt.Errorf("unknown map type code %d", code)
		}
		*m = MapType(code)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("map type must be a name or code: %w", err)
	}
	parsed, err := ParseMapType(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
