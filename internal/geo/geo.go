// Package geo normalizes the loosely structured location payloads carried
// by device data streams into canonical coordinates.
package geo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Coordinates is a WGS84 position extracted from a stream value.
type Coordinates struct {
	Lat float64
	Lon float64
}

// ParseValue extracts coordinates from a raw stream value. Devices report
// positions in several shapes, tried in order:
//
//   - a JSON object with latitude/longitude fields ({"lat":..,"lon":..},
//     with "latitude", "longitude" and "lng" accepted as aliases)
//   - a JSON string containing such an object
//   - a JSON string of the form "lat,lon"
//
// Field values may be numbers or numeric strings. Any other shape yields
// ok=false; callers treat that as a skippable point, not an error.
func ParseValue(raw json.RawMessage) (Coordinates, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Coordinates{}, false
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Coordinates{}, false
		}
		return fromObject(obj)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Coordinates{}, false
		}
		return parseString(s)
	default:
		return Coordinates{}, false
	}
}

func parseString(s string) (Coordinates, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return fromObject(obj)
		}
		return Coordinates{}, false
	}

	latPart, lonPart, found := strings.Cut(s, ",")
	if !found {
		return Coordinates{}, false
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(latPart), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(lonPart), 64)
	if errLat != nil || errLon != nil {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lon: lon}, true
}

func fromObject(obj map[string]any) (Coordinates, bool) {
	lat, ok := coerceField(obj, "lat", "latitude")
	if !ok {
		return Coordinates{}, false
	}
	lon, ok := coerceField(obj, "lon", "lng", "longitude")
	if !ok {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lon: lon}, true
}

// coerceField returns the first of the candidate keys present in the object,
// coerced to float64. A present key whose value cannot be coerced rejects the
// whole object; later aliases are not consulted.
func coerceField(obj map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, present := obj[key]
		if !present {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return 0, false
			}
			return f, true
		default:
			return 0, false
		}
	}
	return 0, false
}
