// Package geo provides the static location reference table and
// great-circle distance calculation.
package geo

import "math"

// earthRadiusKm is the mean Earth radius used for haversine.
const earthRadiusKm = 6371.0

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// locations maps a location code to its reference coordinates.
var locations = map[string]Coordinates{
	"NY": {40.7128, -74.0060},
	"CA": {36.7783, -119.4179},
	"TX": {31.9686, -99.9018},
	"FL": {27.6648, -81.5158},
	"WA": {47.7511, -120.7401},
}

// Lookup returns the coordinates for a location code.
func Lookup(code string) (Coordinates, bool) {
	c, ok := locations[code]
	return c, ok
}

// Known reports whether a location code is in the reference table.
func Known(code string) bool {
	_, ok := locations[code]
	return ok
}

// DistanceKm returns the haversine great-circle distance in
// kilometers between two location codes. Returns 0.0 when either
// code is absent from the reference table.
func DistanceKm(a, b string) float64 {
	ca, ok := locations[a]
	if !ok {
		return 0.0
	}
	cb, ok := locations[b]
	if !ok {
		return 0.0
	}

	dLat := radians(cb.Lat - ca.Lat)
	dLon := radians(cb.Lon - ca.Lon)

	x := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(ca.Lat))*math.Cos(radians(cb.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(x), math.Sqrt(1-x))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
