package geo

import (
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in kilometers.
// This is the only distance implementation in the codebase; the evaluator and
// every report surface must go through it.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Offset shifts a coordinate pair by the given deltas in degrees.
func Offset(lat, lng, dLat, dLng float64) (float64, float64) {
	return lat + dLat, lng + dLng
}

// RoundKm rounds a distance to two decimals, the precision shown on reports.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// FormatLatLng renders a coordinate pair as "lat,lng" with 7-decimal precision,
// the format stored in photo metadata.
func FormatLatLng(lat, lng float64) string {
	return fmt.Sprintf("%.7f,%.7f", lat, lng)
}
