// README: Pure geographic helpers; great-circle distances and s2 conversions.
package location

import (
	"github.com/golang/geo/s2"

	"ridesim/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between a and b.
func DistanceKm(a, b types.Point) float64 {
	return toLatLng(a).Distance(toLatLng(b)).Radians() * earthRadiusKm
}

func toLatLng(p types.Point) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

func toS2Point(p types.Point) s2.Point {
	return s2.PointFromLatLng(toLatLng(p))
}
