// README: Region polygon that bounds every sampled location.
package location

import (
	"github.com/golang/geo/s2"

	"ridesim/internal/types"
)

// Region is a simple polygon on the sphere.
type Region struct {
	Name string
	loop *s2.Loop
	lo   types.Point
	hi   types.Point
}

// NewRegion builds a region from its outline. Vertex orientation does not
// matter; the smaller of the two areas is taken as the interior.
func NewRegion(name string, outline []types.Point) *Region {
	pts := make([]s2.Point, len(outline))
	for i, p := range outline {
		pts[i] = toS2Point(p)
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	bound := loop.RectBound()
	return &Region{
		Name: name,
		loop: loop,
		lo:   types.Point{Lat: bound.Lo().Lat.Degrees(), Lng: bound.Lo().Lng.Degrees()},
		hi:   types.Point{Lat: bound.Hi().Lat.Degrees(), Lng: bound.Hi().Lng.Degrees()},
	}
}

func (r *Region) Contains(p types.Point) bool {
	return r.loop.ContainsPoint(toS2Point(p))
}

// Bounds returns the south-west and north-east corners of the bounding box.
func (r *Region) Bounds() (types.Point, types.Point) {
	return r.lo, r.hi
}

// Belgium is a coarse outline of the country the synthetic population lives in.
func Belgium() *Region {
	return NewRegion("Belgium", []types.Point{
		{Lat: 51.09, Lng: 2.54}, {Lat: 51.37, Lng: 3.36}, {Lat: 51.26, Lng: 3.80},
		{Lat: 51.37, Lng: 4.24}, {Lat: 51.48, Lng: 4.53}, {Lat: 51.43, Lng: 5.04},
		{Lat: 51.30, Lng: 5.24}, {Lat: 51.25, Lng: 5.56}, {Lat: 51.16, Lng: 5.85},
		{Lat: 50.75, Lng: 5.70}, {Lat: 50.76, Lng: 6.02}, {Lat: 50.32, Lng: 6.40},
		{Lat: 50.13, Lng: 6.14}, {Lat: 49.80, Lng: 5.90}, {Lat: 49.50, Lng: 5.82},
		{Lat: 49.55, Lng: 5.43}, {Lat: 49.79, Lng: 4.87}, {Lat: 49.97, Lng: 4.82},
		{Lat: 49.99, Lng: 4.15}, {Lat: 50.27, Lng: 4.10}, {Lat: 50.50, Lng: 3.29},
		{Lat: 50.78, Lng: 3.05}, {Lat: 50.81, Lng: 2.60},
	})
}
