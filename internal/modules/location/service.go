// README: Location sampler: random homes inside a region and places near an origin.
package location

import (
	"fmt"
	"math"
	"math/rand/v2"

	"ridesim/internal/modules/distribution"
	"ridesim/internal/types"
)

// ErrOutOfBounds shares the distribution sentinel so callers handle every
// exhausted resampling loop the same way.
var ErrOutOfBounds = distribution.ErrOutOfBounds

const (
	// nearOffsetDeg and nearScaleDeg parameterise the gamma(2) distance, in
	// degrees, used by SampleNear.
	nearOffsetDeg = 0.01
	nearScaleDeg  = 0.1
)

// Sampler produces coordinates for generated persons.
type Sampler interface {
	SampleRandom(rnd *rand.Rand) (types.Point, error)
	SampleNear(rnd *rand.Rand, origin types.Point, scale float64) (types.Point, error)
}

type Service struct {
	region *Region
}

func NewService(region *Region) *Service {
	return &Service{region: region}
}

// SampleRandom draws a point uniformly from the region's bounding box and
// keeps the first one inside the region.
func (s *Service) SampleRandom(rnd *rand.Rand) (types.Point, error) {
	lo, hi := s.region.Bounds()
	for range distribution.MaxAttempts {
		p := types.Point{
			Lat: lo.Lat + rnd.Float64()*(hi.Lat-lo.Lat),
			Lng: lo.Lng + rnd.Float64()*(hi.Lng-lo.Lng),
		}
		if s.region.Contains(p) {
			return p, nil
		}
	}
	return types.Point{}, fmt.Errorf("random point in %s: %w", s.region.Name, ErrOutOfBounds)
}

// SampleNear draws a point at a uniform bearing and a gamma distributed
// distance from origin. Larger scale spreads points further out.
func (s *Service) SampleNear(rnd *rand.Rand, origin types.Point, scale float64) (types.Point, error) {
	for range distribution.MaxAttempts {
		angle := rnd.Float64() * 2 * math.Pi
		// Gamma with shape 2 is the sum of two exponentials.
		dist := nearOffsetDeg + nearScaleDeg*scale*(rnd.ExpFloat64()+rnd.ExpFloat64())
		p := types.Point{
			Lat: origin.Lat + math.Cos(angle)*dist,
			Lng: origin.Lng + math.Sin(angle)*dist,
		}
		if s.region.Contains(p) {
			return p, nil
		}
	}
	return types.Point{}, fmt.Errorf("point near %s (scale %.2f) in %s: %w",
		origin, scale, s.region.Name, ErrOutOfBounds)
}
