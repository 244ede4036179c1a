// README: Shared value objects: identifiers and geographic points.
package types

import (
	"encoding/json"
	"fmt"
)

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", p.Lat, p.Lng)
}

// MarshalJSON encodes the point as a [lat, lng] pair, the shape the matching
// service and the person files use.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	p.Lat, p.Lng = pair[0], pair[1]
	return nil
}
