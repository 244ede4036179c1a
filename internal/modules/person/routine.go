package person

import (
	"fmt"
	"math/rand/v2"
	"time"

	"ridesim/internal/modules/ride"
)

// GenerateRidesForDay walks the activities in order and returns the day's
// rides in travel order. A return home is held back until the next
// activity shows whether there is time to make it; if not, the person
// travels on directly.
func (p *Person) GenerateRidesForDay(rnd *rand.Rand, day time.Time) ([]ride.Ride, error) {
	var out []ride.Ride
	origin := p.Home
	var pending *ride.Trip

	for _, a := range p.Activities {
		if !a.Occurrence.Sample(rnd) {
			continue
		}
		arrive, err := a.Start.Sample(rnd, day)
		if err != nil {
			return nil, fmt.Errorf("person %s %s start: %w", p.ID, a.Role, err)
		}
		dest := a.Locations[rnd.IntN(len(a.Locations))]

		if pending != nil {
			next := ride.Trip{Origin: pending.Destination, Destination: dest, ArriveBy: arrive}
			if next.DepartBy().Before(pending.ArriveBy) {
				origin = pending.Origin
			} else {
				out = p.appendTrip(out, *pending)
				origin = pending.Destination
			}
			pending = nil
		}

		out = p.appendTrip(out, ride.Trip{Origin: origin, Destination: dest, ArriveBy: arrive})
		origin = dest

		if !a.Bridge.Sample(rnd) {
			stay := a.Duration.Sample(rnd)
			back := ride.Trip{Origin: dest, Destination: p.Home}
			back.ArriveBy = arrive.Add(stay).Add(back.TravelTime())
			pending = &back
		}
	}
	if pending != nil {
		out = p.appendTrip(out, *pending)
	}
	return out, nil
}

// appendTrip skips trips that go nowhere.
func (p *Person) appendTrip(out []ride.Ride, trip ride.Trip) []ride.Ride {
	if trip.Origin == trip.Destination {
		return out
	}
	return append(out, ride.New(p.ID, trip, p.Capacity))
}
