// README: Trip, Ride and Request value objects with their derived geometry.
package ride

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"ridesim/internal/modules/location"
	"ridesim/internal/types"
)

const (
	// SpeedKmh is the constant travel speed assumed for every trip.
	SpeedKmh = 50.0
	// TravelMargin stretches travel time when computing the last moment a
	// trip can still be announced.
	TravelMargin = 1.2
)

// rideNamespace seeds deterministic ride ids, so regenerating the same ride
// yields the same key.
var rideNamespace = uuid.MustParse("5d0c9f0e-5b8e-4f43-9a57-3a3c5e1f7b21")

// Trip is a planned movement from Origin to Destination, arriving by ArriveBy.
type Trip struct {
	Origin      types.Point `json:"from"`
	Destination types.Point `json:"to"`
	ArriveBy    time.Time   `json:"arrive-by"`
}

func (t Trip) DistanceKm() float64 {
	return location.DistanceKm(t.Origin, t.Destination)
}

func (t Trip) TravelTime() time.Duration {
	return time.Duration(t.DistanceKm() / SpeedKmh * float64(time.Hour))
}

func (t Trip) DepartBy() time.Time {
	return t.ArriveBy.Add(-t.TravelTime())
}

// LastNotificationTime is the latest moment the trip can be announced and
// still leave room for TravelMargin times the travel time.
func (t Trip) LastNotificationTime() time.Time {
	margin := time.Duration(float64(t.TravelTime()) * TravelMargin)
	return t.ArriveBy.Add(-margin)
}

func (t Trip) String() string {
	return fmt.Sprintf("%s -> %s by %s", t.Origin, t.Destination, t.ArriveBy.Format(time.RFC3339))
}

// Ride is a trip generated for a simulated person.
type Ride struct {
	ID         types.ID `json:"id"`
	Owner      types.ID `json:"owner"`
	Trip       `json:"trip"`
	Passengers int `json:"passengers"`
	// NotificationTime is zero until the ledger assigns one.
	NotificationTime time.Time `json:"notificationTime"`
}

// New builds a ride for owner with a deterministic id.
func New(owner types.ID, trip Trip, passengers int) Ride {
	key := fmt.Sprintf("%s|%d|%.6f,%.6f|%.6f,%.6f", owner, trip.ArriveBy.UnixNano(),
		trip.Origin.Lat, trip.Origin.Lng, trip.Destination.Lat, trip.Destination.Lng)
	return Ride{
		ID:         types.ID(uuid.NewSHA1(rideNamespace, []byte(key)).String()),
		Owner:      owner,
		Trip:       trip,
		Passengers: passengers,
	}
}

func (r Ride) Scheduled() bool { return !r.NotificationTime.IsZero() }

// Request asks to join Target, a ride offered on the matching service, with
// the requester's own Trip as the desired route.
type Request struct {
	ID                 types.ID `json:"id"`
	Requester          Trip     `json:"requester"`
	RequesterID        types.ID `json:"requesterId"`
	RequesterRemoteID  string   `json:"requesterRemoteId"`
	RequesterTolerance float64  `json:"requesterTolerance"`

	Target          Trip     `json:"target"`
	TargetRideID    string   `json:"targetRideId"`
	DriverID        types.ID `json:"driverId,omitempty"`
	DriverTolerance float64  `json:"driverTolerance"`

	NotificationTime time.Time `json:"notificationTime"`
}

// NewRequest builds a request with an id derived from the requester and the
// target ride.
func NewRequest(requesterID types.ID, requester Trip, tolerance float64, targetRideID string, target Trip) Request {
	key := fmt.Sprintf("req|%s|%s|%d", requesterID, targetRideID, requester.ArriveBy.UnixNano())
	return Request{
		ID:                 types.ID(uuid.NewSHA1(rideNamespace, []byte(key)).String()),
		Requester:          requester,
		RequesterID:        requesterID,
		RequesterTolerance: tolerance,
		Target:             target,
		TargetRideID:       targetRideID,
	}
}

// DetourDistanceKm is the length of the target trip after picking up and
// dropping off the requester.
func (q Request) DetourDistanceKm() float64 {
	return location.DistanceKm(q.Target.Origin, q.Requester.Origin) +
		q.Target.DistanceKm() +
		location.DistanceKm(q.Target.Destination, q.Requester.Destination)
}

// DetourFactor is DetourDistanceKm relative to the direct target trip.
func (q Request) DetourFactor() float64 {
	direct := q.Target.DistanceKm()
	combined := q.DetourDistanceKm()
	if direct == 0 {
		if combined == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return combined / direct
}

// PassengerOK reports whether the requester accepts the detour.
func (q Request) PassengerOK() bool {
	return q.DetourFactor() <= q.RequesterTolerance
}

// DriverOK reports whether the target's driver accepts the detour.
func (q Request) DriverOK() bool {
	return q.DetourFactor() <= q.DriverTolerance
}

// LastNotificationTime follows the target: a join cannot outlive its ride.
func (q Request) LastNotificationTime() time.Time {
	return q.Target.LastNotificationTime()
}

// CompareArriveBy orders rides by arrival, then id for stability.
func CompareArriveBy(a, b Ride) int {
	if c := a.ArriveBy.Compare(b.ArriveBy); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
