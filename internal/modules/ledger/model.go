// README: Per-person ledger of unresolved rides and the simulator state persisted around it.
package ledger

import (
	"errors"
	"slices"
	"time"

	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

var (
	// ErrPrecondition means generation has neither a previous horizon nor a
	// start time to begin from.
	ErrPrecondition = errors.New("generation has no starting point")
	// ErrNoNotificationWindow means a ride must be announced before the
	// earliest moment it could be.
	ErrNoNotificationWindow = errors.New("empty notification window")
	// ErrInconsistent means a scheduled item is missing from the ledger.
	ErrInconsistent = errors.New("ledger inconsistency")
)

// PersonRides holds a person's rides and join requests that are not resolved
// yet, plus the last day rides were generated for.
type PersonRides struct {
	Owner            types.ID       `json:"owner"`
	Rides            []ride.Ride    `json:"rides"`
	Requests         []ride.Request `json:"requests,omitempty"`
	LastGeneratedDay *time.Time     `json:"lastGeneratedDay,omitempty"`
}

func NewPersonRides(owner types.ID) *PersonRides {
	return &PersonRides{Owner: owner}
}

// Clone returns a copy that can be changed without touching pr.
func (pr *PersonRides) Clone() *PersonRides {
	c := &PersonRides{
		Owner:    pr.Owner,
		Rides:    slices.Clone(pr.Rides),
		Requests: slices.Clone(pr.Requests),
	}
	if pr.LastGeneratedDay != nil {
		day := *pr.LastGeneratedDay
		c.LastGeneratedDay = &day
	}
	return c
}

func (pr *PersonRides) Ride(id types.ID) (ride.Ride, bool) {
	i := pr.rideIndex(id)
	if i < 0 {
		return ride.Ride{}, false
	}
	return pr.Rides[i], true
}

func (pr *PersonRides) RemoveRide(id types.ID) bool {
	i := pr.rideIndex(id)
	if i < 0 {
		return false
	}
	pr.Rides = slices.Delete(pr.Rides, i, i+1)
	return true
}

func (pr *PersonRides) SetRideNotification(id types.ID, at time.Time) bool {
	i := pr.rideIndex(id)
	if i < 0 {
		return false
	}
	pr.Rides[i].NotificationTime = at
	return true
}

// AddRides merges rides in, keeping arrival order and dropping ids already
// present.
func (pr *PersonRides) AddRides(rides ...ride.Ride) []ride.Ride {
	added := make([]ride.Ride, 0, len(rides))
	for _, r := range rides {
		if pr.rideIndex(r.ID) >= 0 {
			continue
		}
		pr.Rides = append(pr.Rides, r)
		added = append(added, r)
	}
	slices.SortFunc(pr.Rides, ride.CompareArriveBy)
	return added
}

func (pr *PersonRides) Request(id types.ID) (ride.Request, bool) {
	i := pr.requestIndex(id)
	if i < 0 {
		return ride.Request{}, false
	}
	return pr.Requests[i], true
}

// AddRequest stores q unless a request with the same id is pending.
func (pr *PersonRides) AddRequest(q ride.Request) bool {
	if pr.requestIndex(q.ID) >= 0 {
		return false
	}
	pr.Requests = append(pr.Requests, q)
	return true
}

func (pr *PersonRides) RemoveRequest(id types.ID) bool {
	i := pr.requestIndex(id)
	if i < 0 {
		return false
	}
	pr.Requests = slices.Delete(pr.Requests, i, i+1)
	return true
}

func (pr *PersonRides) SetRequestNotification(id types.ID, at time.Time) bool {
	i := pr.requestIndex(id)
	if i < 0 {
		return false
	}
	pr.Requests[i].NotificationTime = at
	return true
}

func (pr *PersonRides) Empty() bool {
	return len(pr.Rides) == 0 && len(pr.Requests) == 0
}

func (pr *PersonRides) rideIndex(id types.ID) int {
	return slices.IndexFunc(pr.Rides, func(r ride.Ride) bool { return r.ID == id })
}

func (pr *PersonRides) requestIndex(id types.ID) int {
	return slices.IndexFunc(pr.Requests, func(q ride.Request) bool { return q.ID == id })
}

// State is everything the simulator persists.
type State struct {
	Rides            map[types.ID]*PersonRides
	RemoteIDs        map[string]types.ID
	LastGeneratedDay *time.Time
}

func NewState() *State {
	return &State{
		Rides:     make(map[types.ID]*PersonRides),
		RemoteIDs: make(map[string]types.ID),
	}
}

// PersonRides returns the ledger for id, creating an empty one if needed.
func (s *State) PersonRides(id types.ID) *PersonRides {
	pr, ok := s.Rides[id]
	if !ok {
		pr = NewPersonRides(id)
		s.Rides[id] = pr
	}
	return pr
}

// LocalPerson maps a matching-service user id back to a simulated person.
func (s *State) LocalPerson(remoteID string) (types.ID, bool) {
	id, ok := s.RemoteIDs[remoteID]
	return id, ok
}

// Batch collects the mutations of one scheduler iteration so they can be
// committed together.
type Batch struct {
	Put              map[types.ID]*PersonRides
	RemoteIDs        map[string]types.ID
	LastGeneratedDay *time.Time
}

func NewBatch() *Batch {
	return &Batch{
		Put:       make(map[types.ID]*PersonRides),
		RemoteIDs: make(map[string]types.ID),
	}
}

func (b *Batch) PutPersonRides(pr *PersonRides) {
	b.Put[pr.Owner] = pr
}

func (b *Batch) SetRemoteID(remoteID string, id types.ID) {
	b.RemoteIDs[remoteID] = id
}

func (b *Batch) SetLastGeneratedDay(day time.Time) {
	b.LastGeneratedDay = &day
}

func (b *Batch) Empty() bool {
	return len(b.Put) == 0 && len(b.RemoteIDs) == 0 && b.LastGeneratedDay == nil
}
