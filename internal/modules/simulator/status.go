// README: Read-only snapshots of the simulator for the status API.
package simulator

import (
	"time"

	"ridesim/internal/modules/ledger"
	"ridesim/internal/types"
)

type Status struct {
	Persons  int            `json:"persons"`
	Queued   int            `json:"queued"`
	Rides    int            `json:"rides"`
	Requests int            `json:"requests"`
	Horizon  *time.Time     `json:"horizon,omitempty"`
	Next     *Scheduled     `json:"next,omitempty"`
	Actions  map[string]int `json:"actions"`
	Notified int            `json:"notified"`
}

func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Persons:  len(s.persons),
		Queued:   s.queue.Len(),
		Actions:  make(map[string]int, len(s.actions)),
		Notified: s.notified,
	}
	for _, pr := range s.state.Rides {
		st.Rides += len(pr.Rides)
		st.Requests += len(pr.Requests)
	}
	if s.state.LastGeneratedDay != nil {
		day := *s.state.LastGeneratedDay
		st.Horizon = &day
	}
	if key, at, ok := s.queue.peek(); ok {
		st.Next = &Scheduled{Key: key, At: at}
	}
	for a, n := range s.actions {
		st.Actions[a.String()] = n
	}
	return st
}

// PersonRides returns a copy of a person's pending rides and requests.
func (s *Simulator) PersonRides(id types.ID) (*ledger.PersonRides, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, known := s.persons[id]; !known {
		return nil, false
	}
	if pr, ok := s.state.Rides[id]; ok {
		return pr.Clone(), true
	}
	return ledger.NewPersonRides(id), true
}

// Queue lists scheduled items in notification order.
func (s *Simulator) Queue() []Scheduled {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.entries()
}
