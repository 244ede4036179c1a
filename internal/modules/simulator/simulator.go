// README: Simulator owns the ledger state and the notification queue and drives them from a single loop.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"ridesim/internal/config"
	"ridesim/internal/modules/carpool"
	"ridesim/internal/modules/ledger"
	"ridesim/internal/modules/person"
	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

// Remote is the matching service as seen by the simulator. *carpool.Client
// implements it.
type Remote interface {
	Session(ctx context.Context, p *person.Person) (carpool.Session, error)
	CreateRide(ctx context.Context, s carpool.Session, r ride.Ride) (string, error)
	SearchRides(ctx context.Context, s carpool.Session, trip ride.Trip, limit int) ([]carpool.Offer, error)
	RequestJoin(ctx context.Context, s carpool.Session, rideID string) error
	RespondJoin(ctx context.Context, s carpool.Session, rideID, requesterID string, accept bool) error
}

type Simulator struct {
	cfg     config.SimulationConfig
	store   ledger.Store
	remote  Remote
	logger  *log.Logger
	rnd     *rand.Rand
	now     func() time.Time
	persons map[types.ID]*person.Person
	ids     []types.ID

	// mu guards the fields below against status readers. Only the loop
	// goroutine writes them.
	mu       sync.RWMutex
	state    *ledger.State
	queue    *queue
	actions  map[Action]int
	notified int
}

type Option func(*Simulator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func WithRand(rnd *rand.Rand) Option {
	return func(s *Simulator) { s.rnd = rnd }
}

func New(cfg config.SimulationConfig, persons []*person.Person, store ledger.Store, remote Remote, logger *log.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:     cfg,
		store:   store,
		remote:  remote,
		logger:  logger.WithPrefix("simulator"),
		now:     time.Now,
		persons: make(map[types.ID]*person.Person, len(persons)),
		state:   ledger.NewState(),
		queue:   newQueue(),
		actions: make(map[Action]int),
	}
	for _, p := range persons {
		s.persons[p.ID] = p
		s.ids = append(s.ids, p.ID)
	}
	slices.Sort(s.ids)
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		s.rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return s
}

// Load replaces the in-memory state with the ledger and rebuilds the queue
// from it.
func (s *Simulator) Load(ctx context.Context) error {
	st, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	q := newQueue()
	for id, pr := range st.Rides {
		if _, ok := s.persons[id]; !ok {
			s.logger.Warn("ledger holds rides of an unknown person, leaving them unscheduled",
				"person", id, "rides", len(pr.Rides), "requests", len(pr.Requests))
			continue
		}
		q.syncOwner(pr)
	}

	s.mu.Lock()
	s.state = st
	s.queue = q
	s.mu.Unlock()

	s.logger.Info("ledger loaded", "persons", len(st.Rides), "queued", q.Len(), "horizon", formatDay(st.LastGeneratedDay))
	return nil
}

// Regenerate extends every person's rides to GenerateDays ahead of now. All
// new rides are committed in one batch before they are scheduled.
func (s *Simulator) Regenerate(ctx context.Context, now time.Time) (int, error) {
	end := midnight(now).AddDate(0, 0, s.cfg.GenerateDays)
	tx := s.begin()
	added, dropped := 0, 0
	for _, id := range s.ids {
		p := s.persons[id]
		pr := s.current(id)
		res, err := pr.GenerateUntil(s.rnd, p, end, now, s.cfg.SafetyMargin)
		if err != nil {
			s.logger.Error("ride generation failed", "person", id, "until", end.Format(time.DateOnly),
				"activities", len(p.Activities), "err", err)
			return 0, fmt.Errorf("regenerate %s: %w", id, err)
		}
		if res.Dropped > 0 {
			s.logger.Debug("rides dropped, notification window already closed",
				"person", id, "dropped", res.Dropped, "until", end.Format(time.DateOnly))
		}
		if res.Days == 0 {
			continue
		}
		tx.batch.PutPersonRides(pr)
		added += len(res.Added)
		dropped += res.Dropped
	}
	horizon := end.AddDate(0, 0, -1)
	if last := s.state.LastGeneratedDay; last == nil || last.Before(horizon) {
		tx.batch.SetLastGeneratedDay(horizon)
	}
	if tx.batch.Empty() {
		return 0, nil
	}
	if err := s.store.Commit(context.WithoutCancel(ctx), tx.batch); err != nil {
		return 0, fmt.Errorf("commit generated rides: %w", err)
	}
	s.apply(tx.batch)
	s.logger.Info("rides generated", "until", horizon.Format(time.DateOnly), "added", added, "dropped", dropped, "queued", s.queue.Len())
	return added, nil
}

// Outcome describes one Step.
type Outcome struct {
	Key    Key
	Action Action
	// Notified is set when an attempt succeeded and the item is gone.
	Notified bool
	// RemoteRideID is the matching-service ride a notified item offered,
	// joined or answered. Empty when the service did not name one.
	RemoteRideID string
	// At is the item's new notification time after a retry or reschedule.
	At time.Time
}

// Step handles the earliest queued item at now. It reports false when the
// queue is empty. Errors are fatal: the ledger is inconsistent or cannot be
// written.
func (s *Simulator) Step(ctx context.Context, now time.Time) (Outcome, bool, error) {
	key, _, ok := s.queue.peek()
	if !ok {
		return Outcome{}, false, nil
	}
	nt, last, err := s.item(key)
	if err != nil {
		return Outcome{}, true, err
	}

	// The branch runs to completion once chosen; shutdown waits for it.
	ctx = context.WithoutCancel(ctx)
	out := Outcome{Key: key, Action: Decide(now, nt, last, s.cfg.Epsilon)}
	tx := s.begin()
	switch out.Action {
	case ActionWait:
		return out, true, nil
	case ActionDiscard:
		s.logger.Info("discarding expired item", "item", key, "due", nt, "last", last)
		tx.remove(key)
	case ActionAttempt:
		if remoteID, ok := s.notify(ctx, now, key, tx); ok {
			out.Notified = true
			out.RemoteRideID = remoteID
			tx.remove(key)
		} else {
			out.At = nt.Add(s.cfg.RetryDelay)
			s.logger.Debug("notification failed, retrying later", "item", key, "at", out.At)
			tx.reschedule(key, out.At)
		}
	case ActionReschedule:
		out.At = ledger.ResampleNotificationTime(s.rnd, now, last, s.cfg.SafetyMargin)
		s.logger.Info("missed notification rescheduled", "item", key, "was", nt, "at", out.At)
		tx.reschedule(key, out.At)
	}

	if err := s.store.Commit(ctx, tx.batch); err != nil {
		return out, true, fmt.Errorf("commit %s of %s: %w", out.Action, key, err)
	}
	s.apply(tx.batch)

	s.mu.Lock()
	s.actions[out.Action]++
	if out.Notified {
		s.notified++
	}
	s.mu.Unlock()
	return out, true, nil
}

// Run drives the simulation until ctx is cancelled. It returns nil on
// cancellation and an error only for fatal conditions.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulation started", "persons", len(s.persons), "queued", s.queue.Len())
	for {
		if ctx.Err() != nil {
			s.logger.Info("simulation stopped")
			return nil
		}
		now := s.now()
		if s.regenerationDue(now) {
			if _, err := s.Regenerate(ctx, now); err != nil {
				return err
			}
			continue
		}
		out, ok, err := s.Step(ctx, now)
		if err != nil {
			return err
		}
		if ok && out.Action != ActionWait {
			continue
		}

		timer := time.NewTimer(s.sleepFor(now))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Simulator) regenerationDue(now time.Time) bool {
	last := s.state.LastGeneratedDay
	return last == nil || last.Before(midnight(now).AddDate(0, 0, s.cfg.GenerateDays-1))
}

// sleepFor is the time until the next queued item or regeneration, within
// [0, MaxSleep].
func (s *Simulator) sleepFor(now time.Time) time.Duration {
	wake := now.Add(s.cfg.MaxSleep)
	if _, at, ok := s.queue.peek(); ok && at.Before(wake) {
		wake = at
	}
	if last := s.state.LastGeneratedDay; last != nil {
		if regen := midnight(*last).AddDate(0, 0, 2-s.cfg.GenerateDays); regen.Before(wake) {
			wake = regen
		}
	}
	return min(max(wake.Sub(now), 0), s.cfg.MaxSleep)
}

// item returns the notification and last possible time of a queued item.
func (s *Simulator) item(key Key) (time.Time, time.Time, error) {
	pr, ok := s.state.Rides[key.Owner]
	if ok {
		switch key.Kind {
		case KindRide:
			if r, ok := pr.Ride(key.ID); ok {
				return r.NotificationTime, r.LastNotificationTime(), nil
			}
		case KindRequest:
			if q, ok := pr.Request(key.ID); ok {
				return q.NotificationTime, q.LastNotificationTime(), nil
			}
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("queued %s: %w", key, ledger.ErrInconsistent)
}

// current returns a private copy of a person's ledger entry.
func (s *Simulator) current(id types.ID) *ledger.PersonRides {
	if pr, ok := s.state.Rides[id]; ok {
		return pr.Clone()
	}
	return ledger.NewPersonRides(id)
}

// apply makes a committed batch the in-memory truth.
func (s *Simulator) apply(b *ledger.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pr := range b.Put {
		s.state.Rides[id] = pr
		if _, ok := s.persons[id]; ok {
			s.queue.syncOwner(pr)
		}
	}
	for remote, id := range b.RemoteIDs {
		s.state.RemoteIDs[remote] = id
	}
	if b.LastGeneratedDay != nil {
		day := *b.LastGeneratedDay
		s.state.LastGeneratedDay = &day
	}
}

// txn collects the ledger changes of one loop iteration.
type txn struct {
	s     *Simulator
	batch *ledger.Batch
}

func (s *Simulator) begin() *txn {
	return &txn{s: s, batch: ledger.NewBatch()}
}

// edit returns the batch's copy of a person's ledger entry.
func (t *txn) edit(id types.ID) *ledger.PersonRides {
	if pr, ok := t.batch.Put[id]; ok {
		return pr
	}
	pr := t.s.current(id)
	t.batch.PutPersonRides(pr)
	return pr
}

func (t *txn) remove(key Key) {
	pr := t.edit(key.Owner)
	if key.Kind == KindRequest {
		pr.RemoveRequest(key.ID)
		return
	}
	pr.RemoveRide(key.ID)
}

func (t *txn) reschedule(key Key, at time.Time) {
	pr := t.edit(key.Owner)
	if key.Kind == KindRequest {
		pr.SetRequestNotification(key.ID, at)
		return
	}
	pr.SetRideNotification(key.ID, at)
}

// localPerson resolves a matching-service user id, including ids learned in
// this iteration.
func (t *txn) localPerson(remoteID string) (types.ID, bool) {
	if id, ok := t.batch.RemoteIDs[remoteID]; ok {
		return id, true
	}
	return t.s.state.LocalPerson(remoteID)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatDay(day *time.Time) string {
	if day == nil {
		return "none"
	}
	return day.Format(time.DateOnly)
}
