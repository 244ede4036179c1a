package simulator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"ridesim/internal/config"
	"ridesim/internal/infra"
	"ridesim/internal/modules/carpool"
	"ridesim/internal/modules/carpool/carpooltest"
	"ridesim/internal/modules/distribution"
	"ridesim/internal/modules/ledger"
	"ridesim/internal/modules/person"
	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

var (
	home    = types.Point{Lat: 50.8467, Lng: 4.3525}
	office  = types.Point{Lat: 51.2194, Lng: 4.4025}
	home2   = types.Point{Lat: 50.8567, Lng: 4.3525}
	office2 = types.Point{Lat: 51.2294, Lng: 4.4025}
	t0      = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
)

func commuter(id types.ID, tolerance float64) *person.Person {
	return &person.Person{
		ID:              id,
		Username:        "user-" + string(id),
		Password:        "pw-" + string(id),
		Home:            home,
		Capacity:        2,
		DetourTolerance: tolerance,
		Activities: []person.Activity{{
			Role:       person.RoleWork,
			Occurrence: distribution.Bernoulli{P: 1},
			Start:      distribution.NormalTime{Mean: distribution.Clock(9, 0)},
			Duration:   distribution.NormalDuration{MeanHours: 8},
			Bridge:     distribution.Bernoulli{P: 0},
			Locations:  []types.Point{office},
		}},
	}
}

func testConfig() config.SimulationConfig {
	cfg := config.DefaultSimulation()
	cfg.GenerateDays = 3
	return cfg
}

func newSim(persons []*person.Person, store ledger.Store, remote Remote) *Simulator {
	return New(testConfig(), persons, store, remote, log.New(io.Discard),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return t0 }))
}

// seed commits rides for their owners before a simulator loads them.
func seed(t *testing.T, store ledger.Store, rides ...ride.Ride) {
	t.Helper()
	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := ledger.NewBatch()
	for _, r := range rides {
		pr, ok := b.Put[r.Owner]
		if !ok {
			pr = st.PersonRides(r.Owner)
			b.PutPersonRides(pr)
		}
		pr.AddRides(r)
	}
	if err := store.Commit(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func scheduled(owner types.ID, trip ride.Trip, at time.Time) ride.Ride {
	r := ride.New(owner, trip, 2)
	r.NotificationTime = at
	return r
}

// drain steps every queued item at its own notification time.
func drain(t *testing.T, s *Simulator, limit int) []Outcome {
	t.Helper()
	var outs []Outcome
	for i := 0; i < limit; i++ {
		_, at, ok := s.queue.peek()
		if !ok {
			return outs
		}
		out, _, err := s.Step(context.Background(), at)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		outs = append(outs, out)
	}
	t.Fatalf("queue not drained after %d steps", limit)
	return nil
}

type fakeRemote struct {
	sessionErr error
	searchErr  error
	joinErr    error
	createErr  error
	respondErr error

	offers    []carpool.Offer
	sessions  int
	created   []ride.Ride
	joins     []string
	responses []bool
}

func (f *fakeRemote) Session(_ context.Context, p *person.Person) (carpool.Session, error) {
	f.sessions++
	if f.sessionErr != nil {
		return carpool.Session{}, f.sessionErr
	}
	return carpool.Session{Token: "t-" + string(p.ID), UserID: "remote-" + string(p.ID)}, nil
}

func (f *fakeRemote) CreateRide(_ context.Context, _ carpool.Session, r ride.Ride) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, r)
	return "drive-" + string(r.ID), nil
}

func (f *fakeRemote) SearchRides(_ context.Context, _ carpool.Session, _ ride.Trip, limit int) ([]carpool.Offer, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.offers[:min(limit, len(f.offers))], nil
}

func (f *fakeRemote) RequestJoin(_ context.Context, _ carpool.Session, rideID string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, rideID)
	return nil
}

func (f *fakeRemote) RespondJoin(_ context.Context, _ carpool.Session, _, _ string, accept bool) error {
	if f.respondErr != nil {
		return f.respondErr
	}
	f.responses = append(f.responses, accept)
	return nil
}

func TestSimulator_EndToEndThreeDays(t *testing.T) {
	svc := carpooltest.New()
	defer svc.Close()
	client, err := carpool.NewClient(svc.URL(), 5*time.Second, log.New(io.Discard))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p := commuter("w1", 1.3)
	store := ledger.NewMemoryStore()
	sim := newSim([]*person.Person{p}, store, client)
	ctx := context.Background()

	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !sim.regenerationDue(t0) {
		t.Fatal("empty ledger should need generation")
	}
	added, err := sim.Regenerate(ctx, t0)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if added != 6 || sim.queue.Len() != 6 {
		t.Fatalf("added %d, queued %d, want 6 each", added, sim.queue.Len())
	}
	if sim.regenerationDue(t0) {
		t.Fatal("regeneration still due right after generating")
	}

	outs := drain(t, sim, 20)
	if len(outs) != 6 {
		t.Fatalf("steps = %d, want 6", len(outs))
	}
	for _, out := range outs {
		if out.Action != ActionAttempt || !out.Notified {
			t.Fatalf("unexpected outcome %+v", out)
		}
	}

	drives := svc.Drives()
	if len(drives) != 6 {
		t.Fatalf("drives = %d, want 6", len(drives))
	}
	slices.SortFunc(drives, func(a, b carpooltest.Drive) int { return a.ArriveBy.Compare(b.ArriveBy) })
	userID := svc.UserID(p.Username)
	for i, d := range drives {
		if d.Driver != userID || d.Seats != p.Capacity {
			t.Fatalf("drive %d not offered by the commuter: %+v", i, d)
		}
		wantFrom, wantTo := home, office
		if i%2 == 1 {
			wantFrom, wantTo = office, home
		}
		if d.From != wantFrom || d.To != wantTo {
			t.Fatalf("drive %d goes %v -> %v", i, d.From, d.To)
		}
		if i > 0 && !d.ArriveBy.After(drives[i-1].ArriveBy) {
			t.Fatalf("drive %d does not arrive after drive %d", i, i-1)
		}
	}

	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !st.Rides[p.ID].Empty() {
		t.Fatalf("ledger still holds %d rides", len(st.Rides[p.ID].Rides))
	}
	if id, ok := st.LocalPerson(userID); !ok || id != p.ID {
		t.Fatalf("remote id not recorded: %v", st.RemoteIDs)
	}
	if s := sim.Status(); s.Notified != 6 || s.Actions["attempt"] != 6 || s.Queued != 0 {
		t.Fatalf("status = %+v", s)
	}
}

func TestSimulator_RegenerateIsIdempotent(t *testing.T) {
	store := ledger.NewMemoryStore()
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, &fakeRemote{})
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := sim.Regenerate(ctx, t0); err != nil {
		t.Fatalf("first regenerate: %v", err)
	}
	commits := store.Commits()

	added, err := sim.Regenerate(ctx, t0)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if added != 0 || sim.queue.Len() != 6 || store.Commits() != commits {
		t.Fatalf("second regenerate changed things: added=%d queued=%d commits %d -> %d",
			added, sim.queue.Len(), commits, store.Commits())
	}

	// A day later only the new day is added.
	added, err = sim.Regenerate(ctx, t0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next day: %v", err)
	}
	if added != 2 {
		t.Fatalf("next day added %d, want 2", added)
	}
}

func TestSimulator_RegenerateLogsDroppedRides(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	// At 08:30 the 09:00 commute can no longer be announced in time.
	now := t0.Add(8*time.Hour + 30*time.Minute)
	sim := New(testConfig(), []*person.Person{commuter("w1", 1.3)}, ledger.NewMemoryStore(), &fakeRemote{}, logger,
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	added, err := sim.Regenerate(ctx, now)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if added != 5 {
		t.Fatalf("added %d rides, want 5", added)
	}
	out := buf.String()
	if !strings.Contains(out, "notification window already closed") || !strings.Contains(out, "person=w1") || !strings.Contains(out, "dropped=1") {
		t.Fatalf("dropped rides not logged:\n%s", out)
	}
}

func TestSimulator_RetryBound(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := scheduled("w1", ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}, t0.Add(7*time.Hour))
	seed(t, store, r)
	remote := &fakeRemote{sessionErr: carpool.ErrUnavailable}
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, remote)
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	retry := sim.cfg.RetryDelay
	last := r.LastNotificationTime()
	wantAttempts := int(last.Sub(r.NotificationTime)/retry) + 1

	outs := drain(t, sim, 100)
	attempts, discards := 0, 0
	expect := r.NotificationTime
	for _, out := range outs {
		switch out.Action {
		case ActionAttempt:
			attempts++
			expect = expect.Add(retry)
			if out.Notified || !out.At.Equal(expect) {
				t.Fatalf("attempt %d moved to %v, want %v", attempts, out.At, expect)
			}
		case ActionDiscard:
			discards++
		default:
			t.Fatalf("unexpected action %s", out.Action)
		}
	}
	if attempts != wantAttempts || discards != 1 {
		t.Fatalf("attempts=%d discards=%d, want %d and 1", attempts, discards, wantAttempts)
	}
	if remote.sessions != wantAttempts {
		t.Fatalf("remote called %d times, want %d", remote.sessions, wantAttempts)
	}
	st, _ := store.Load(ctx)
	if _, ok := st.Rides["w1"].Ride(r.ID); ok {
		t.Fatal("discarded ride still in ledger")
	}
}

func TestSimulator_RescheduleAfterDowntime(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := scheduled("w1", ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}, t0.Add(6*time.Hour))
	seed(t, store, r)
	remote := &fakeRemote{}
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, remote)
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	last := r.LastNotificationTime()
	margin := sim.cfg.SafetyMargin

	now := t0.Add(6*time.Hour + 30*time.Minute)
	out, _, err := sim.Step(ctx, now)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Action != ActionReschedule || out.At.Before(now) || out.At.After(last.Add(-margin)) {
		t.Fatalf("reschedule outcome %+v, window [%v, %v]", out, now, last.Add(-margin))
	}
	if len(remote.created) != 0 {
		t.Fatal("rescheduling must not notify")
	}

	// Past the margin there is no room left: the ride becomes due right away.
	late := last.Add(-margin / 2)
	out, _, err = sim.Step(ctx, late)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Action != ActionReschedule || !out.At.Equal(late) {
		t.Fatalf("expected fallback to now, got %+v", out)
	}
	out, _, err = sim.Step(ctx, late)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Action != ActionAttempt || !out.Notified || len(remote.created) != 1 {
		t.Fatalf("expected immediate attempt, got %+v", out)
	}
}

func TestSimulator_JoinsOfferedRide(t *testing.T) {
	store := ledger.NewMemoryStore()
	trip := ride.Trip{Origin: home2, Destination: office2, ArriveBy: t0.Add(9 * time.Hour)}
	r := scheduled("w1", trip, t0.Add(6*time.Hour))
	seed(t, store, r)

	target := carpool.Offer{ID: "d9", DriverRef: "someone", Origin: home, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 1}
	remote := &fakeRemote{offers: []carpool.Offer{
		{ID: "own", DriverRef: "remote-w1", Origin: home, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 3},
		{ID: "full", DriverRef: "x", Origin: home, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 0},
		{ID: "far", DriverRef: "y", Origin: types.Point{Lat: 50.5, Lng: 5.5}, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 2},
		target,
	}}
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, remote)
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	out, _, err := sim.Step(ctx, r.NotificationTime)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !out.Notified || out.RemoteRideID != "d9" {
		t.Fatalf("join should succeed on d9: %+v", out)
	}
	if !slices.Equal(remote.joins, []string{"d9"}) || len(remote.created) != 0 {
		t.Fatalf("joins=%v created=%d", remote.joins, len(remote.created))
	}
}

func TestSimulator_FailedJoinFallsBackToCreate(t *testing.T) {
	store := ledger.NewMemoryStore()
	trip := ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}
	r := scheduled("w1", trip, t0.Add(6*time.Hour))
	seed(t, store, r)
	remote := &fakeRemote{
		joinErr: carpool.ErrRejected,
		offers: []carpool.Offer{
			{ID: "a", DriverRef: "x", Origin: home, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 1},
			{ID: "b", DriverRef: "y", Origin: home, Destination: office, ArriveBy: trip.ArriveBy, FreeSeats: 1},
		},
	}
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, remote)
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	out, _, err := sim.Step(ctx, r.NotificationTime)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !out.Notified || len(remote.created) != 1 || remote.created[0].ID != r.ID {
		t.Fatalf("expected ride to be created after failed join: %+v created=%d", out, len(remote.created))
	}
	if want := "drive-" + string(r.ID); out.RemoteRideID != want {
		t.Fatalf("remote ride id = %q, want %q", out.RemoteRideID, want)
	}
}

func TestSimulator_RemoteOutcomes(t *testing.T) {
	trip := ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}
	cases := []struct {
		name     string
		remote   *fakeRemote
		notified bool
	}{
		{"created", &fakeRemote{}, true},
		{"search down still creates", &fakeRemote{searchErr: carpool.ErrUnavailable}, true},
		{"duplicate create", &fakeRemote{createErr: carpool.ErrConflict}, true},
		{"create rejected", &fakeRemote{createErr: carpool.ErrRejected}, false},
		{"service down", &fakeRemote{createErr: carpool.ErrUnavailable}, false},
		{"no session", &fakeRemote{sessionErr: carpool.ErrUnauthorized}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := ledger.NewMemoryStore()
			r := scheduled("w1", trip, t0.Add(6*time.Hour))
			seed(t, store, r)
			sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, tc.remote)
			ctx := context.Background()
			if err := sim.Load(ctx); err != nil {
				t.Fatalf("load: %v", err)
			}
			out, _, err := sim.Step(ctx, r.NotificationTime)
			if err != nil {
				t.Fatalf("step: %v", err)
			}
			if out.Notified != tc.notified {
				t.Fatalf("notified = %v, want %v", out.Notified, tc.notified)
			}
			st, _ := store.Load(ctx)
			_, still := st.Rides["w1"].Ride(r.ID)
			if still == tc.notified {
				t.Fatalf("ride in ledger = %v after notified = %v", still, tc.notified)
			}
		})
	}
}

func TestSimulator_DriverRejectsDetourWithoutTouchingRequester(t *testing.T) {
	svc := carpooltest.New()
	defer svc.Close()
	client, err := carpool.NewClient(svc.URL(), 5*time.Second, log.New(io.Discard))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	driver := commuter("driver", 1.0)
	rider := commuter("rider", 2.0)
	rider.Home = home2

	store := ledger.NewMemoryStore()
	drive := scheduled(driver.ID, ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}, t0.Add(6*time.Hour))
	out1 := scheduled(rider.ID, ride.Trip{Origin: home2, Destination: office2, ArriveBy: t0.Add(9 * time.Hour)}, t0.Add(6*time.Hour+30*time.Minute))
	back := scheduled(rider.ID, ride.Trip{Origin: office2, Destination: home2, ArriveBy: t0.Add(18 * time.Hour)}, t0.Add(12*time.Hour))
	seed(t, store, drive, out1, back)

	sim := newSim([]*person.Person{driver, rider}, store, client)
	ctx := context.Background()
	if err := sim.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	// The driver offers the ride.
	if out, _, err := sim.Step(ctx, drive.NotificationTime); err != nil || !out.Notified || out.Key.Owner != driver.ID {
		t.Fatalf("driver step: %+v %v", out, err)
	}
	// The rider finds it and asks to join.
	if out, _, err := sim.Step(ctx, out1.NotificationTime); err != nil || !out.Notified || out.Key.Owner != rider.ID {
		t.Fatalf("rider step: %+v %v", out, err)
	}
	if len(svc.Joins()) != 1 || len(svc.Drives()) != 1 {
		t.Fatalf("joins=%d drives=%d, want 1 each", len(svc.Joins()), len(svc.Drives()))
	}

	pending, _ := sim.PersonRides(driver.ID)
	if len(pending.Requests) != 1 {
		t.Fatalf("driver has %d pending requests, want 1", len(pending.Requests))
	}
	q := pending.Requests[0]
	if !q.PassengerOK() || q.DriverOK() {
		t.Fatalf("detour %.3f should suit the rider only", q.DetourFactor())
	}
	if q.NotificationTime.Before(out1.NotificationTime) || q.NotificationTime.After(q.LastNotificationTime()) {
		t.Fatalf("request scheduled at %v outside its window", q.NotificationTime)
	}

	// The driver answers.
	out, _, err := sim.Step(ctx, q.NotificationTime)
	if err != nil {
		t.Fatalf("answer step: %v", err)
	}
	if out.Key.Kind != KindRequest || !out.Notified || out.RemoteRideID != svc.Drives()[0].ID {
		t.Fatalf("answer outcome %+v", out)
	}
	responses := svc.Responses()
	if len(responses) != 1 || responses[0].Accept {
		t.Fatalf("responses = %+v, want one rejection", responses)
	}
	if d := svc.Drives()[0]; len(d.Passengers) != 0 {
		t.Fatalf("rejected rider ended up on the drive: %+v", d)
	}

	riderRides, _ := sim.PersonRides(rider.ID)
	if len(riderRides.Rides) != 1 || len(riderRides.Requests) != 0 {
		t.Fatalf("rider ledger changed: %+v", riderRides)
	}
	if got := riderRides.Rides[0]; got.ID != back.ID || !got.NotificationTime.Equal(back.NotificationTime) {
		t.Fatalf("rider's return ride changed: %+v", got)
	}
	if pending, _ := sim.PersonRides(driver.ID); len(pending.Requests) != 0 {
		t.Fatal("answered request still pending")
	}
}

func TestSimulator_RebuildsQueueAfterCrash(t *testing.T) {
	db, err := infra.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	store, err := ledger.NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	persons := []*person.Person{commuter("w1", 1.3), commuter("w2", 1.3)}

	first := newSim(persons, store, &fakeRemote{})
	if err := first.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := first.Regenerate(ctx, t0); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if first.queue.Len() != 12 {
		t.Fatalf("queued %d, want 12", first.queue.Len())
	}

	// The removal reaches the ledger but the process dies before the queue
	// hears of it.
	pr := first.state.Rides["w1"].Clone()
	gone := pr.Rides[0]
	pr.RemoveRide(gone.ID)
	b := ledger.NewBatch()
	b.PutPersonRides(pr)
	if err := store.Commit(ctx, b); err != nil {
		t.Fatalf("commit removal: %v", err)
	}

	second := newSim(persons, store, &fakeRemote{})
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	want := make(map[Key]time.Time)
	for owner, pr := range st.Rides {
		for _, r := range pr.Rides {
			want[Key{Owner: owner, Kind: KindRide, ID: r.ID}] = r.NotificationTime
		}
	}
	got := second.Queue()
	if len(got) != len(want) || len(got) != 11 {
		t.Fatalf("queue has %d items, ledger %d, want 11", len(got), len(want))
	}
	for _, e := range got {
		at, ok := want[e.Key]
		if !ok || !at.Equal(e.At) {
			t.Fatalf("queue entry %v at %v does not match ledger", e.Key, e.At)
		}
		if e.Key.ID == gone.ID {
			t.Fatal("removed ride came back")
		}
	}
	if second.regenerationDue(t0) {
		t.Fatal("horizon not restored")
	}
}

func TestSimulator_MissingLedgerItemIsFatal(t *testing.T) {
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, ledger.NewMemoryStore(), &fakeRemote{})
	if err := sim.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	sim.queue.set(Key{Owner: "w1", Kind: KindRide, ID: "ghost"}, t0)

	_, _, err := sim.Step(context.Background(), t0)
	if !errors.Is(err, ledger.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestSimulator_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSleep = 10 * time.Millisecond
	store := ledger.NewMemoryStore()
	sim := New(cfg, nil, store, &fakeRemote{}, log.New(io.Discard))
	if err := sim.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if sim.Status().Horizon == nil {
		t.Fatal("run never generated")
	}
}

func TestSimulator_SleepIsClamped(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := scheduled("w1", ride.Trip{Origin: home, Destination: office, ArriveBy: t0.Add(9 * time.Hour)}, t0.Add(7*time.Hour))
	seed(t, store, r)
	sim := newSim([]*person.Person{commuter("w1", 1.3)}, store, &fakeRemote{})
	if err := sim.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	horizon := t0.AddDate(0, 0, 10)
	sim.state.LastGeneratedDay = &horizon

	if d := sim.sleepFor(t0); d != sim.cfg.MaxSleep {
		t.Fatalf("sleep = %v, want cap %v", d, sim.cfg.MaxSleep)
	}
	if d := sim.sleepFor(t0.Add(6*time.Hour + 30*time.Minute)); d != 30*time.Minute {
		t.Fatalf("sleep = %v, want 30m", d)
	}
	if d := sim.sleepFor(t0.Add(8 * time.Hour)); d != 0 {
		t.Fatalf("sleep = %v, want 0 for overdue item", d)
	}
}
