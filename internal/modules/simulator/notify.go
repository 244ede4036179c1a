// README: Matching protocol; announces rides (join an offered ride or create one) and answers join requests.
package simulator

import (
	"context"
	"errors"
	"time"

	"ridesim/internal/modules/carpool"
	"ridesim/internal/modules/ledger"
	"ridesim/internal/modules/person"
	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

// notify performs the attempt for a queued item. On success it returns the
// matching-service id of the ride that was offered, joined or answered.
func (s *Simulator) notify(ctx context.Context, now time.Time, key Key, tx *txn) (string, bool) {
	p, ok := s.persons[key.Owner]
	if !ok {
		return "", false
	}
	pr := s.state.Rides[key.Owner]
	if key.Kind == KindRequest {
		q, _ := pr.Request(key.ID)
		return s.notifyRequest(ctx, p, q, tx)
	}
	r, _ := pr.Ride(key.ID)
	return s.notifyRide(ctx, now, p, r, tx)
}

// notifyRide tries to join one of the offered rides matching r. The first
// failed join stops the search and r is offered as a new ride instead.
func (s *Simulator) notifyRide(ctx context.Context, now time.Time, p *person.Person, r ride.Ride, tx *txn) (string, bool) {
	sess, ok := s.session(ctx, p, tx)
	if !ok {
		return "", false
	}

	offers, err := s.remote.SearchRides(ctx, sess, r.Trip, s.cfg.SearchLimit)
	if err != nil {
		s.remoteFailed(p, "search rides", err)
	}
	for _, o := range offers {
		if o.DriverRef == sess.UserID || o.FreeSeats <= 0 {
			continue
		}
		q := ride.NewRequest(p.ID, r.Trip, p.DetourTolerance, o.ID, o.Trip())
		q.RequesterRemoteID = sess.UserID
		if !q.PassengerOK() || q.LastNotificationTime().Before(now) {
			continue
		}
		if err := s.remote.RequestJoin(ctx, sess, o.ID); err != nil {
			s.remoteFailed(p, "request join", err)
			break
		}
		s.logger.Info("joined ride", "person", p.ID, "ride", r.ID, "target", o.ID, "detour", q.DetourFactor())
		if driver, ok := tx.localPerson(o.DriverRef); ok {
			s.enqueueDriverRequest(now, driver, q, tx)
		}
		return o.ID, true
	}

	remoteID, err := s.remote.CreateRide(ctx, sess, r)
	switch {
	case errors.Is(err, carpool.ErrConflict):
		s.logger.Info("ride already offered", "person", p.ID, "ride", r.ID)
		return remoteID, true
	case err != nil:
		s.remoteFailed(p, "create ride", err)
		return "", false
	}
	s.logger.Info("ride offered", "person", p.ID, "ride", r.ID, "remote", remoteID, "trip", r.Trip)
	return remoteID, true
}

// enqueueDriverRequest hands a join request to the simulated driver of the
// target ride, to be answered at a time drawn from what is left of the
// target's notification window.
func (s *Simulator) enqueueDriverRequest(now time.Time, driverID types.ID, q ride.Request, tx *txn) {
	driver, ok := s.persons[driverID]
	if !ok {
		s.logger.Warn("join target belongs to an unknown person", "driver", driverID, "ride", q.TargetRideID)
		return
	}
	q.DriverID = driverID
	q.DriverTolerance = driver.DetourTolerance
	q.NotificationTime = ledger.ResampleNotificationTime(s.rnd, now, q.LastNotificationTime(), s.cfg.SafetyMargin)
	if tx.edit(driverID).AddRequest(q) {
		s.logger.Debug("join request queued for driver", "driver", driverID, "requester", q.RequesterID, "at", q.NotificationTime)
	}
}

// notifyRequest answers a join request on behalf of the driver. A rejection
// is a completed answer, not a failure.
func (s *Simulator) notifyRequest(ctx context.Context, driver *person.Person, q ride.Request, tx *txn) (string, bool) {
	sess, ok := s.session(ctx, driver, tx)
	if !ok {
		return "", false
	}
	accept := q.DriverOK()
	err := s.remote.RespondJoin(ctx, sess, q.TargetRideID, q.RequesterRemoteID, accept)
	switch {
	case errors.Is(err, carpool.ErrConflict):
		s.logger.Info("join request already settled", "driver", driver.ID, "ride", q.TargetRideID, "requester", q.RequesterRemoteID)
		return q.TargetRideID, true
	case err != nil:
		s.remoteFailed(driver, "respond join", err)
		return "", false
	}
	s.logger.Info("join request answered", "driver", driver.ID, "ride", q.TargetRideID,
		"requester", q.RequesterID, "accept", accept, "detour", q.DetourFactor())
	return q.TargetRideID, true
}

// session logs p in and records the remote user id the first time it is seen.
func (s *Simulator) session(ctx context.Context, p *person.Person, tx *txn) (carpool.Session, bool) {
	sess, err := s.remote.Session(ctx, p)
	if err != nil {
		s.remoteFailed(p, "session", err)
		return carpool.Session{}, false
	}
	if sess.UserID != "" {
		if id, ok := tx.localPerson(sess.UserID); !ok || id != p.ID {
			tx.batch.SetRemoteID(sess.UserID, p.ID)
		}
	}
	return sess, true
}

type forgetter interface {
	Forget(id types.ID)
}

func (s *Simulator) remoteFailed(p *person.Person, op string, err error) {
	s.logger.Warn("matching service call failed", "op", op, "person", p.ID, "err", err)
	if !errors.Is(err, carpool.ErrUnauthorized) {
		return
	}
	if f, ok := s.remote.(forgetter); ok {
		f.Forget(p.ID)
	}
}
