package ledger

import (
	"fmt"
	"math/rand/v2"
	"time"

	"ridesim/internal/modules/distribution"
	"ridesim/internal/modules/person"
	"ridesim/internal/modules/ride"
)

// Generated reports one GenerateUntil call.
type Generated struct {
	Added []ride.Ride
	// Dropped counts rides whose notification window was already closed.
	Dropped int
	Days    int
}

// GenerateUntil extends the ledger with rides for every day in
// [max(minStart's date, LastGeneratedDay+1), endDay). Each ride gets a
// notification time drawn uniformly between the lower bound and its last
// notification time minus margin. The lower bound is minStart, or the first
// generated day's midnight when minStart is zero. Nothing changes if a day
// fails to generate.
func (pr *PersonRides) GenerateUntil(rnd *rand.Rand, p *person.Person, endDay, minStart time.Time, margin time.Duration) (Generated, error) {
	if p.ID != pr.Owner {
		return Generated{}, fmt.Errorf("ledger of %s cannot generate for %s", pr.Owner, p.ID)
	}
	if pr.LastGeneratedDay == nil && minStart.IsZero() {
		return Generated{}, fmt.Errorf("person %s: %w", p.ID, ErrPrecondition)
	}
	loc := endDay.Location()
	end := midnight(endDay, loc)

	var start time.Time
	if !minStart.IsZero() {
		start = midnight(minStart, loc)
	}
	if pr.LastGeneratedDay != nil {
		if next := midnight(*pr.LastGeneratedDay, loc).AddDate(0, 0, 1); next.After(start) {
			start = next
		}
	}
	lower := minStart
	if lower.IsZero() {
		lower = start
	}

	var res Generated
	var fresh []ride.Ride
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		rides, err := p.GenerateRidesForDay(rnd, day)
		if err != nil {
			return Generated{}, fmt.Errorf("generate %s: %w", day.Format(time.DateOnly), err)
		}
		for _, r := range rides {
			at, err := SampleNotificationTime(rnd, lower, r.LastNotificationTime(), margin)
			if err != nil {
				res.Dropped++
				continue
			}
			r.NotificationTime = at
			fresh = append(fresh, r)
		}
		res.Days++
	}
	if res.Days == 0 {
		return res, nil
	}
	res.Added = pr.AddRides(fresh...)
	last := end.AddDate(0, 0, -1)
	pr.LastGeneratedDay = &last
	return res, nil
}

// SampleNotificationTime draws uniformly from [lower, last-margin].
func SampleNotificationTime(rnd *rand.Rand, lower, last time.Time, margin time.Duration) (time.Time, error) {
	upper := last.Add(-margin)
	if upper.Before(lower) {
		return time.Time{}, fmt.Errorf("window [%s, %s]: %w",
			lower.Format(time.RFC3339), upper.Format(time.RFC3339), ErrNoNotificationWindow)
	}
	return distribution.Uniform(rnd, lower, upper), nil
}

// ResampleNotificationTime picks a fresh time for an item whose slot was
// missed. When no room is left before its margin it is due immediately.
func ResampleNotificationTime(rnd *rand.Rand, now, last time.Time, margin time.Duration) time.Time {
	at, err := SampleNotificationTime(rnd, now, last, margin)
	if err != nil {
		return now
	}
	return at
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
