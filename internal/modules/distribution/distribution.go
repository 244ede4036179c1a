// README: Sampling primitives for routines: chances, durations and times of day.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// MaxAttempts bounds every rejection-sampling loop in the simulator.
const MaxAttempts = 50

// ErrOutOfBounds means bounded resampling was exhausted. It points at
// miscalibrated parameters and is not retried by callers.
var ErrOutOfBounds = errors.New("sample out of bounds")

// Bernoulli is true with probability P.
type Bernoulli struct {
	P float64 `json:"p"`
}

func (b Bernoulli) Sample(rnd *rand.Rand) bool {
	return rnd.Float64() < b.P
}

// NormalDuration draws durations from N(MeanHours, StddevHours), floored at zero.
type NormalDuration struct {
	MeanHours   float64 `json:"meanHours"`
	StddevHours float64 `json:"stddevHours"`
	TrimMinutes bool    `json:"trimMinutes,omitempty"`
}

func (d NormalDuration) Sample(rnd *rand.Rand) time.Duration {
	hours := math.Max(0, normal(rnd, d.MeanHours, d.StddevHours))
	dur := time.Duration(hours * float64(time.Hour))
	if d.TrimMinutes {
		dur = dur.Truncate(time.Minute)
	}
	return dur
}

// NormalTime draws moments around a time of day on a given date.
type NormalTime struct {
	Mean        TimeOfDay `json:"mean"`
	StddevHours float64   `json:"stddevHours"`
	TrimMinutes bool      `json:"trimMinutes,omitempty"`
}

// Sample returns a moment on the calendar date of day (in day's location).
// Draws that spill onto another date are redrawn up to MaxAttempts times.
func (d NormalTime) Sample(rnd *rand.Rand, day time.Time) (time.Time, error) {
	y, m, dd := day.Date()
	midnight := time.Date(y, m, dd, 0, 0, 0, 0, day.Location())
	center := d.Mean.On(day)
	for range MaxAttempts {
		offset := normal(rnd, 0, d.StddevHours)
		t := center.Add(time.Duration(offset * float64(time.Hour)))
		if d.TrimMinutes {
			t = t.Truncate(time.Minute)
		}
		if SameDate(t, midnight) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time around %s with stddev %.2fh on %s: %w",
		d.Mean, d.StddevHours, midnight.Format(time.DateOnly), ErrOutOfBounds)
}

// Uniform returns a moment drawn uniformly from [from, to]. Callers check
// that the interval is not empty.
func Uniform(rnd *rand.Rand, from, to time.Time) time.Time {
	span := to.Sub(from)
	if span <= 0 {
		return from
	}
	return from.Add(time.Duration(rnd.Int64N(int64(span) + 1)))
}

// Chance draws N(mean, stddev) clamped into [0, 1].
func Chance(rnd *rand.Rand, mean, stddev float64) float64 {
	return math.Min(1, math.Max(0, normal(rnd, mean, stddev)))
}

// SameDate reports whether a and b fall on the same calendar date, judged in
// b's location.
func SameDate(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func normal(rnd *rand.Rand, mean, stddev float64) float64 {
	return mean + stddev*rnd.NormFloat64()
}
