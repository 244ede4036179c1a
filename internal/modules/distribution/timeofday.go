package distribution

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeOfDay is an offset from midnight, encoded as "15:04".
type TimeOfDay time.Duration

func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// On returns the wall clock moment t on the date of day, in day's location.
// Days that gain or lose an hour keep the clock reading.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	off := time.Duration(t)
	return time.Date(y, m, d, int(off/time.Hour), int(off%time.Hour/time.Minute),
		int(off%time.Minute/time.Second), int(off%time.Second), day.Location())
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return fmt.Errorf("time of day %q: %w", s, err)
	}
	*t = Clock(parsed.Hour(), parsed.Minute())
	return nil
}
