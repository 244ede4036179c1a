// README: Notification state machine; decides what happens to a queued item at a given time.
package simulator

import "time"

type Action int

const (
	// ActionWait leaves the item queued; its time has not come.
	ActionWait Action = iota
	// ActionDiscard drops an item that can no longer be announced.
	ActionDiscard
	// ActionAttempt notifies the matching service now.
	ActionAttempt
	// ActionReschedule draws a new time for an item whose slot was missed.
	ActionReschedule
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionDiscard:
		return "discard"
	case ActionAttempt:
		return "attempt"
	case ActionReschedule:
		return "reschedule"
	}
	return "unknown"
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Decide picks exactly one action for an item due at notificationTime whose
// announcement stops making sense after lastPossible. Epsilon absorbs
// scheduler jitter around "now".
func Decide(now, notificationTime, lastPossible time.Time, epsilon time.Duration) Action {
	due := !now.Add(epsilon).Before(notificationTime)
	late := now.Sub(notificationTime)
	switch {
	case due && lastPossible.Before(now):
		return ActionDiscard
	case due && late < epsilon:
		return ActionAttempt
	case late >= epsilon:
		return ActionReschedule
	default:
		return ActionWait
	}
}
