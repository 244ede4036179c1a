// README: Person aggregate and the recurring activities that make up a routine.
package person

import (
	"errors"
	"fmt"

	"ridesim/internal/modules/distribution"
	"ridesim/internal/types"
)

type Role string

const (
	RoleWork  Role = "work"
	RoleHobby Role = "hobby"
)

var (
	ErrInvalidPerson   = errors.New("invalid person")
	ErrInvalidActivity = errors.New("invalid activity")
)

// Activity is a recurring obligation. Bridge is the chance the activity flows
// straight into the next one without a trip home in between.
type Activity struct {
	Role       Role                        `json:"role"`
	Occurrence distribution.Bernoulli      `json:"occurrence"`
	Start      distribution.NormalTime     `json:"start"`
	Duration   distribution.NormalDuration `json:"duration"`
	Bridge     distribution.Bernoulli      `json:"bridge"`
	Locations  []types.Point               `json:"locations"`
}

func (a Activity) Validate() error {
	if len(a.Locations) == 0 {
		return fmt.Errorf("%w: %s activity has no locations", ErrInvalidActivity, a.Role)
	}
	if a.Occurrence.P < 0 || a.Occurrence.P > 1 || a.Bridge.P < 0 || a.Bridge.P > 1 {
		return fmt.Errorf("%w: %s activity chances must lie in [0,1]", ErrInvalidActivity, a.Role)
	}
	if a.Start.StddevHours < 0 || a.Duration.StddevHours < 0 {
		return fmt.Errorf("%w: %s activity has a negative stddev", ErrInvalidActivity, a.Role)
	}
	return nil
}

// Person is a simulated rider. Two persons are the same iff their IDs match.
type Person struct {
	ID              types.ID    `json:"id"`
	Firstname       string      `json:"firstname"`
	Lastname        string      `json:"lastname"`
	Username        string      `json:"username"`
	Gender          string      `json:"gender"`
	Password        string      `json:"password"`
	Home            types.Point `json:"home"`
	Capacity        int         `json:"capacity"`
	DetourTolerance float64     `json:"detourTolerance"`
	Activities      []Activity  `json:"activities"`
}

func (p *Person) Equal(other *Person) bool {
	return other != nil && p.ID == other.ID
}

func (p *Person) Validate() error {
	if p.ID == "" || p.Username == "" {
		return fmt.Errorf("%w: id and username are required", ErrInvalidPerson)
	}
	if p.Capacity < 0 {
		return fmt.Errorf("%w: %s has negative capacity", ErrInvalidPerson, p.ID)
	}
	if p.DetourTolerance < 1 {
		return fmt.Errorf("%w: %s detour tolerance %.2f below 1", ErrInvalidPerson, p.ID, p.DetourTolerance)
	}
	for _, a := range p.Activities {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("person %s: %w", p.ID, err)
		}
	}
	return nil
}

// Activity returns the first activity with the given role.
func (p *Person) Activity(role Role) (Activity, bool) {
	for _, a := range p.Activities {
		if a.Role == role {
			return a, true
		}
	}
	return Activity{}, false
}

// Profile is the registration payload for the matching service.
func (p *Person) Profile() map[string]any {
	return map[string]any{
		"firstname": p.Firstname,
		"lastname":  p.Lastname,
		"username":  p.Username,
		"password":  p.Password,
		"gender":    p.Gender,
		"home":      p.Home,
	}
}
