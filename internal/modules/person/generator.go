// README: Routine generator: builds a randomised working person with work and hobby activities.
package person

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridesim/internal/modules/distribution"
	"ridesim/internal/modules/location"
	"ridesim/internal/types"
)

const (
	workDistanceScale  = 1.0
	hobbyDistanceScale = 0.8
	maxHobbyLocations  = 8
	maxCapacity        = 4
)

// priorDay anchors time-of-day priors; a fixed UTC date avoids DST gaps.
var priorDay = time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)

// Identity is who a generated person is, independent of their routine.
type Identity struct {
	Firstname string
	Lastname  string
	Gender    string
	Password  string
}

var (
	firstnames = map[string][]string{
		"female": {"Emma", "Louise", "Olivia", "Elena", "Marie", "Lina", "Nora", "Julie", "Sarah", "Lotte"},
		"male":   {"Noah", "Arthur", "Louis", "Liam", "Lucas", "Adam", "Jules", "Victor", "Finn", "Matteo"},
	}
	lastnames = []string{"Peeters", "Janssens", "Maes", "Jacobs", "Mertens", "Willems", "Claes", "Goossens", "Wouters", "De Smet", "Dubois", "Lambert"}
)

// RandomIdentity draws a plausible identity with a random password.
func RandomIdentity(rnd *rand.Rand) Identity {
	gender := "female"
	if rnd.IntN(2) == 1 {
		gender = "male"
	}
	names := firstnames[gender]
	return Identity{
		Firstname: names[rnd.IntN(len(names))],
		Lastname:  lastnames[rnd.IntN(len(lastnames))],
		Gender:    gender,
		Password:  strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

type Generator struct {
	locations location.Sampler
}

func NewGenerator(locations location.Sampler) *Generator {
	return &Generator{locations: locations}
}

// Generate builds a person with a home, a work activity and a hobby activity
// whose distributions are themselves drawn from population-wide priors.
func (g *Generator) Generate(rnd *rand.Rand, id Identity) (*Person, error) {
	home, err := g.locations.SampleRandom(rnd)
	if err != nil {
		return nil, fmt.Errorf("home: %w", err)
	}
	work, err := g.workActivity(rnd, home)
	if err != nil {
		return nil, err
	}
	hobby, err := g.hobbyActivity(rnd, home)
	if err != nil {
		return nil, err
	}

	uid := uuid.New()
	p := &Person{
		ID:              types.ID(uid.String()),
		Firstname:       id.Firstname,
		Lastname:        id.Lastname,
		Username:        strings.ToLower(strings.ReplaceAll(id.Firstname+"_"+id.Lastname, " ", "")) + "_" + uid.String()[:8],
		Gender:          id.Gender,
		Password:        id.Password,
		Home:            home,
		Capacity:        1 + rnd.IntN(maxCapacity),
		DetourTolerance: 1 + math.Abs(0.3+0.15*rnd.NormFloat64()),
		Activities:      []Activity{work, hobby},
	}
	return p, p.Validate()
}

func (g *Generator) workActivity(rnd *rand.Rand, home types.Point) (Activity, error) {
	loc, err := g.locations.SampleNear(rnd, home, workDistanceScale)
	if err != nil {
		return Activity{}, fmt.Errorf("work location: %w", err)
	}
	start, err := randomTimeOfDay(rnd, distribution.Clock(9, 0), 1)
	if err != nil {
		return Activity{}, fmt.Errorf("work start: %w", err)
	}
	return Activity{
		Role:       RoleWork,
		Occurrence: distribution.Bernoulli{P: distribution.Chance(rnd, 0.9, 0.1)},
		Start:      distribution.NormalTime{Mean: start, StddevHours: randomHours(rnd, 0.5, 0.3), TrimMinutes: true},
		Duration:   distribution.NormalDuration{MeanHours: randomHours(rnd, 7, 1), StddevHours: randomHours(rnd, 1, 0.5), TrimMinutes: true},
		Bridge:     distribution.Bernoulli{P: distribution.Chance(rnd, 0.2, 0.2)},
		Locations:  []types.Point{loc},
	}, nil
}

func (g *Generator) hobbyActivity(rnd *rand.Rand, home types.Point) (Activity, error) {
	n := 1 + rnd.IntN(maxHobbyLocations)
	locs := make([]types.Point, 0, n)
	for range n {
		loc, err := g.locations.SampleNear(rnd, home, hobbyDistanceScale)
		if err != nil {
			return Activity{}, fmt.Errorf("hobby location: %w", err)
		}
		locs = append(locs, loc)
	}
	start, err := randomTimeOfDay(rnd, distribution.Clock(19, 0), 1)
	if err != nil {
		return Activity{}, fmt.Errorf("hobby start: %w", err)
	}
	return Activity{
		Role:       RoleHobby,
		Occurrence: distribution.Bernoulli{P: distribution.Chance(rnd, 0.4, 0.3)},
		Start:      distribution.NormalTime{Mean: start, StddevHours: randomHours(rnd, 2, 0.5), TrimMinutes: true},
		Duration:   distribution.NormalDuration{MeanHours: randomHours(rnd, 2, 0.2), StddevHours: randomHours(rnd, 1, 0.2), TrimMinutes: true},
		Bridge:     distribution.Bernoulli{P: distribution.Chance(rnd, 0.2, 0.2)},
		Locations:  locs,
	}, nil
}

// randomTimeOfDay draws a time of day around mean.
func randomTimeOfDay(rnd *rand.Rand, mean distribution.TimeOfDay, stddevHours float64) (distribution.TimeOfDay, error) {
	t, err := distribution.NormalTime{Mean: mean, StddevHours: stddevHours, TrimMinutes: true}.Sample(rnd, priorDay)
	if err != nil {
		return 0, err
	}
	return distribution.TimeOfDay(t.Sub(priorDay)), nil
}

// randomHours draws a non-negative number of hours.
func randomHours(rnd *rand.Rand, mean, stddev float64) float64 {
	return distribution.NormalDuration{MeanHours: mean, StddevHours: stddev}.Sample(rnd).Hours()
}
