// README: Wire types and errors for the remote carpool matching service.
package carpool

import (
	"errors"
	"fmt"
	"time"

	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

const (
	registerPath = "users/register"
	loginPath    = "users/login"
	drivesPath   = "drives"
	searchPath   = "drives/search"
)

var (
	// ErrUnavailable covers network failures and 5xx answers.
	ErrUnavailable = errors.New("matching service unavailable")
	// ErrRejected covers 4xx answers other than 401 and 409.
	ErrRejected = errors.New("matching service rejected the call")
	// ErrConflict is a 409: the resource already exists.
	ErrConflict     = errors.New("matching service reports a conflict")
	ErrUnauthorized = errors.New("matching service refused the credentials")
)

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Op     string
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Session is an authenticated identity on the service.
type Session struct {
	Token   string
	UserID  string
	Expires time.Time
}

// Offer is a joinable ride returned by a search.
type Offer struct {
	ID          string      `json:"id"`
	DriverRef   string      `json:"driver"`
	Origin      types.Point `json:"from"`
	Destination types.Point `json:"to"`
	ArriveBy    time.Time   `json:"arrive-by"`
	FreeSeats   int         `json:"free-seats"`
}

func (o Offer) Trip() ride.Trip {
	return ride.Trip{Origin: o.Origin, Destination: o.Destination, ArriveBy: o.ArriveBy}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
	ID    string `json:"id,omitempty"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type drivePayload struct {
	From       types.Point `json:"from"`
	To         types.Point `json:"to"`
	Passengers int         `json:"passenger-places"`
	ArriveBy   time.Time   `json:"arrive-by"`
}

type joinResponse struct {
	Accept bool `json:"accept"`
}

type searchResponse struct {
	Drives []Offer `json:"drives"`
}
