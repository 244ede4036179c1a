// README: HTTP client for the matching service: sessions, ride creation, search and join handshakes.
package carpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"ridesim/internal/modules/person"
	"ridesim/internal/modules/ride"
	"ridesim/internal/types"
)

// sessionSlack renews a token a little before it expires.
const sessionSlack = 30 * time.Second

type Client struct {
	base   *url.URL
	http   *http.Client
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[types.ID]Session
}

func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("service url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("service url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		now:      time.Now,
		sessions: make(map[types.ID]Session),
	}, nil
}

// Session returns a cached session for p, logging in (and registering first
// if the login is refused) when none is valid.
func (c *Client) Session(ctx context.Context, p *person.Person) (Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[p.ID]
	c.mu.Unlock()
	if ok && (s.Expires.IsZero() || c.now().Add(sessionSlack).Before(s.Expires)) {
		return s, nil
	}

	s, err := c.Login(ctx, p)
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRejected) {
		var userID string
		if userID, err = c.Register(ctx, p); err != nil {
			return Session{}, err
		}
		if s, err = c.Login(ctx, p); err == nil && s.UserID == "" {
			s.UserID = userID
		}
	}
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	c.sessions[p.ID] = s
	c.mu.Unlock()
	return s, nil
}

// Forget drops a cached session, e.g. after the service refused its token.
func (c *Client) Forget(id types.ID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Register creates the person's account. An existing account is not an error.
func (c *Client) Register(ctx context.Context, p *person.Person) (string, error) {
	var resp registerResponse
	err := c.do(ctx, "register", http.MethodPost, registerPath, nil, "", p.Profile(), &resp)
	if errors.Is(err, ErrConflict) {
		return "", nil
	}
	return resp.ID, err
}

func (c *Client) Login(ctx context.Context, p *person.Person) (Session, error) {
	var resp tokenResponse
	body := credentials{Username: p.Username, Password: p.Password}
	if err := c.do(ctx, "login", http.MethodPost, loginPath, nil, "", body, &resp); err != nil {
		return Session{}, err
	}
	if resp.Token == "" {
		return Session{}, &StatusError{Op: "login", Status: http.StatusOK, Err: ErrUnauthorized}
	}
	return newSession(resp.Token, resp.ID), nil
}

// CreateRide offers r on the service and returns the service's ride id.
func (c *Client) CreateRide(ctx context.Context, s Session, r ride.Ride) (string, error) {
	body := drivePayload{From: r.Origin, To: r.Destination, Passengers: r.Passengers, ArriveBy: r.ArriveBy}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create ride", http.MethodPost, drivesPath, nil, s.Token, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SearchRides asks for at most limit joinable rides similar to trip.
func (c *Client) SearchRides(ctx context.Context, s Session, trip ride.Trip, limit int) ([]Offer, error) {
	q := url.Values{}
	q.Set("from", formatPoint(trip.Origin))
	q.Set("to", formatPoint(trip.Destination))
	q.Set("arrive-by", trip.ArriveBy.Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.do(ctx, "search rides", http.MethodGet, searchPath, q, s.Token, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Drives) > limit {
		resp.Drives = resp.Drives[:limit]
	}
	return resp.Drives, nil
}

// RequestJoin asks to be taken along on the ride with the given id.
func (c *Client) RequestJoin(ctx context.Context, s Session, rideID string) error {
	path := drivesPath + "/" + url.PathEscape(rideID) + "/join"
	return c.do(ctx, "request join", http.MethodPost, path, nil, s.Token, struct{}{}, nil)
}

// RespondJoin accepts or rejects requesterID on the driver's ride.
func (c *Client) RespondJoin(ctx context.Context, s Session, rideID, requesterID string, accept bool) error {
	path := drivesPath + "/" + url.PathEscape(rideID) + "/requests/" + url.PathEscape(requesterID)
	return c.do(ctx, "respond join", http.MethodPost, path, nil, s.Token, joinResponse{Accept: accept}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, token string, body, out any) error {
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	target := c.base.ResolveReference(ref)

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("matching service call", "op", op, "method", method, "url", target.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return &StatusError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("matching service refused", "op", op, "status", resp.StatusCode, "body", string(msg))
		return &StatusError{Op: op, Status: resp.StatusCode, Err: classify(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &StatusError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%w: decode: %v", ErrUnavailable, err)}
	}
	return nil
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusConflict:
		return ErrConflict
	case status >= 400 && status < 500:
		return ErrRejected
	default:
		return ErrUnavailable
	}
}

// newSession reads the user id and expiry from the token claims when the
// token is a JWT. The signature is the service's business, not ours.
func newSession(token, userID string) Session {
	s := Session{Token: token, UserID: userID}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.Expires = exp.Time
	}
	if s.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			s.UserID = sub
		}
	}
	return s
}

func formatPoint(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
