// README: In-process fake of the carpool matching service for tests; gin routes behind JWT bearer auth.
package carpooltest

import (
	"cmp"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ridesim/internal/http/middleware"
	"ridesim/internal/types"
)

// Operation names accepted by Fail and Calls.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpCreate   = "create"
	OpSearch   = "search"
	OpJoin     = "join"
	OpRespond  = "respond"
)

type Drive struct {
	ID         string
	Driver     string
	From       types.Point
	To         types.Point
	ArriveBy   time.Time
	Seats      int
	Passengers []string
	Pending    []string
}

func (d Drive) FreeSeats() int { return d.Seats - len(d.Passengers) }

type Join struct {
	DriveID string
	UserID  string
}

type Response struct {
	DriveID string
	UserID  string
	Accept  bool
}

type user struct {
	id       string
	username string
	password string
}

type Service struct {
	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration

	server *httptest.Server
	secret []byte

	mu        sync.Mutex
	users     map[string]*user
	drives    map[string]*Drive
	order     []string
	joins     []Join
	responses []Response
	failures  map[string]int
	calls     map[string]int
	nextID    int
}

// New starts the fake service. Close it when done.
func New() *Service {
	s := &Service{
		TokenTTL: time.Hour,
		secret:   []byte("carpooltest-secret"),
		users:    make(map[string]*user),
		drives:   make(map[string]*Drive),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
	s.server = httptest.NewServer(s.router())
	return s
}

func (s *Service) URL() string { return s.server.URL }

func (s *Service) Close() { s.server.Close() }

// Fail makes every later call of op answer status. Zero restores normal service.
func (s *Service) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, op)
		return
	}
	s.failures[op] = status
}

func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AddUser registers an account directly and returns its id.
func (s *Service) AddUser(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUser(username, password).id
}

// UserID returns the id of a registered username, or "".
func (s *Service) UserID(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return u.id
	}
	return ""
}

// AddDrive publishes a drive as if created by d.Driver and returns its id.
func (s *Service) AddDrive(d Drive) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDrive(d).ID
}

func (s *Service) Drives() []Drive {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Drive, 0, len(s.order))
	for _, id := range s.order {
		d := *s.drives[id]
		d.Passengers = slices.Clone(d.Passengers)
		d.Pending = slices.Clone(d.Pending)
		out = append(out, d)
	}
	return out
}

func (s *Service) Joins() []Join {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.joins)
}

func (s *Service) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.responses)
}

// Token mints a token for userID the way the login route does.
func (s *Service) Token(userID string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (s *Service) verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Service) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(log.New(io.Discard)))

	r.POST("/users/register", s.gate(OpRegister), s.register)
	r.POST("/users/login", s.gate(OpLogin), s.login)

	authed := r.Group("/drives", middleware.Auth(s.verify))
	authed.POST("", s.gate(OpCreate), s.createDrive)
	authed.GET("/search", s.gate(OpSearch), s.search)
	authed.POST("/:id/join", s.gate(OpJoin), s.join)
	authed.POST("/:id/requests/:user", s.gate(OpRespond), s.respond)
	return r
}

// gate counts calls and answers injected failures.
func (s *Service) gate(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[op]++
		status := s.failures[op]
		s.mu.Unlock()
		if status != 0 {
			c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
			return
		}
		c.Next()
	}
}

func (s *Service) register(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[body.Username]; ok {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}
	u := s.addUser(body.Username, body.Password)
	c.JSON(http.StatusCreated, gin.H{"id": u.id})
}

func (s *Service) login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
		return
	}
	s.mu.Lock()
	u, ok := s.users[body.Username]
	s.mu.Unlock()
	if !ok || u.password != body.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": s.Token(u.id, s.TokenTTL)})
}

type drivePayload struct {
	From       types.Point `json:"from"`
	To         types.Point `json:"to"`
	Passengers int         `json:"passenger-places"`
	ArriveBy   time.Time   `json:"arrive-by"`
}

type offer struct {
	ID        string      `json:"id"`
	Driver    string      `json:"driver"`
	From      types.Point `json:"from"`
	To        types.Point `json:"to"`
	ArriveBy  time.Time   `json:"arrive-by"`
	FreeSeats int         `json:"free-seats"`
}

func (s *Service) createDrive(c *gin.Context) {
	var body drivePayload
	if err := c.ShouldBindJSON(&body); err != nil || body.Passengers < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad drive"})
		return
	}
	driver := middleware.CallerUID(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drives {
		if d.Driver == driver && d.From == body.From && d.To == body.To && d.ArriveBy.Equal(body.ArriveBy) {
			c.JSON(http.StatusConflict, gin.H{"error": "drive exists", "id": d.ID})
			return
		}
	}
	d := s.addDrive(Drive{Driver: driver, From: body.From, To: body.To, ArriveBy: body.ArriveBy, Seats: body.Passengers})
	c.JSON(http.StatusCreated, gin.H{"id": d.ID})
}

// search lists drives with free seats, closest arrival first.
func (s *Service) search(c *gin.Context) {
	arriveBy, err := time.Parse(time.RFC3339, c.Query("arrive-by"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "arrive-by required"})
		return
	}
	limit := 5
	if _, err := fmt.Sscan(c.DefaultQuery("limit", "5"), &limit); err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
		return
	}

	s.mu.Lock()
	var found []offer
	for _, id := range s.order {
		d := s.drives[id]
		if d.FreeSeats() <= 0 {
			continue
		}
		found = append(found, offer{ID: d.ID, Driver: d.Driver, From: d.From, To: d.To, ArriveBy: d.ArriveBy, FreeSeats: d.FreeSeats()})
	}
	s.mu.Unlock()

	gap := func(o offer) time.Duration { return max(o.ArriveBy.Sub(arriveBy), arriveBy.Sub(o.ArriveBy)) }
	slices.SortStableFunc(found, func(a, b offer) int { return cmp.Compare(gap(a), gap(b)) })
	if len(found) > limit {
		found = found[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"drives": found})
}

func (s *Service) join(c *gin.Context) {
	caller := middleware.CallerUID(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drives[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such drive"})
		return
	}
	if d.Driver == caller || slices.Contains(d.Pending, caller) || slices.Contains(d.Passengers, caller) {
		c.JSON(http.StatusConflict, gin.H{"error": "already part of drive"})
		return
	}
	d.Pending = append(d.Pending, caller)
	s.joins = append(s.joins, Join{DriveID: d.ID, UserID: caller})
	c.Status(http.StatusAccepted)
}

func (s *Service) respond(c *gin.Context) {
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
		return
	}
	caller := middleware.CallerUID(c)
	requester := c.Param("user")
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drives[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such drive"})
		return
	}
	if d.Driver != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your drive"})
		return
	}
	i := slices.Index(d.Pending, requester)
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending request"})
		return
	}
	d.Pending = slices.Delete(d.Pending, i, i+1)
	if body.Accept {
		if d.FreeSeats() <= 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "drive is full"})
			return
		}
		d.Passengers = append(d.Passengers, requester)
	}
	s.responses = append(s.responses, Response{DriveID: d.ID, UserID: requester, Accept: body.Accept})
	c.Status(http.StatusNoContent)
}

func (s *Service) addUser(username, password string) *user {
	s.nextID++
	u := &user{id: fmt.Sprintf("u%d", s.nextID), username: username, password: password}
	s.users[username] = u
	return u
}

func (s *Service) addDrive(d Drive) *Drive {
	s.nextID++
	d.ID = fmt.Sprintf("d%d", s.nextID)
	s.drives[d.ID] = &d
	s.order = append(s.order, d.ID)
	return &d
}
