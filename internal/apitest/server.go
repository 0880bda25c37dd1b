// Package apitest provides an in-process fake of the pipeline service for
// integration tests: REST endpoints, token issuance, and a scriptable SSE
// stream.
package apitest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"pipewatch/internal/session"
	"pipewatch/pkg/models"
)

// MintToken builds an unsigned compact JWS with the given subject and
// expiry. The client never verifies signatures, so a fake one suffices.
func MintToken(sub string, exp time.Time) string {
	header, _ := json.Marshal(map[string]any{"alg": "HS256", "typ": "JWT"})
	payload, _ := json.Marshal(map[string]any{"sub": sub, "exp": exp.Unix()})
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("testsignature"))
}

// Server is the fake service. Zero-value maps are initialised by NewServer.
type Server struct {
	mu        sync.Mutex
	users     map[string]models.User      // by user id
	pipelines map[string]models.Pipeline  // by pipeline id
	stages    map[string][]models.Stage   // by pipeline id
	subs      map[string][]chan string    // stream subscribers by pipeline id
	force401  atomic.Bool
	protected atomic.Int32 // network attempts against protected routes
	listDelay atomic.Int64 // nanoseconds to stall GET /pipelines

	srv *httptest.Server
}

// NewServer starts the fake service on a local listener.
func NewServer() *Server {
	s := &Server{
		users:     map[string]models.User{},
		pipelines: map[string]models.Pipeline{},
		stages:    map[string][]models.Stage{},
		subs:      map[string][]chan string{},
	}

	e := echo.New()
	e.HideBanner = true

	e.POST("/login", s.handleLogin)
	e.POST("/register", s.handleRegister)

	protected := e.Group("", s.requireAuth)
	protected.GET("/user/:id", s.handleGetUser)
	protected.PUT("/user/:id", s.handleUpdateUser)
	protected.GET("/pipelines", s.handleListPipelines)
	protected.POST("/createpipelines", s.handleCreatePipeline)
	protected.POST("/pipelines/:id/start", s.handleStartPipeline)
	protected.POST("/pipelines/:id/cancel", s.handleCancelPipeline)
	protected.GET("/pipelines/:id/stages", s.handleGetStages)

	// The stream authenticates via query parameter, not bearer header.
	e.GET("/pipelines/:id/stream", s.handleStream)

	s.srv = httptest.NewServer(e)
	return s
}

// URL returns the base URL of the fake service.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake service down.
func (s *Server) Close() {
	s.CloseStreams()
	s.srv.Close()
}

// Force401 makes every protected route answer 401 regardless of token.
func (s *Server) Force401(v bool) { s.force401.Store(v) }

// SetListDelay stalls GET /pipelines by d, so tests can keep a response
// in flight while something else happens.
func (s *Server) SetListDelay(d time.Duration) { s.listDelay.Store(int64(d)) }

// ProtectedHits reports how many requests reached protected routes,
// authorised or not.
func (s *Server) ProtectedHits() int { return int(s.protected.Load()) }

// AddUser seeds a user.
func (s *Server) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// AddPipeline seeds a pipeline.
func (s *Server) AddPipeline(p models.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.PipelineID] = p
}

// SetStages seeds the stage list of a pipeline.
func (s *Server) SetStages(pipelineID string, stages []models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[pipelineID] = stages
}

// Push broadcasts one event to every open stream for the pipeline.
func (s *Server) Push(pipelineID string, ev models.StreamEvent) {
	data, _ := json.Marshal(ev)
	s.PushRaw(pipelineID, string(data))
}

// PushRaw broadcasts an arbitrary payload, letting tests exercise the
// client's malformed-event handling.
func (s *Server) PushRaw(pipelineID, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[pipelineID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// CloseStreams terminates every open stream connection, simulating a
// subscription-level transport fault.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chans := range s.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(s.subs, id)
	}
}

// OpenStreams reports how many stream connections are currently live.
func (s *Server) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, chans := range s.subs {
		n += len(chans)
	}
	return n
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.protected.Add(1)
		if s.force401.Load() {
			return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		if session.IsExpired(auth[len(prefix):]) {
			return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
		}
		return next(c)
	}
}

func (s *Server) handleLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	var user *models.User
	for _, u := range s.users {
		if u.Email == req.Email {
			user = &u
			break
		}
	}
	s.mu.Unlock()
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token := MintToken(user.UserID, time.Now().Add(time.Hour))
	return c.JSON(http.StatusOK, models.LoginResponse{Token: token, UserID: user.UserID, Email: user.Email})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	u := models.User{UserID: uuid.New().String(), Email: req.Email, Role: "worker"}
	s.AddUser(u)
	return c.JSON(http.StatusOK, models.RegisterResponse{Message: "registration successful"})
}

func (s *Server) handleGetUser(c echo.Context) error {
	s.mu.Lock()
	u, ok := s.users[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleUpdateUser(c echo.Context) error {
	var req models.UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	u.Name = req.Name
	u.Role = req.Role
	s.users[u.UserID] = u
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleListPipelines(c echo.Context) error {
	if d := time.Duration(s.listDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Pipeline{}
	for _, p := range s.pipelines {
		if p.UserID == userID || p.UserID == "" {
			out = append(out, p)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreatePipeline(c echo.Context) error {
	var req models.CreatePipelineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	p := models.Pipeline{
		PipelineID: uuid.New().String(),
		UserID:     req.UserID,
		Status:     models.PipelineCreated,
		CreatedAt:  time.Now(),
	}
	s.AddPipeline(p)
	return c.JSON(http.StatusAccepted, models.CreatePipelineResponse{Message: "Pipeline created", PipelineID: p.PipelineID})
}

func (s *Server) handleStartPipeline(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pipeline not found")
	}
	p.Status = models.PipelineRunning
	s.pipelines[p.PipelineID] = p
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Pipeline execution started"})
}

func (s *Server) handleCancelPipeline(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pipeline not found")
	}
	p.Status = models.PipelineCancelled
	s.pipelines[p.PipelineID] = p
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Pipeline cancelled"})
}

func (s *Server) handleGetStages(c echo.Context) error {
	s.mu.Lock()
	stages, ok := s.stages[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		stages = []models.Stage{}
	}
	return c.JSON(http.StatusOK, stages)
}

func (s *Server) handleStream(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" || session.IsExpired(token) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	pipelineID := c.Param("id")

	ch := make(chan string, 16)
	s.mu.Lock()
	s.subs[pipelineID] = append(s.subs[pipelineID], ch)
	s.mu.Unlock()
	defer s.dropSub(pipelineID, ch)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintf(resp, "data: %s\n\n", payload)
			resp.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (s *Server) dropSub(pipelineID string, ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.subs[pipelineID]
	for i, existing := range chans {
		if existing == ch {
			s.subs[pipelineID] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}
