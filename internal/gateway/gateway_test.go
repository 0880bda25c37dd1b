package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipewatch/internal/apitest"
	"pipewatch/internal/session"
	"pipewatch/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Warn(msg string, args ...any)  {}

func newSession(t *testing.T) *session.Manager {
	t.Helper()
	m, err := session.NewManager(session.NewFileStore(t.TempDir()), &NoOpLogger{})
	require.NoError(t, err)
	return m
}

func login(t *testing.T, m *session.Manager, sub string) {
	t.Helper()
	require.NoError(t, m.Start(apitest.MintToken(sub, time.Now().Add(time.Hour))))
}

func TestDo_NoSessionShortCircuitsWithoutNetwork(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	sess := newSession(t)
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	var out models.User
	err := gw.Do(context.Background(), http.MethodGet, "/user/u1", nil, &out)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, srv.ProtectedHits())
}

func TestDo_AfterEndSessionIsUnauthorizedWithoutNetwork(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{UserID: "u1", Email: "u1@acme.com"})
	sess := newSession(t)
	login(t, sess, "u1")
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	// a protected call works while the session is live
	var out models.User
	require.NoError(t, gw.Do(context.Background(), http.MethodGet, "/user/u1", nil, &out))
	hits := srv.ProtectedHits()

	sess.End()
	err := gw.Do(context.Background(), http.MethodGet, "/user/u1", nil, &out)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, hits, srv.ProtectedHits(), "no network attempt after endSession")
}

func TestDo_ExpiredTokenEndsSessionBeforeNetwork(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	sess := newSession(t)
	require.NoError(t, sess.Start(apitest.MintToken("u1", time.Now().Add(1200*time.Millisecond))))
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	time.Sleep(1300 * time.Millisecond)

	var out models.User
	err := gw.Do(context.Background(), http.MethodGet, "/user/u1", nil, &out)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, sess.Valid(), "expiry detection must tear the session down")
	assert.Equal(t, 0, srv.ProtectedHits())
}

func TestDo_401EndsSession(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.AddUser(models.User{UserID: "u1", Email: "u1@acme.com"})
	sess := newSession(t)
	login(t, sess, "u1")
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	srv.Force401(true)
	var out models.User
	err := gw.Do(context.Background(), http.MethodGet, "/user/u1", nil, &out)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, sess.Valid())
	assert.Equal(t, "", sess.CurrentUserID())
}

func TestDo_ServerFaultIsTransportError(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	sess := newSession(t)
	login(t, sess, "u1")
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	var out models.User
	err := gw.Do(context.Background(), http.MethodGet, "/user/missing", nil, &out)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.Status)
	assert.True(t, sess.Valid(), "non-401 faults must not end the session")
}

func TestDo_ConnectionFailureIsTransportError(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close() // nothing listening any more
	sess := newSession(t)
	login(t, sess, "u1")
	gw := New(down.URL, sess, time.Second, &NoOpLogger{})

	err := gw.Do(context.Background(), http.MethodGet, "/pipelines", nil, nil)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, sess.Valid())
}

func TestDoPublic_NeedsNoSession(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	sess := newSession(t)
	gw := New(srv.URL(), sess, 5*time.Second, &NoOpLogger{})

	var resp models.RegisterResponse
	err := gw.DoPublic(context.Background(), http.MethodPost, "/register",
		models.RegisterRequest{Email: "new@acme.com", Password: "secret"}, &resp)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Message)
}
