package session

import (
	"errors"
	"sync"

	"golang.org/x/oauth2"

	"pipewatch/pkg/models"
)

// ErrNoSession is returned when a token is requested and no session is
// active.
var ErrNoSession = errors.New("no active session")

// ErrExpired is returned by Start when the offered token is already past
// its expiry.
var ErrExpired = errors.New("token is already expired")

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Manager is the explicit session object passed by reference to the
// gateway and dispatcher. There is no ambient global: every component that
// needs the token holds a *Manager.
//
// It implements oauth2.TokenSource so the gateway's transport can attach
// the bearer credential without reaching into session internals.
type Manager struct {
	mu    sync.Mutex
	store *FileStore
	log   Logger

	token   string
	userID  string
	name    string
	role    string
	email   string
	epoch   uint64
	started bool
}

// NewManager creates a Manager, restoring any persisted session from the
// store. A persisted token that no longer decodes or has expired is
// discarded up front.
func NewManager(store *FileStore, log Logger) (*Manager, error) {
	m := &Manager{store: store, log: log}

	values, err := store.Load()
	if err != nil {
		return nil, err
	}
	token := values[KeyToken]
	if token == "" {
		return m, nil
	}
	if IsExpired(token) {
		m.log.Debug("persisted token expired, discarding")
		if err := store.Clear(); err != nil {
			m.log.Warn("failed to clear expired session: %v", err)
		}
		return m, nil
	}

	m.token = token
	m.userID = values[KeyUserID]
	m.name = values[KeyUserName]
	m.role = values[KeyUserRole]
	m.email = values[KeyUserEmail]
	m.started = true
	return m, nil
}

// Start begins a new session from a freshly issued token. The user id is
// derived from the token's subject claim.
func (m *Manager) Start(token string) error {
	claims, err := Decode(token)
	if err != nil {
		return err
	}
	if IsExpired(token) {
		return ErrExpired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = token
	m.userID = claims.Sub
	m.email = claims.Email
	m.name = ""
	m.role = ""
	m.epoch++
	m.started = true
	return m.persistLocked()
}

// End tears down the session: token, user id, and cached profile fields are
// cleared in memory and in durable storage. Idempotent; ending a session
// that is not active is a no-op.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	m.token = ""
	m.userID = ""
	m.name = ""
	m.role = ""
	m.email = ""
	m.epoch++
	m.started = false
	if err := m.store.Clear(); err != nil {
		m.log.Warn("failed to clear session state: %v", err)
	}
}

// SetProfile caches server-confirmed profile fields. The server response is
// authoritative; any provisional local edit is replaced wholesale.
func (m *Manager) SetProfile(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.name = u.Name
	m.role = u.Role
	if u.Email != "" {
		m.email = u.Email
	}
	if err := m.persistLocked(); err != nil {
		m.log.Warn("failed to persist profile fields: %v", err)
	}
}

// CurrentUserID returns the subject of the active session, or "" when no
// valid session exists.
func (m *Manager) CurrentUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ""
	}
	return m.userID
}

// Profile returns the cached profile fields.
func (m *Manager) Profile() models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.User{UserID: m.userID, Name: m.name, Role: m.role, Email: m.email}
}

// Valid reports whether an unexpired session is active.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	return token != "" && !IsExpired(token)
}

// Expired reports whether the current token is missing or past expiry.
func (m *Manager) Expired() bool {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	return IsExpired(token)
}

// Epoch returns a counter that advances on every Start and End. Callers
// holding an in-flight response compare epochs to discard results that
// began under a session that has since ended.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// RawToken returns the raw signed token, for transports that cannot carry
// headers (the stream endpoint takes it as a query parameter).
func (m *Manager) RawToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return nil, ErrNoSession
	}
	return &oauth2.Token{AccessToken: m.token, TokenType: "Bearer"}, nil
}

func (m *Manager) persistLocked() error {
	return m.store.Save(map[string]string{
		KeyToken:     m.token,
		KeyUserID:    m.userID,
		KeyUserName:  m.name,
		KeyUserRole:  m.role,
		KeyUserEmail: m.email,
	})
}
