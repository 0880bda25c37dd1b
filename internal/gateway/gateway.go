// Package gateway wraps outbound calls to the pipeline service with the
// current session credential and reacts to authorization failures by
// tearing the session down.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"pipewatch/internal/session"
)

// ErrUnauthorized reports that the server rejected the credential or that
// the session expired before the call was attempted. Callers must not
// retry: the session has already been torn down and a fresh login is
// required.
var ErrUnauthorized = errors.New("unauthorized")

// TransportError reports a connectivity or server fault. Whether to retry
// is the caller's choice; the gateway never retries on its own.
type TransportError struct {
	Op     string
	Status int // zero when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Gateway issues JSON requests against the service. Protected calls are
// gated on token expiry before any network attempt and attach the bearer
// credential via an oauth2 transport over the session's token source.
type Gateway struct {
	base   string
	sess   *session.Manager
	client *http.Client // bearer-injecting, protected endpoints
	public *http.Client // plain, login/register
	log    Logger
}

// New creates a Gateway against the given base URL.
func New(base string, sess *session.Manager, timeout time.Duration, log Logger) *Gateway {
	return &Gateway{
		base: base,
		sess: sess,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: sess},
		},
		public: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Do issues an authenticated JSON request. If the session token is already
// expired the call is short-circuited: the session ends and ErrUnauthorized
// is returned without touching the network. A 401 from the server likewise
// ends the session.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	if g.sess.Expired() {
		g.log.Debug("token expired before %s %s, ending session", method, path)
		g.sess.End()
		return ErrUnauthorized
	}
	return g.roundTrip(ctx, g.client, method, path, body, out, true)
}

// DoPublic issues an unauthenticated JSON request (login, register).
func (g *Gateway) DoPublic(ctx context.Context, method, path string, body, out any) error {
	return g.roundTrip(ctx, g.public, method, path, body, out, false)
}

func (g *Gateway) roundTrip(ctx context.Context, client *http.Client, method, path string, body, out any, protected bool) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			g.sess.End()
			return ErrUnauthorized
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if protected && resp.StatusCode == http.StatusUnauthorized {
		g.log.Debug("%s rejected with 401, ending session", op)
		g.sess.End()
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: readErrorBody(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("failed to decode response body: %w", err)}
		}
	}
	return nil
}

// readErrorBody extracts the service's {"error": "..."} payload when
// present so failures surface with the server's own message.
func readErrorBody(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return nil
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
		if payload.Message != "" {
			return errors.New(payload.Message)
		}
	}
	return nil
}
