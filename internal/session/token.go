// Package session owns the authentication token: decoding, expiry checks,
// durable storage, and the session lifecycle (start, teardown, auto-logout).
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDecode reports a structurally malformed token. A token that fails to
// decode is always treated as expired (fail-closed).
var ErrDecode = errors.New("malformed token")

// Claims is the decoded payload of a session token.
type Claims struct {
	Sub   string `json:"sub"`
	Exp   int64  `json:"exp"` // seconds since epoch; zero means absent
	Email string `json:"email,omitempty"`
}

// Decode parses the payload segment of a compact JWS token. It performs no
// signature verification: the server is the sole authority on token
// validity, the client only inspects the claims it needs.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrDecode, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &claims, nil
}

// IsExpired reports whether a token is unusable. True if the token fails to
// decode, carries no exp claim, or the current time is at or past expiry.
func IsExpired(token string) bool {
	claims, err := Decode(token)
	if err != nil {
		return true
	}
	if claims.Exp == 0 {
		return true
	}
	return time.Now().UnixMilli() >= claims.Exp*1000
}
