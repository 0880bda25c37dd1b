// Package stream consumes the server-push event stream for one pipeline
// and reconciles incoming status events into the local store.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"pipewatch/internal/gateway"
	"pipewatch/pkg/models"
)

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client opens SSE connections against the service's stream endpoint.
type Client struct {
	base string
	http *http.Client
	log  Logger
}

// NewClient creates a stream Client. The underlying HTTP client carries no
// timeout: the connection is long-lived and torn down via context.
func NewClient(base string, log Logger) *Client {
	return &Client{base: base, http: &http.Client{}, log: log}
}

// Open connects to the stream for one pipeline and returns a cancellable
// sequence of events. The token travels as a query parameter because the
// stream transport cannot carry custom headers.
//
// The returned channel is closed when the subscription ends: on context
// cancellation or on a transport fault. There is no automatic reconnect;
// the pull refresh path is the fallback. Malformed payloads and events
// without a status are dropped with a warning and never end the
// subscription.
func (c *Client) Open(ctx context.Context, pipelineID, token string) (<-chan models.StreamEvent, error) {
	endpoint := c.base + "/pipelines/" + url.PathEscape(pipelineID) + "/stream?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &gateway.TransportError{Op: "GET stream", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, gateway.ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &gateway.TransportError{Op: "GET stream", Status: resp.StatusCode}
	}

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue // comments, blank keep-alive lines, event names
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var ev models.StreamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				c.log.Warn("dropping malformed stream event: %v", err)
				continue
			}
			if ev.Status == "" {
				c.log.Warn("dropping stream event without status: %s", payload)
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.log.Warn("stream for pipeline %s closed: %v", pipelineID, err)
		}
	}()

	return events, nil
}
