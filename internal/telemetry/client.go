package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TransportError reports a failure delivering an event to the remote
// collector. The relay loop reacts by leaving the buffered record in place
// for the next cycle; it never reaches the foreground command.
type TransportError struct {
	URL    string
	Status int // zero when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("collector %s responded %d", e.URL, e.Status)
	}
	return fmt.Sprintf("sending to collector %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client forwards buffered events to a collector. Implementations must be
// safe to call from the relay loop and must release any underlying
// connections on Close.
type Client interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// DisabledClient drops every event. Selected when consent is absent or no
// credential can be resolved, so the relay loop can run without branching
// at each call site.
type DisabledClient struct{}

func (DisabledClient) Send(context.Context, Event) error { return nil }
func (DisabledClient) Close() error                      { return nil }

// HTTPClient delivers events to a remote collector as JSON over HTTP.
type HTTPClient struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewHTTPClient returns a collector client posting to url, authenticating
// with apiKey. The timeout bounds each individual send.
func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// Send posts one event. Any network failure or non-2xx response is a
// *TransportError.
func (c *HTTPClient) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return &TransportError{URL: c.url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{URL: c.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{URL: c.url, Status: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections held by the underlying transport.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
