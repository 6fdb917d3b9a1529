package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrNoEndpoint = errors.New("guest: persistence endpoint is not configured")

// StatusError is returned when the endpoint answers with anything but 200.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("guest store returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("guest store returned status %d: %s", e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// HTTPPersister stores guests by PUTting them as JSON to a remote endpoint.
type HTTPPersister struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// HTTPOption configures an HTTPPersister.
type HTTPOption func(*HTTPPersister)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPPersister) {
		p.client = c
	}
}

// WithTimeout bounds each store call. Zero leaves the call unbounded.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPPersister) {
		p.timeout = d
	}
}

// NewHTTPPersister creates a persister for endpoint.
func NewHTTPPersister(endpoint string, opts ...HTTPOption) (*HTTPPersister, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	p := &HTTPPersister{
		endpoint: endpoint,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store sends u to the endpoint. Only 200 OK counts as stored.
func (p *HTTPPersister) Store(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode guest %s: %w", u.ID, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("store guest %s: %w", u.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
