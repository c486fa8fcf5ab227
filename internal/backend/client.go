// Package backend holds the pooled, circuit-guarded HTTP clients used to talk
// to the gateway's upstreams.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benjamin-med/medgate/internal/config"
)

var ErrCircuitOpen = errors.New("upstream circuit open")

// FailureKind classifies why a forward did not produce a response.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureTimeout   FailureKind = "timeout"
	FailureCircuit   FailureKind = "circuit_open"
	FailureCanceled  FailureKind = "canceled"
	FailureBody      FailureKind = "request_body"
)

// UpstreamError wraps a failed forward with its classification.
type UpstreamError struct {
	Upstream string
	Kind     FailureKind
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Upstream, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Status maps a forwarding failure to the status returned to the caller.
func Status(err error) int {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return http.StatusBadGateway
	}
	switch ue.Kind {
	case FailureCircuit:
		return http.StatusServiceUnavailable
	case FailureTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Client sends requests to one upstream through a bounded connection pool.
type Client struct {
	name    string
	cfg     config.UpstreamConfig
	http    *http.Client
	breaker *CircuitBreaker
}

// NewClient builds the pooled client for an upstream. wrap, when non-nil,
// decorates the transport (tracing).
func NewClient(name string, cfg config.UpstreamConfig, health *HealthTracker, wrap func(http.RoundTripper) http.RoundTripper) *Client {
	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxConcurrent,
		MaxIdleConnsPerHost:   cfg.MaxConcurrent,
		MaxConnsPerHost:       cfg.MaxConcurrent,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}
	if wrap != nil {
		rt = wrap(rt)
	}
	return &Client{
		name:    name,
		cfg:     cfg,
		http:    &http.Client{Transport: rt},
		breaker: health.Breaker(name),
	}
}

func (c *Client) Name() string   { return c.name }
func (c *Client) APIKey() string { return c.cfg.APIKey }

// URL joins the upstream base URL with a path.
func (c *Client) URL(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Do sends req. The configured timeout bounds the whole exchange including
// reading the body; streaming callers pass bounded=false so only the wait for
// response headers is limited. Responses with status >= 500 count against
// the circuit but are returned to the caller as-is.
func (c *Client) Do(req *http.Request, bounded bool) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, &UpstreamError{Upstream: c.name, Kind: FailureCircuit, Err: ErrCircuitOpen}
	}

	for k, v := range c.cfg.Headers {
		if v != "" && req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	cancel := context.CancelFunc(func() {})
	if bounded && c.cfg.Timeout > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(req.Context(), c.cfg.Timeout)
		req = req.WithContext(ctx)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		kind := classify(req.Context(), err)
		switch kind {
		case FailureCanceled, FailureBody:
			c.breaker.Abandon()
		default:
			c.breaker.RecordFailure()
		}
		return nil, &UpstreamError{Upstream: c.name, Kind: kind, Err: err}
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func classify(ctx context.Context, err error) FailureKind {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return FailureBody
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return FailureCanceled
	}
	return FailureTransport
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
