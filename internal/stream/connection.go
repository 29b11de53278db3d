// Package stream keeps one long-lived event stream open against a control
// server, reconnecting with capped exponential backoff, and forwards decoded
// commands to a sink in arrival order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"

	"go2tv.app/beam-remote/internal/command"
	"go2tv.app/beam-remote/internal/domain"
	"go2tv.app/beam-remote/internal/metrics"
	"go2tv.app/beam-remote/internal/sse"
)

const (
	eventStreamMediaType = "text/event-stream"

	DefaultClientIDParam  = "deviceId"
	DefaultClientIDHeader = "X-Device-ID"

	defaultResponseHeaderTimeout = 30 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("stream connection is already running")
	errStreamClosed   = errors.New("stream closed by peer")
)

// StatusError is returned for a non-2xx response to the stream request.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

type readError struct {
	err error
}

func (e *readError) Error() string { return "read stream: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// Endpoint identifies the control server and this client. It is copied on
// construction and never mutated afterwards.
type Endpoint struct {
	URL      string
	ClientID string

	// ClientIDParam is the query parameter carrying ClientID; empty disables it.
	ClientIDParam string
	// ClientIDHeader is the request header carrying ClientID; empty disables it.
	ClientIDHeader string

	Headers map[string]string
}

// Sink receives decoded commands. Submit must not block on command execution.
type Sink interface {
	Submit(cmd domain.Command) bool
}

type Config struct {
	Endpoint    Endpoint
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. Once the
	// stream is open, idle periods are unbounded.
	ResponseHeaderTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnState is called synchronously from the connection loop on every state
	// transition.
	OnState func(domain.ConnectionState)

	// HTTPClient overrides the streaming client. It must not set a total
	// timeout.
	HTTPClient *http.Client
}

// Connection owns the connect, stream, backoff, reconnect cycle for one
// endpoint. State and backoff are touched only by the goroutine inside Run.
type Connection struct {
	endpoint   Endpoint
	requestURL string
	client     *http.Client
	sink       Sink
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onState    func(domain.ConnectionState)

	backoff *Backoff
	state   domain.ConnectionState
	running atomic.Bool
}

func New(cfg Config, sink Sink) (*Connection, error) {
	if sink == nil {
		return nil, errors.New("command sink is required")
	}

	endpoint := cfg.Endpoint
	endpoint.URL = strings.TrimSpace(endpoint.URL)
	endpoint.Headers = cloneHeaders(endpoint.Headers)
	requestURL, err := buildRequestURL(endpoint)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newStreamingClient(cfg.ResponseHeaderTimeout)
	}

	return &Connection{
		endpoint:   endpoint,
		requestURL: requestURL,
		client:     client,
		sink:       sink,
		logger:     logger,
		metrics:    cfg.Metrics,
		onState:    cfg.OnState,
		backoff:    NewBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		state:      domain.ConnectionState{Phase: domain.PhaseDisconnected},
	}, nil
}

func newStreamingClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultResponseHeaderTimeout
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.DisableCompression = true
	transport.ResponseHeaderTimeout = headerTimeout

	return &http.Client{
		Transport: transport,
		Timeout:   0, // No total timeout for streaming
	}
}

// Run blocks until ctx is cancelled, keeping the stream connected. Transient
// failures are retried forever. It returns ctx.Err() on cancellation and
// ErrAlreadyRunning if another Run is active on the same Connection.
func (c *Connection) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.setState(domain.ConnectionState{Phase: domain.PhaseDisconnected})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.streamOnce(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Info("stream_stopped", slog.String("reason", ctxErr.Error()))
			return ctxErr
		}

		reason := failureReason(err)
		c.metrics.ConnectFailure(reason)

		delay := c.backoff.Next()
		c.logger.Warn(
			"stream_reconnect_scheduled",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
			slog.Int64("delay_ms", delay.Milliseconds()),
		)
		c.setState(domain.ConnectionState{Phase: domain.PhaseBackoff, Remaining: delay})
		if err := waitForBackoff(ctx, delay); err != nil {
			c.logger.Info("stream_stopped", slog.String("reason", err.Error()))
			return err
		}
	}
}

// streamOnce performs one connection attempt and reads until the stream
// fails. It always returns a non-nil error.
func (c *Connection) streamOnce(ctx context.Context) error {
	connID := uuid.NewString()
	c.setState(domain.ConnectionState{Phase: domain.PhaseConnecting})
	c.metrics.ConnectAttempt()
	c.logger.Debug("stream_connecting", slog.String("conn_id", connID), slog.String("url", c.endpoint.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}

	c.backoff.Reset()
	c.setState(domain.ConnectionState{Phase: domain.PhaseStreaming})
	c.metrics.StreamOpened()
	c.logger.Info("stream_connected", slog.String("conn_id", connID), slog.Int("status", resp.StatusCode))

	scanner := sse.NewScanner(resp.Body)
	for {
		payload, err := scanner.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("stream_closed", slog.String("conn_id", connID))
				return errStreamClosed
			}
			return &readError{err: err}
		}
		c.handlePayload(connID, payload)
	}
}

func (c *Connection) handlePayload(connID, payload string) {
	c.metrics.PayloadRead()

	cmd, err := command.Decode(payload)
	if err != nil {
		c.metrics.DecodeFailed()
		c.logger.Warn(
			"payload_decode_failed",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
			slog.Int("bytes", len(payload)),
		)
		return
	}

	c.logger.Debug("command_received", slog.String("conn_id", connID), slog.String("type", cmd.Type()))
	if !c.sink.Submit(cmd) {
		c.logger.Warn("command_rejected", slog.String("conn_id", connID), slog.String("type", cmd.Type()))
	}
}

func (c *Connection) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", eventStreamMediaType)
	req.Header.Set("Cache-Control", "no-cache")
	if c.endpoint.ClientIDHeader != "" && c.endpoint.ClientID != "" {
		req.Header.Set(c.endpoint.ClientIDHeader, c.endpoint.ClientID)
	}
	for k, v := range c.endpoint.Headers {
		req.Header.Set(k, v)
	}
}

func (c *Connection) setState(state domain.ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	c.metrics.SetConnectionState(state)
	if c.onState != nil {
		c.onState(state)
	}
}

func buildRequestURL(endpoint Endpoint) (string, error) {
	if endpoint.URL == "" {
		return "", errors.New("endpoint url is required")
	}
	parsed, err := url.Parse(endpoint.URL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("endpoint url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("endpoint url has no host")
	}

	if endpoint.ClientIDParam != "" && endpoint.ClientID != "" {
		query := parsed.Query()
		query.Set(endpoint.ClientIDParam, endpoint.ClientID)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func cloneHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, errStreamClosed):
		return "closed"
	case errors.As(err, new(*readError)):
		return "read"
	default:
		return "request"
	}
}
