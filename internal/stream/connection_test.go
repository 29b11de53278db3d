package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go2tv.app/beam-remote/internal/domain"
	"go2tv.app/beam-remote/internal/metrics"
)

type recordingSink struct {
	mu       sync.Mutex
	commands []domain.Command
}

func (s *recordingSink) Submit(cmd domain.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return true
}

func (s *recordingSink) snapshot() []domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Command{}, s.commands...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (r *stateRecorder) record(state domain.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionState{}, r.states...)
}

func (r *stateRecorder) backoffDelays() []time.Duration {
	var out []time.Duration
	for _, s := range r.snapshot() {
		if s.Phase == domain.PhaseBackoff {
			out = append(out, s.Remaining)
		}
	}
	return out
}

func (r *stateRecorder) seen(phase domain.ConnectionPhase) bool {
	for _, s := range r.snapshot() {
		if s.Phase == phase {
			return true
		}
	}
	return false
}

func writeEvent(t *testing.T, w http.ResponseWriter, payload string) {
	t.Helper()
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		t.Errorf("write event: %v", err)
	}
	w.(http.Flusher).Flush()
}

func startRun(t *testing.T, conn *Connection) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx)
	}()
	return cancel, done
}

func waitRunExit(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
		return nil
	}
}

func TestConnectionSendsHeadersAndDeliversCommands(t *testing.T) {
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requests <- r.Clone(context.Background()):
		default:
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		writeEvent(t, w, `{"type":"youtube","videoId":"abc123"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	conn, err := New(Config{
		Endpoint: Endpoint{
			URL:            server.URL + "/sse/events?tenant=home",
			ClientID:       "X4K7N9P2QR",
			ClientIDParam:  DefaultClientIDParam,
			ClientIDHeader: DefaultClientIDHeader,
			Headers:        map[string]string{"Authorization": "Bearer token"},
		},
		BaseBackoff: time.Millisecond,
	}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	defer cancel()

	waitForCondition(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0]; got != (domain.YoutubeCommand{VideoID: "abc123"}) {
		t.Fatalf("unexpected command: %#v", got)
	}

	req := <-requests
	if req.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", req.Method)
	}
	if got := req.Header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("expected Accept text/event-stream, got %q", got)
	}
	if got := req.Header.Get("X-Device-ID"); got != "X4K7N9P2QR" {
		t.Errorf("expected X-Device-ID header, got %q", got)
	}
	if got := req.URL.Query().Get("deviceId"); got != "X4K7N9P2QR" {
		t.Errorf("expected deviceId query parameter, got %q", got)
	}
	if got := req.URL.Query().Get("tenant"); got != "home" {
		t.Errorf("expected existing query to be preserved, got %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer token" {
		t.Errorf("expected extra header, got %q", got)
	}

	cancel()
	if err := waitRunExit(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConnectionClientIDTransportsCanBeDisabled(t *testing.T) {
	seen := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.Clone(context.Background()):
		default:
		}
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	conn, err := New(Config{
		Endpoint: Endpoint{
			URL:            server.URL,
			ClientID:       "ID",
			ClientIDHeader: "X-Client",
		},
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, done := startRun(t, conn)

	req := <-seen
	if req.URL.RawQuery != "" {
		t.Errorf("expected no query parameter, got %q", req.URL.RawQuery)
	}
	if req.Header.Get("X-Client") != "ID" {
		t.Errorf("expected custom client id header")
	}

	cancel()
	waitRunExit(t, done)
}

func TestConnectionReconnectsAfterPeerClose(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		w.WriteHeader(http.StatusOK)
		writeEvent(t, w, fmt.Sprintf(`{"type":"m3u","url":"stream-%d"}`, n))
		if n >= 2 {
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	sink := &recordingSink{}
	recorder := &stateRecorder{}
	conn, err := New(Config{
		Endpoint:    Endpoint{URL: server.URL},
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		OnState:     recorder.record,
	}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	defer cancel()

	waitForCondition(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 2 })
	got := sink.snapshot()
	if got[0] != (domain.StreamCommand{URL: "stream-1"}) || got[1] != (domain.StreamCommand{URL: "stream-2"}) {
		t.Fatalf("unexpected commands: %#v", got)
	}
	if delays := recorder.backoffDelays(); len(delays) != 1 || delays[0] != time.Millisecond {
		t.Fatalf("expected one base backoff after peer close, got %v", delays)
	}

	cancel()
	waitRunExit(t, done)
}

func TestConnectionBackoffGrowsAndResetsOnSuccess(t *testing.T) {
	// 500, 500, 200 then close, 500, then hold.
	statuses := []int{500, 503, 200, 502}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			if statuses[n] != http.StatusOK {
				fmt.Fprint(w, "data: {\"type\":\"stop\"}\n\n")
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	recorder := &stateRecorder{}
	m := metrics.New(metrics.Config{})
	conn, err := New(Config{
		Endpoint:    Endpoint{URL: server.URL},
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		OnState:     recorder.record,
		Metrics:     m,
	}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	defer cancel()

	waitForCondition(t, 2*time.Second, func() bool { return calls.Load() >= 5 })
	waitForCondition(t, 2*time.Second, func() bool {
		states := recorder.snapshot()
		return len(states) > 0 && states[len(states)-1].Phase == domain.PhaseStreaming
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}
	got := recorder.backoffDelays()
	if len(got) != len(want) {
		t.Fatalf("expected backoff delays %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected backoff delays %v, got %v", want, got)
		}
	}
	if cmds := sink.snapshot(); len(cmds) != 0 {
		t.Fatalf("error responses must not be read, got %#v", cmds)
	}

	cancel()
	waitRunExit(t, done)
}

func TestConnectionDecodeErrorsKeepStreamOpen(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keepalive\n\n")
		writeEvent(t, w, "not json")
		writeEvent(t, w, `{"type":"bogus"}`)
		writeEvent(t, w, `{"type":"stop"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	conn, err := New(Config{Endpoint: Endpoint{URL: server.URL}}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel, done := startRun(t, conn)
	defer cancel()

	waitForCondition(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 2 })
	got := sink.snapshot()
	if got[0] != (domain.UnrecognizedCommand{RawType: "bogus"}) || got[1] != (domain.StopCommand{}) {
		t.Fatalf("unexpected commands: %#v", got)
	}
	if connections.Load() != 1 {
		t.Fatalf("decode errors must not reconnect, saw %d connections", connections.Load())
	}

	cancel()
	waitRunExit(t, done)
}

func TestConnectionCancelWhileReadingSkipsBackoff(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()

	recorder := &stateRecorder{}
	conn, err := New(Config{
		Endpoint:    Endpoint{URL: server.URL},
		BaseBackoff: time.Hour,
		OnState:     recorder.record,
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	waitForCondition(t, 2*time.Second, func() bool { return recorder.seen(domain.PhaseStreaming) })

	cancel()
	if err := waitRunExit(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the client going away")
	}

	if recorder.seen(domain.PhaseBackoff) {
		t.Fatalf("cancellation must not enter backoff, states: %v", recorder.snapshot())
	}
	states := recorder.snapshot()
	if last := states[len(states)-1]; last.Phase != domain.PhaseDisconnected {
		t.Fatalf("expected final state disconnected, got %s", last)
	}
}

func TestConnectionCancelDuringBackoffReturnsPromptly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &stateRecorder{}
	conn, err := New(Config{
		Endpoint:    Endpoint{URL: server.URL},
		BaseBackoff: time.Hour,
		OnState:     recorder.record,
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	waitForCondition(t, 2*time.Second, func() bool { return recorder.seen(domain.PhaseBackoff) })

	cancel()
	if err := waitRunExit(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConnectionRetriesUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	recorder := &stateRecorder{}
	conn, err := New(Config{
		Endpoint:    Endpoint{URL: addr},
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
		OnState:     recorder.record,
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	waitForCondition(t, 2*time.Second, func() bool { return len(recorder.backoffDelays()) >= 4 })
	cancel()
	waitRunExit(t, done)

	delays := recorder.backoffDelays()
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, delays[:len(want)])
		}
	}
}

func TestConnectionRunIsExclusive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	recorder := &stateRecorder{}
	conn, err := New(Config{Endpoint: Endpoint{URL: server.URL}, OnState: recorder.record}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cancel, done := startRun(t, conn)
	waitForCondition(t, 2*time.Second, func() bool { return recorder.seen(domain.PhaseStreaming) })

	if err := conn.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	waitRunExit(t, done)
}

func TestNewRejectsInvalidEndpoints(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/sse", "http://", "://bad"} {
		if _, err := New(Config{Endpoint: Endpoint{URL: raw}}, &recordingSink{}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := New(Config{Endpoint: Endpoint{URL: "http://example.com"}}, nil); err == nil {
		t.Fatal("expected error for nil sink")
	}
}

func TestEndpointHeadersAreCopied(t *testing.T) {
	headers := map[string]string{"X-A": "1"}
	conn, err := New(Config{Endpoint: Endpoint{URL: "http://example.com", Headers: headers}}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	headers["X-A"] = "2"
	if conn.endpoint.Headers["X-A"] != "1" {
		t.Fatal("endpoint headers must not alias the caller's map")
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
