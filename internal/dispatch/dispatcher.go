package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/beam-remote/internal/domain"
	"go2tv.app/beam-remote/internal/metrics"
)

const defaultCommandTimeout = 30 * time.Second

const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomePanic = "panic"
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// CommandTimeout bounds a single controller call. Default 30s.
	CommandTimeout time.Duration
}

// Dispatcher executes commands against a PlaybackController one at a time,
// in submission order. Submit never waits for execution.
type Dispatcher struct {
	controller     domain.PlaybackController
	logger         *slog.Logger
	metrics        *metrics.Metrics
	commandTimeout time.Duration
	now            func() time.Time

	mu     sync.Mutex
	queue  []domain.Command
	closed bool
	wake   chan struct{}

	lastHeartbeat atomic.Pointer[time.Time]

	stop      context.CancelFunc
	stopCtx   context.Context
	done      chan struct{}
	closeOnce sync.Once
}

func New(controller domain.PlaybackController, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	stopCtx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		controller:     controller,
		logger:         logger,
		metrics:        cfg.Metrics,
		commandTimeout: timeout,
		now:            time.Now,
		wake:           make(chan struct{}, 1),
		stop:           stop,
		stopCtx:        stopCtx,
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit enqueues cmd behind every previously submitted command. It reports
// false once the dispatcher is closed.
func (d *Dispatcher) Submit(cmd domain.Command) bool {
	if cmd == nil {
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.CommandDropped("closed")
		return false
	}
	d.queue = append(d.queue, cmd)
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.CommandReceived(cmd.Type())
	d.metrics.QueueDepth(depth)

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// LastHeartbeat returns the time the last heartbeat command was processed.
func (d *Dispatcher) LastHeartbeat() (time.Time, bool) {
	at := d.lastHeartbeat.Load()
	if at == nil {
		return time.Time{}, false
	}
	return *at, true
}

// Close stops accepting commands and discards queued ones. A command already
// executing is allowed to finish; Close waits for it or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		dropped := len(d.queue)
		d.queue = nil
		d.mu.Unlock()

		if dropped > 0 {
			d.logger.Info("dispatch_queue_discarded", slog.Int("commands", dropped))
			for i := 0; i < dropped; i++ {
				d.metrics.CommandDropped("closed")
			}
		}
		d.metrics.QueueDepth(0)
		d.stop()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		cmd, ok := d.next()
		if !ok {
			select {
			case <-d.wake:
				continue
			case <-d.stopCtx.Done():
				return
			}
		}
		d.execute(cmd)
	}
}

func (d *Dispatcher) next() (domain.Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(d.queue) == 0 {
		return nil, false
	}
	cmd := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.metrics.QueueDepth(len(d.queue))
	return cmd, true
}

func (d *Dispatcher) execute(cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.YoutubeCommand:
		videoID := strings.TrimSpace(c.VideoID)
		if videoID == "" {
			d.drop(cmd, "missing_video_id")
			return
		}
		d.call(cmd, slog.String("video_id", videoID), func(ctx context.Context) error {
			return d.controller.PlayExternal(ctx, videoID)
		})
	case domain.StreamCommand:
		url := strings.TrimSpace(c.URL)
		if url == "" {
			d.drop(cmd, "missing_url")
			return
		}
		d.call(cmd, slog.String("url", url), func(ctx context.Context) error {
			return d.controller.PlayStream(ctx, url)
		})
	case domain.StopCommand:
		d.call(cmd, slog.Attr{}, func(ctx context.Context) error {
			return d.controller.Stop(ctx)
		})
	case domain.HeartbeatCommand:
		at := d.now()
		d.lastHeartbeat.Store(&at)
		d.metrics.Heartbeat(at)
		d.logger.Debug("heartbeat_received")
	case domain.UnrecognizedCommand:
		d.logger.Warn("command_unrecognized", slog.String("type", c.RawType))
		d.metrics.CommandDropped("unrecognized")
	default:
		d.drop(cmd, "unsupported")
	}
}

func (d *Dispatcher) drop(cmd domain.Command, reason string) {
	d.logger.Warn("command_dropped", slog.String("type", cmd.Type()), slog.String("reason", reason))
	d.metrics.CommandDropped(reason)
}

func (d *Dispatcher) call(cmd domain.Command, detail slog.Attr, fn func(ctx context.Context) error) {
	if d.controller == nil {
		d.drop(cmd, "no_controller")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.commandTimeout)
	defer cancel()

	startedAt := d.now()
	err := safeCall(ctx, fn)
	elapsed := d.now().Sub(startedAt)

	outcome := outcomeOK
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("type", cmd.Type()),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if detail.Key != "" {
		attrs = append(attrs, detail)
	}
	if err != nil {
		outcome = outcomeError
		if _, ok := err.(*panicError); ok {
			outcome = outcomePanic
		}
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	attrs = append(attrs, slog.String("outcome", outcome))

	d.metrics.CommandExecuted(cmd.Type(), outcome, elapsed)
	d.logger.LogAttrs(context.Background(), level, "command_dispatched", attrs...)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("playback controller panic: %v", e.value)
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx)
}
