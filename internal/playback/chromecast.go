// Package playback implements domain.PlaybackController on top of go2tv's
// Chromecast client and the host's URL launcher.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/utils"

	"go2tv.app/beam-remote/internal/adapters"
	"go2tv.app/beam-remote/internal/domain"
)

const (
	YoutubeWatchURL = "https://www.youtube.com/watch?v="

	hlsMediaType     = "application/vnd.apple.mpegurl"
	defaultMediaType = "application/octet-stream"
)

var ErrClosed = errors.New("playback controller is closed")

// mediaTypes covers containers missing from minimal mime tables.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".ts":   "video/mp2t",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
}

// DeviceResolver finds the Chromecast to cast to.
type DeviceResolver interface {
	Resolve(ctx context.Context, target string, timeout time.Duration) (domain.Device, error)
}

type ChromecastConfig struct {
	// Device selects a discovered Chromecast by id, name or address. Empty
	// picks the first one found.
	Device string
	// Address skips discovery and connects to this cast address directly.
	Address          string
	DiscoveryTimeout time.Duration

	RetryAttempts    int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	Logger *slog.Logger
}

type castSession struct {
	client   adapters.CastClient
	device   string
	mediaURL string
}

// Chromecast holds at most one cast session. Starting a stream tears down the
// previous session first.
type Chromecast struct {
	resolver DeviceResolver
	casts    adapters.CastFactory
	launcher adapters.Launcher

	device           string
	address          string
	discoveryTimeout time.Duration
	retry            retryPolicy
	logger           *slog.Logger

	mu      sync.Mutex
	session *castSession
	closed  bool
}

func NewChromecast(resolver DeviceResolver, casts adapters.CastFactory, launcher adapters.Launcher, cfg ChromecastConfig) *Chromecast {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	retry := retryPolicy{
		attempts:    cfg.RetryAttempts,
		baseBackoff: cfg.RetryBaseBackoff,
		maxBackoff:  cfg.RetryMaxBackoff,
		logger:      logger,
	}
	if retry.attempts == 0 {
		retry.attempts = defaultRetryAttempts
	}
	if retry.baseBackoff == 0 {
		retry.baseBackoff = defaultRetryBaseBackoff
	}
	if retry.maxBackoff == 0 {
		retry.maxBackoff = defaultRetryMaxBackoff
	}

	return &Chromecast{
		resolver:         resolver,
		casts:            casts,
		launcher:         launcher,
		device:           strings.TrimSpace(cfg.Device),
		address:          strings.TrimSpace(cfg.Address),
		discoveryTimeout: cfg.DiscoveryTimeout,
		retry:            retry,
		logger:           logger,
	}
}

// PlayExternal opens the YouTube watch page for videoID on the host.
func (c *Chromecast) PlayExternal(_ context.Context, videoID string) error {
	if c.launcher == nil {
		return errors.New("external launcher is not configured")
	}
	target := YoutubeWatchURL + url.QueryEscape(strings.TrimSpace(videoID))
	if err := c.launcher.Open(target); err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}
	c.logger.Info("external_opened", slog.String("url", target))
	return nil
}

// PlayStream casts mediaURL, replacing whatever session was playing.
func (c *Chromecast) PlayStream(ctx context.Context, mediaURL string) error {
	mediaURL = strings.TrimSpace(mediaURL)
	if err := validateMediaURL(mediaURL); err != nil {
		return err
	}
	if c.casts == nil {
		return errors.New("chromecast adapter is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if err := c.stopLocked(); err != nil {
		c.logger.Warn("cast_previous_stop_failed", slog.String("error", err.Error()))
	}

	name, address, err := c.target(ctx)
	if err != nil {
		return err
	}

	client, err := c.casts.NewCastClient(address)
	if err != nil {
		return fmt.Errorf("create chromecast client: %w", err)
	}
	if err := c.retry.do(ctx, "chromecast_connect", client.Connect); err != nil {
		_ = client.Close(false)
		return fmt.Errorf("connect to %s: %w", name, err)
	}

	mediaType, live := mediaTypeFor(mediaURL)
	if err := c.retry.do(ctx, "chromecast_load", func() error {
		return client.Load(mediaURL, mediaType, 0, 0, "", live)
	}); err != nil {
		_ = client.Close(true)
		return fmt.Errorf("load on %s: %w", name, err)
	}

	c.session = &castSession{client: client, device: name, mediaURL: mediaURL}
	c.logger.Info(
		"cast_started",
		slog.String("device", name),
		slog.String("media_type", mediaType),
		slog.Bool("live", live),
	)
	return nil
}

// Stop ends the current session. With no session it does nothing.
func (c *Chromecast) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Close stops any session and rejects further streams.
func (c *Chromecast) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.stopLocked()
}

func (c *Chromecast) stopLocked() error {
	sess := c.session
	if sess == nil {
		return nil
	}
	c.session = nil

	var errs []error
	if err := sess.client.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := sess.client.Close(true); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	c.logger.Info("cast_stopped", slog.String("device", sess.device))
	return errors.Join(errs...)
}

func (c *Chromecast) target(ctx context.Context) (string, string, error) {
	if c.address != "" {
		return c.address, c.address, nil
	}
	if c.resolver == nil {
		return "", "", errors.New("no chromecast address and no discovery configured")
	}
	dev, err := c.resolver.Resolve(ctx, c.device, c.discoveryTimeout)
	if err != nil {
		return "", "", err
	}
	return dev.Name, dev.Address, nil
}

func validateMediaURL(raw string) error {
	if raw == "" {
		return errors.New("media url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse media url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("media url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("media url has no host")
	}
	return nil
}

// mediaTypeFor reports the content type to load and whether the source is a
// live playlist.
func mediaTypeFor(mediaURL string) (string, bool) {
	ext := ""
	if parsed, err := url.Parse(mediaURL); err == nil {
		ext = strings.ToLower(path.Ext(parsed.Path))
	}
	if ext == ".m3u8" || ext == ".m3u" || utils.IsHLSStream(mediaURL, "") {
		return hlsMediaType, true
	}
	if known, ok := mediaTypes[ext]; ok {
		return known, false
	}
	guessed := ""
	if ext != "" {
		guessed = mime.TypeByExtension(ext)
	}
	if guessed == "" {
		return defaultMediaType, false
	}
	return strings.TrimSpace(strings.Split(guessed, ";")[0]), false
}

var _ domain.PlaybackController = (*Chromecast)(nil)
