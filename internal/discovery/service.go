// Package discovery lists cast targets on the LAN and resolves the one a
// playback controller should use.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/beam-remote/internal/adapters"
	"go2tv.app/beam-remote/internal/domain"
)

const (
	DefaultTimeout = 2500 * time.Millisecond

	ProtocolChromecast = "chromecast"
	ProtocolDLNA       = "dlna"

	reachabilityWait             = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeout         = 3 * time.Second
)

var ErrDeviceNotFound = errors.New("device not found")

var isReachableAddress = defaultReachableAddress

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

// NewService returns a Service whose background mDNS loop is bound to loopCtx.
func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	return &Service{adapter: adapter, loopCtx: loopCtx}
}

// ListDevices returns devices found within timeout, sorted with Chromecast
// targets first. A timeout with nothing found is an empty list, not an error.
func (s *Service) ListDevices(ctx context.Context, timeout time.Duration, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	type result struct {
		devices []devices.Device
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		loaded, err := s.loadUntil(ctx, time.Now().Add(timeout))
		resultCh <- result{devices: loaded, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return []domain.Device{}, nil
	case res := <-resultCh:
		if res.err != nil {
			if errors.Is(res.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, res.err
		}
		normalized := normalizeDevices(res.devices)
		if !includeUnreachable {
			normalized = filterReachable(normalized)
		}
		sortDevices(normalized)
		return normalized, nil
	}
}

// Resolve finds the Chromecast matching target by id, name or address. An
// empty target picks the first Chromecast found.
func (s *Service) Resolve(ctx context.Context, target string, timeout time.Duration) (domain.Device, error) {
	found, err := s.ListDevices(ctx, timeout, true)
	if err != nil {
		return domain.Device{}, fmt.Errorf("discover devices: %w", err)
	}

	casts := make([]domain.Device, 0, len(found))
	for _, dev := range found {
		if dev.Protocol == ProtocolChromecast {
			casts = append(casts, dev)
		}
	}

	if matched, ok := MatchDevice(casts, target); ok {
		return matched, nil
	}
	if strings.TrimSpace(target) == "" {
		return domain.Device{}, fmt.Errorf("%w: no chromecast on the network", ErrDeviceNotFound)
	}
	return domain.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, target)
}

// MatchDevice prefers exact id, then exact name, then case-insensitive name
// or address. Names are also compared without a trailing " (...)" suffix.
func MatchDevice(all []domain.Device, target string) (domain.Device, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		if len(all) == 0 {
			return domain.Device{}, false
		}
		return all[0], true
	}

	for _, dev := range all {
		if dev.ID == target {
			return dev, true
		}
	}
	for _, dev := range all {
		if dev.Name == target {
			return dev, true
		}
	}
	normalizedTarget := normalizeDeviceName(target)
	for _, dev := range all {
		if strings.EqualFold(dev.Name, target) || normalizeDeviceName(dev.Name) == normalizedTarget {
			return dev, true
		}
		if sameAddress(dev.Address, target) {
			return dev, true
		}
	}
	return domain.Device{}, false
}

func (s *Service) loadUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil || errors.Is(lastErr, devices.ErrNoDeviceAvailable) {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}
		if remaining > maxPerAttemptTimeout {
			remaining = maxPerAttemptTimeout
		}

		loaded, err := s.adapter.LoadAllDevices(delaySeconds(remaining))
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
		lastErr = err
	}
}

func delaySeconds(timeout time.Duration) int {
	seconds := int(math.Ceil(timeout.Seconds()))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

func normalizeDevices(discovered []devices.Device) []domain.Device {
	out := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)
		out = append(out, domain.Device{
			ID:          stableID(protocol, address),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Address:     address,
			IsAudioOnly: raw.IsAudioOnly,
			Protocol:    protocol,
		})
	}
	return out
}

func filterReachable(all []domain.Device) []domain.Device {
	out := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if isReachableAddress(dev.Address, reachabilityWait) {
			out = append(out, dev)
		}
	}
	return out
}

func sortDevices(all []domain.Device) {
	sort.SliceStable(all, func(i, j int) bool {
		if ri, rj := protocolRank(all[i].Protocol), protocolRank(all[j].Protocol); ri != rj {
			return ri < rj
		}
		if ni, nj := strings.ToLower(all[i].Name), strings.ToLower(all[j].Name); ni != nj {
			return ni < nj
		}
		return all[i].ID < all[j].ID
	})
}

func protocolRank(protocol string) int {
	switch protocol {
	case ProtocolChromecast:
		return 0
	case ProtocolDLNA:
		return 1
	default:
		return 2
	}
}

func stableID(protocol, address string) string {
	sum := sha1.Sum([]byte(protocol + "|" + canonicalAddress(address)))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(strings.TrimSpace(address))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(address))
	}

	port := parsed.Port()
	if port == "" {
		port = defaultPort(parsed.Scheme)
	}
	path := strings.ToLower(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s:%s%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Hostname()), port, path)
}

func sameAddress(address, target string) bool {
	if strings.EqualFold(strings.TrimSpace(address), target) {
		return true
	}
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, target) || strings.EqualFold(parsed.Hostname(), target)
}

func normalizeDeviceName(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(lower, "chrome"):
		return ProtocolChromecast
	case strings.Contains(lower, "dlna"):
		return ProtocolDLNA
	default:
		return lower
	}
}

func defaultPort(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "443"
	}
	return "80"
}

func defaultReachableAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}
	hostPort := parsed.Host
	if parsed.Port() == "" {
		hostPort = net.JoinHostPort(parsed.Hostname(), defaultPort(parsed.Scheme))
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
