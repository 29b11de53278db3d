package go2tv

import (
	"context"

	"github.com/pkg/browser"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/beam-remote/internal/adapters"
)

// Bundle wires the go2tv and host-backed adapters in one place.
type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
	Launcher    adapters.Launcher
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   DiscoveryAdapter{},
		CastFactory: CastFactory{},
		Launcher:    HostLauncher{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// HostLauncher opens URLs in the host's default browser.
type HostLauncher struct{}

func (HostLauncher) Open(target string) error {
	return browser.OpenURL(target)
}

var (
	_ adapters.Discovery   = DiscoveryAdapter{}
	_ adapters.CastFactory = CastFactory{}
	_ adapters.Launcher    = HostLauncher{}
)
