// Package adapters declares the narrow surfaces beam-remote needs from go2tv
// and the host OS, so playback and discovery can be tested with fakes.
package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

// Discovery finds cast targets on the LAN.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient is one Chromecast session.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}

// Launcher hands a URL to the host's default application.
type Launcher interface {
	Open(target string) error
}
