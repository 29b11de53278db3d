package domain

import (
	"fmt"
	"time"
)

type ConnectionPhase int

const (
	PhaseDisconnected ConnectionPhase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseBackoff
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// ConnectionState is a snapshot of a stream connection. Remaining is only
// meaningful in PhaseBackoff.
type ConnectionState struct {
	Phase     ConnectionPhase
	Remaining time.Duration
}

func (s ConnectionState) String() string {
	if s.Phase == PhaseBackoff {
		return fmt.Sprintf("backoff(%s)", s.Remaining)
	}
	return s.Phase.String()
}
