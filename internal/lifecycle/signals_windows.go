//go:build windows

package lifecycle

import "os"

// TerminationSignals are the signals that cancel the run context.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
