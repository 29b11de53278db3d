//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals are the signals that cancel the run context. SIGHUP is
// included so closing the controlling terminal stops the stream cleanly.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
