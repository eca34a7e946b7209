//go:build !windows

package copyjob

import (
	"os"
	"syscall"
)

// signalGraceful sends SIGTERM, giving the copy tool a chance to flush its
// log and exit cleanly before the orchestrator's grace period elapses.
func signalGraceful(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
