//go:build !windows

package driver

import (
	"os"
	"syscall"
)

// interruptProcess sends SIGINT, the nearest unix equivalent of the debugger's
// Ctrl-Break interrupt, to request cooperative cancellation of the in-flight command.
func interruptProcess(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
