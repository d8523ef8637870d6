//go:build windows

package driver

import (
	"os"

	"golang.org/x/sys/windows"
)

// interruptProcess sends a Ctrl-Break event to the child's process group, matching
// the debugger's native interrupt mechanism on Windows.
func interruptProcess(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}
