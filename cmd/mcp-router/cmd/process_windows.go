//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

// gracefulSignals returns the OS signals that trigger a graceful shutdown.
// Windows only delivers os.Interrupt reliably.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// sendGracefulStop terminates the process; there is no SIGTERM on Windows.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
