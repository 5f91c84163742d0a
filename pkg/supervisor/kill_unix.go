//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	// own process group so the whole tree can be signalled
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateTree(pid int) error {
	return signalTree(pid, syscall.SIGTERM)
}

func killTree(pid int) error {
	return signalTree(pid, syscall.SIGKILL)
}

func signalTree(pid int, sig syscall.Signal) error {
	children := descendants(pid)
	var errs []error
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		// not a group leader, signal the process itself
		if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, err)
		}
	}
	// descendants that moved to their own group or session
	for _, child := range children {
		if err := syscall.Kill(int(child), sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func executableNames(command string) []string {
	return []string{command}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}
