//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func terminateTree(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run()
}

func killTree(pid int) error {
	children := descendants(pid)
	err := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
	if err == nil {
		return nil
	}
	// taskkill misses descendants whose parent already exited
	errs := []error{err}
	for _, child := range append(children, int32(pid)) {
		p, perr := process.NewProcess(child)
		if perr != nil {
			continue
		}
		if kerr := p.Kill(); kerr != nil {
			errs = append(errs, kerr)
		}
	}
	return errors.Join(errs...)
}

func executableNames(command string) []string {
	if filepath.Ext(command) != "" {
		return []string{command}
	}
	exts := strings.Split(strings.ToLower(os.Getenv("PATHEXT")), ";")
	if len(exts) == 0 || exts[0] == "" {
		exts = []string{".com", ".exe", ".bat", ".cmd"}
	}
	names := make([]string, 0, len(exts))
	for _, ext := range exts {
		names = append(names, command+ext)
	}
	return names
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
