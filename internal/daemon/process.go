package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Spawn starts exe detached from the terminal with stdout and stderr
// appended to logPath, and returns its PID.
func Spawn(exe string, args []string, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setDaemonAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The child is reaped by init once detached.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop asks the process in the PID file to terminate and waits up to timeout
// for it to exit, escalating to a kill when it does not.
func Stop(p *PIDFile, timeout time.Duration) error {
	pid, running := p.IsRunning()
	if !running {
		if pid != 0 {
			_ = p.Remove()
		}
		return ErrNotRunning
	}

	if err := p.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}
	if waitExit(p, timeout) {
		return nil
	}

	if err := p.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill PID %d: %w", pid, err)
	}
	if !waitExit(p, time.Second) {
		return fmt.Errorf("PID %d did not exit", pid)
	}
	_ = p.Remove()
	return nil
}

func waitExit(p *PIDFile, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, running := p.IsRunning(); !running {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
