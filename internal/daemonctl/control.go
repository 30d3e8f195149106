// Package daemonctl starts, stops and probes a docflow daemon process from
// another process, using the daemon's lock and pid files.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"docflow/internal/config"
)

// ErrDaemonNotRunning indicates no process holds the daemon lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Process describes the daemon as seen from outside.
type Process struct {
	Running  bool
	PID      int
	LockPath string
	PIDPath  string
}

// Probe reports whether a daemon holds the lock for cfg's data directory.
func Probe(cfg *config.Config) (Process, error) {
	proc := Process{LockPath: cfg.LockPath(), PIDPath: cfg.PIDPath()}
	if _, err := os.Stat(proc.LockPath); errors.Is(err, os.ErrNotExist) {
		return proc, nil
	}

	lock := flock.New(proc.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return proc, fmt.Errorf("probe daemon lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		return proc, nil
	}

	proc.Running = true
	pid, err := ReadPID(proc.PIDPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return proc, err
	}
	proc.PID = pid
	return proc, nil
}

// ReadPID parses a pid file. A missing file returns os.ErrNotExist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %s is malformed", path)
	}
	return pid, nil
}

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// Launch starts a detached `docflow run` process from executablePath.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	args := []string{"run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// StartResult captures daemon start orchestration state.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// EnsureStarted launches a daemon unless one is running, then waits up to
// timeout for it to take the lock.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	proc, err := Probe(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if proc.Running {
		return StartResult{AlreadyRunning: true, PID: proc.PID}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}

	proc, err = waitFor(cfg, timeout, true)
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	return StartResult{PID: proc.PID}, nil
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Stop sends SIGTERM to the daemon and escalates to SIGKILL if it still holds
// the lock after gracePeriod.
func Stop(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	proc, err := Probe(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !proc.Running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if proc.PID <= 0 {
		return StopResult{}, fmt.Errorf("daemon holds %s but wrote no pid file", proc.LockPath)
	}
	if err := signal(proc.PID, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}

	result := StopResult{PID: proc.PID}
	if _, err := waitFor(cfg, gracePeriod, false); err == nil {
		return result, nil
	}
	if _, err := ForceKillProcess(proc.PIDPath, proc.PID); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	return result, nil
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if parsed, err := ReadPID(pidPath); err == nil {
		pid = parsed
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := signal(pid, syscall.SIGKILL); err != nil {
		return 0, err
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

func signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

func waitFor(cfg *config.Config, timeout time.Duration, running bool) (Process, error) {
	deadline := time.Now().Add(timeout)
	for {
		proc, err := Probe(cfg)
		if err == nil && proc.Running == running && (!running || proc.PID > 0) {
			return proc, nil
		}
		if time.Now().After(deadline) {
			if err == nil {
				err = errors.New("timed out")
			}
			return proc, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}
