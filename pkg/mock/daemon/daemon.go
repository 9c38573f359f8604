// Package daemon runs the mock server as a long-lived process with optional
// pid and log files, and inspects or signals a running instance.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	mockruntime "github.com/theroutercompany/mock_api/pkg/mock/runtime"
)

// LogPathEnv is read by the shared logger to add a file output.
const LogPathEnv = "MOCKAPI_LOG_PATH"

// ErrAlreadyRunning is returned when the pid file names a live process.
var ErrAlreadyRunning = errors.New("mock server already running")

// Options configure daemon lifecycle behaviour.
type Options struct {
	ConfigPath string
	PIDFile    string
	LogFile    string
	// Watch forces fixture watching on regardless of configuration.
	Watch bool
}

// ProcessStatus reflects the current state of a daemonised process.
type ProcessStatus struct {
	PID     int
	Running bool
}

// Run loads configuration and builds the runtime before claiming the pid
// file, so a bad config or missing fixture root never leaves a pid behind.
func Run(ctx context.Context, opts Options) error {
	logCloser, err := setupLogFile(opts.LogFile)
	if err != nil {
		return err
	}
	defer logCloser()

	var loadOpts []mockconfig.Option
	if strings.TrimSpace(opts.ConfigPath) != "" {
		loadOpts = append(loadOpts, mockconfig.WithPath(opts.ConfigPath))
	}
	cfg, err := mockconfig.Load(loadOpts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Watch {
		cfg.Watch.Enabled = true
	}

	rt, err := mockruntime.New(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	release, err := claimPIDFile(opts.PIDFile)
	if err != nil {
		return err
	}
	defer release()

	root, _ := cfg.FixtureRoot()
	pkglog.Shared().Infow("daemon started",
		"pid", os.Getpid(),
		"pidFile", opts.PIDFile,
		"fixtureRoot", root,
		"watch", cfg.Watch.Enabled,
	)

	if err := rt.Start(ctx); err != nil {
		return err
	}
	return rt.Wait()
}

// Status inspects the PID file and determines if the daemon process is still running.
func Status(pidPath string) (ProcessStatus, error) {
	pid, err := readPIDFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return ProcessStatus{}, nil
	}
	if err != nil {
		return ProcessStatus{}, err
	}
	return ProcessStatus{PID: pid, Running: alive(pid)}, nil
}

// Stop sends sig (SIGTERM when zero) to the process named in the pid file.
// It returns os.ErrNotExist when there is no pid file.
func Stop(pidPath string, sig syscall.Signal) (ProcessStatus, error) {
	if sig == 0 {
		sig = syscall.SIGTERM
	}

	status, err := Status(pidPath)
	if err != nil {
		return status, err
	}
	if status.PID == 0 {
		return status, os.ErrNotExist
	}
	if !status.Running {
		return status, nil
	}

	proc, err := os.FindProcess(status.PID)
	if err != nil {
		return status, fmt.Errorf("find process: %w", err)
	}
	if err := proc.Signal(sig); err != nil {
		return status, fmt.Errorf("signal process: %w", err)
	}
	return status, nil
}

// WaitForExit polls the pid file until the process is gone or timeout
// elapses. A stale pid file is removed once the process has exited.
func WaitForExit(pidPath string, timeout, interval time.Duration) (ProcessStatus, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		status, err := Status(pidPath)
		if err != nil {
			return status, fmt.Errorf("check status: %w", err)
		}
		if !status.Running {
			_ = os.Remove(pidPath)
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, fmt.Errorf("pid %d did not stop within %s", status.PID, timeout)
		}
		time.Sleep(interval)
	}
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// claimPIDFile writes the current pid. A pid file left by a dead process is
// replaced; one naming a live process is an error.
func claimPIDFile(path string) (func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return func() {}, fmt.Errorf("ensure pid directory: %w", err)
	}

	switch pid, err := readPIDFile(path); {
	case err == nil && alive(pid):
		return func() {}, fmt.Errorf("%w (pid %d, pid file %s)", ErrAlreadyRunning, pid, path)
	case err == nil:
		pkglog.Shared().Warnw("replacing stale pid file", "pidFile", path, "stalePid", pid)
	case !errors.Is(err, os.ErrNotExist):
		pkglog.Shared().Warnw("replacing unreadable pid file", "pidFile", path, "error", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return func() {}, fmt.Errorf("write pid file: %w", err)
	}
	_, werr := fmt.Fprintf(tmp, "%d\n", os.Getpid())
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return func() {}, fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return func() {}, fmt.Errorf("install pid file: %w", err)
	}

	return func() {
		if pid, err := readPIDFile(path); err == nil && pid == os.Getpid() {
			_ = os.Remove(path)
		}
	}, nil
}

func readPIDFile(path string) (int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, fmt.Errorf("pid file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, os.ErrNotExist
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid value %d", pid)
	}
	return pid, nil
}

// setupLogFile makes sure the log file can be written and points the shared
// logger at it. It must run before the first pkglog.Shared call.
func setupLogFile(path string) (func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return func() {}, fmt.Errorf("ensure log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return func() {}, fmt.Errorf("open log file: %w", err)
	}

	if err := os.Setenv(LogPathEnv, path); err != nil {
		_ = file.Close()
		return func() {}, fmt.Errorf("set log env: %w", err)
	}

	return func() {
		_ = file.Close()
		_ = pkglog.Sync()
	}, nil
}
