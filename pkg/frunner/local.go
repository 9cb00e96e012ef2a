package frunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// LocalLauncher spawns worker processes on the coordinator host. The
// framework entrypoints (server and client commands) come from service
// configuration; the launcher only appends per-run flags.
type LocalLauncher struct {
	serverCmd []string
	clientCmd []string
	warmup    time.Duration
}

// LocalLauncherOption configures a LocalLauncher
type LocalLauncherOption func(*LocalLauncher)

// WithWarmup sets the courtesy sleep after a server launch, giving the
// listening socket a head start. It is not a readiness guarantee; true
// readiness is the fit_start metric on the broker.
func WithWarmup(d time.Duration) LocalLauncherOption {
	return func(l *LocalLauncher) {
		l.warmup = d
	}
}

func NewLocalLauncher(serverCmd, clientCmd []string, opts ...LocalLauncherOption) *LocalLauncher {
	l := &LocalLauncher{
		serverCmd: serverCmd,
		clientCmd: clientCmd,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LocalLauncher) LaunchServer(ctx context.Context, spec ServerSpec) (*Handle, error) {
	if len(l.serverCmd) == 0 {
		return nil, errors.New("launcher: server command not configured")
	}

	args := append([]string{}, l.serverCmd[1:]...)
	args = append(args,
		"--run-id", spec.RunID,
		"--model", string(spec.Model),
		"--strategy", string(spec.Strategy),
		"--optimizer", string(spec.Optimizer),
		"--address", spec.Address,
		"--rounds", strconv.Itoa(spec.Rounds),
		"--clients", strconv.Itoa(spec.Clients),
		"--redis-host", spec.BrokerHost,
		"--redis-port", strconv.Itoa(spec.BrokerPort),
	)

	handle, err := l.launch(ctx, l.serverCmd[0], args, spec.LogPath)
	if err != nil {
		return nil, err
	}

	if l.warmup > 0 {
		time.Sleep(l.warmup)
	}
	return handle, nil
}

func (l *LocalLauncher) LaunchClient(ctx context.Context, spec ClientSpec) (*Handle, error) {
	if len(l.clientCmd) == 0 {
		return nil, errors.New("launcher: client command not configured")
	}

	args := append([]string{}, l.clientCmd[1:]...)
	args = append(args,
		"--run-id", spec.RunID,
		"--client-type", spec.ClientType,
		"--server-address", spec.ServerAddress,
		"--data-path", spec.DataPath,
		"--redis-host", spec.BrokerHost,
		"--redis-port", strconv.Itoa(spec.BrokerPort),
	)

	return l.launch(ctx, l.clientCmd[0], args, spec.LogPath)
}

// launch starts the process with stdout+stderr redirected into the log
// file. The file is opened in append mode so concurrent runs sharing a
// path never clobber each other's output.
//
// The context only gates the spawn itself. A launched process must
// outlive whatever request triggered it; its lifetime ends through
// Terminate, not through context cancellation.
func (l *LocalLauncher) launch(ctx context.Context, bin string, args []string, logPath string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}

	// The child holds its own descriptor from here on.
	logFile.Close()

	handle := newHandle(cmd, logPath)

	// Reap in the background so an unjoined process never goes zombie.
	go handle.Wait()

	return handle, nil
}

// Terminate sends SIGTERM so the framework process can flush its final
// metrics before exiting.
func (l *LocalLauncher) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

var _ Launcher = (*LocalLauncher)(nil)
