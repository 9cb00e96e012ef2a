// Package frunner launches the external FL framework's server and client
// workers as isolated OS processes. Isolation is by process boundary on
// purpose: log redirection and PID-based termination are part of the
// contract, so workers are never collapsed into in-process goroutines.
package frunner

import (
	"context"
	"os/exec"
	"sync"

	"github.com/flockml/flock/pkg/fl"
)

// ServerSpec describes one server process launch.
type ServerSpec struct {
	RunID     string
	Model     fl.Model
	Strategy  fl.Strategy
	Optimizer fl.Optimizer
	Address   string
	Rounds    int
	Clients   int

	// Broker coordinates the process publishes its metrics to.
	BrokerHost string
	BrokerPort int

	LogPath string
}

// ClientSpec describes one client process launch (used when a participant
// runs co-located with the coordinator rather than behind a remote client
// service).
type ClientSpec struct {
	RunID         string
	ClientType    string
	ServerAddress string
	DataPath      string
	BrokerHost    string
	BrokerPort    int
	LogPath       string
}

// Launcher starts worker processes. Spawn failures are synchronous hard
// failures; there is no retry.
type Launcher interface {
	LaunchServer(ctx context.Context, spec ServerSpec) (*Handle, error)
	LaunchClient(ctx context.Context, spec ClientSpec) (*Handle, error)

	// Terminate requests graceful shutdown of a previously launched
	// process identified by pid.
	Terminate(pid int) error
}

// Handle identifies a launched process. PID is kept for later signal-based
// termination; Wait joins the process (used by tests and reaping).
type Handle struct {
	PID     int
	LogPath string

	cmd  *exec.Cmd
	once sync.Once
	done chan struct{}
	err  error
}

func newHandle(cmd *exec.Cmd, logPath string) *Handle {
	return &Handle{
		PID:     cmd.Process.Pid,
		LogPath: logPath,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
}

// Wait blocks until the process exits and returns its exit error. Safe to
// call from multiple goroutines; the process is reaped exactly once.
func (h *Handle) Wait() error {
	h.once.Do(func() {
		h.err = h.cmd.Wait()
		close(h.done)
	})
	<-h.done
	return h.err
}
