// Package orchestrator coordinates federated training jobs: it launches
// the local server process, confirms training actually began via the
// metrics broker, fans start calls out to the remote client services, and
// finalizes job state when the out-of-band completion signal arrives.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flockml/flock/pkg/broker"
	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
	"github.com/flockml/flock/pkg/fl"
	"github.com/flockml/flock/pkg/flog"
	"github.com/flockml/flock/pkg/frunner"
	"github.com/flockml/flock/pkg/fstore"
	"github.com/flockml/flock/pkg/registry"
)

// Metric keys written by the server process. fitStart confirms training
// entered its first round; fitEnd is the completion signal.
const (
	metricFitStart = "fit_start"
	metricFitEnd   = "fit_end"
)

// Options wires an Orchestrator. Registry, Launcher and Dialer are
// required; everything else has defaults.
type Options struct {
	Registry   registry.Registry
	Launcher   frunner.Launcher
	Dialer     broker.Dialer
	TokenCache *TokenCache
	Artifacts  fstore.Store // optional log archival
	HTTPClient *http.Client
	Logger     *flog.Logger

	// Wait bounds the fit_start poll loop (defaults: 20 retries, 3s).
	Wait broker.WaitConfig

	// LogDir receives per-run server log files.
	LogDir string

	// ClientUsername is the account name presented to remote client
	// services when requesting tokens.
	ClientUsername string
}

type Orchestrator struct {
	reg       registry.Registry
	launcher  frunner.Launcher
	dial      broker.Dialer
	cache     *TokenCache
	artifacts fstore.Store
	clients   *clientService
	listeners *Listeners
	log       *flog.Logger
	wait      broker.WaitConfig
	logDir    string
}

func New(opts Options) *Orchestrator {
	if opts.TokenCache == nil {
		opts.TokenCache = NewTokenCache()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = flog.NewDefault()
	}
	if opts.Wait.MaxRetries <= 0 {
		opts.Wait = broker.DefaultWaitConfig
	}
	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(os.TempDir(), "flock", "runs")
	}
	if opts.ClientUsername == "" {
		opts.ClientUsername = "admin"
	}

	return &Orchestrator{
		reg:       opts.Registry,
		launcher:  opts.Launcher,
		dial:      opts.Dialer,
		cache:     opts.TokenCache,
		artifacts: opts.Artifacts,
		clients:   &clientService{httpc: opts.HTTPClient, username: opts.ClientUsername},
		listeners: NewListeners(opts.Logger),
		log:       opts.Logger,
		wait:      opts.Wait,
		logDir:    opts.LogDir,
	}
}

// Listeners exposes the listener supervisor so shutdown and tests can
// join outstanding completion listeners.
func (o *Orchestrator) Listeners() *Listeners {
	return o.listeners
}

// StartResult carries the run identifiers collected during start, client
// entries in clients_info order.
type StartResult struct {
	ServerUUID  string   `json:"server_uuid"`
	ClientUUIDs []string `json:"client_uuids"`
}

// Start launches the server process for a NOT_STARTED job, waits for the
// fit_start signal, starts every remote client in list order, persists the
// collected identifiers, and schedules the completion listener.
//
// A client failure mid-sequence aborts the whole start; clients that
// already started are not rolled back.
func (o *Orchestrator) Start(ctx context.Context, jobID uuid.UUID) (*StartResult, error) {
	job, err := o.reg.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := validateForStart(job); err != nil {
		return nil, err
	}

	serverRunID := uuid.NewString()
	logPath := filepath.Join(o.logDir, fmt.Sprintf("server_%s.log", serverRunID))

	handle, err := o.launcher.LaunchServer(ctx, frunner.ServerSpec{
		RunID:      serverRunID,
		Model:      job.Model,
		Strategy:   job.Strategy,
		Optimizer:  job.Optimizer,
		Address:    job.ServerAddress,
		Rounds:     job.Rounds,
		Clients:    len(job.ClientsInfo),
		BrokerHost: job.RedisHost,
		BrokerPort: job.RedisPort,
		LogPath:    logPath,
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("server process launched", "job", job.ID, "run", serverRunID, "pid", handle.PID)

	if err := o.reg.SetServerLogPath(ctx, job.ID, handle.LogPath); err != nil {
		return nil, err
	}
	if err := o.reg.SetServerPID(ctx, job.ID, handle.PID); err != nil {
		return nil, err
	}

	ch, err := o.dial(ctx, job.RedisHost, job.RedisPort)
	if err != nil {
		return nil, err
	}

	// Confirm the server actually entered training before contacting any
	// client. On exhaustion the server process is left running; there is
	// no rollback in this path.
	if _, err := broker.WaitForKey(ctx, ch, serverRunID, metricFitStart, o.wait); err != nil {
		ch.Close()
		return nil, err
	}

	clientType := fl.Models[job.Model].ClientType
	clientUUIDs := make([]string, 0, len(job.ClientsInfo))
	for _, ci := range job.ClientsInfo {
		token, err := o.clientToken(ctx, ci)
		if err != nil {
			ch.Close()
			return nil, err
		}

		runID, err := o.clients.start(ctx, ci, token, startParams{
			ServerAddress: job.ServerAddress,
			ClientType:    clientType,
			DataPath:      ci.DataPath,
			RedisHost:     ci.RedisHost,
			RedisPort:     ci.RedisPort,
		})
		if err != nil {
			ch.Close()
			return nil, ferr.Newf(ferr.CodeClientUnreachable, "failed to start client %s: %v", ci.ID, err)
		}
		clientUUIDs = append(clientUUIDs, runID)
	}

	// Status is committed before the uuids; the uuid write itself is
	// all-or-nothing.
	if err := o.reg.SetStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
		ch.Close()
		return nil, err
	}
	if err := o.reg.SetUUIDs(ctx, job.ID, serverRunID, clientUUIDs); err != nil {
		ch.Close()
		return nil, err
	}

	run := &jobRun{
		job:         job,
		serverRunID: serverRunID,
		clientUUIDs: clientUUIDs,
		logPath:     handle.LogPath,
	}
	o.listeners.Spawn(job.ID.String(), func(lctx context.Context) error {
		return o.watchCompletion(lctx, run, ch)
	})

	return &StartResult{ServerUUID: serverRunID, ClientUUIDs: clientUUIDs}, nil
}

// Stop best-effort terminates every participant, accumulating failures
// instead of aborting, and always leaves the job FINISHED_WITH_ERROR:
// manual termination is by definition not a successful natural completion.
func (o *Orchestrator) Stop(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.reg.FindByID(ctx, jobID)
	if err != nil {
		return err
	}

	var failures []string

	if job.ServerPID != 0 {
		if err := o.launcher.Terminate(job.ServerPID); err != nil {
			failures = append(failures, fmt.Sprintf("Failed to stop server (pid %d): %v", job.ServerPID, err))
		}
	}

	for _, ci := range job.ClientsInfo {
		if ci.UUID == "" {
			// Never started; nothing to stop.
			continue
		}

		token, err := o.clientToken(ctx, ci)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Failed to stop client %s: %v", ci.UUID, err))
			continue
		}
		if err := o.clients.stop(ctx, ci, token, ci.UUID); err != nil {
			failures = append(failures, fmt.Sprintf("Failed to stop client %s: %v", ci.UUID, err))
		}
	}

	if err := o.reg.SetStatus(ctx, job.ID, models.JobStatusFinishedWithError); err != nil {
		return err
	}
	if err := o.reg.SetErrorMessage(ctx, job.ID, strings.Join(failures, "\n")); err != nil {
		return err
	}

	if len(failures) > 0 {
		o.log.Warn("job stopped with participant failures", "job", job.ID, "failures", len(failures))
	}
	return nil
}

// jobRun carries the launch-time facts a completion listener needs.
type jobRun struct {
	job         *models.Job
	serverRunID string
	clientUUIDs []string
	logPath     string
}

// watchCompletion waits for the server's fit_end signal and finalizes the
// job. It first checks current metrics so a run that finished before the
// listener attached is finalized immediately, then subscribes and
// re-checks on every notification. There is no listener-side timeout: a
// permanently stalled server parks the listener forever.
func (o *Orchestrator) watchCompletion(ctx context.Context, run *jobRun, ch broker.Channel) error {
	defer ch.Close()

	snap, err := ch.Get(ctx, run.serverRunID)
	if err != nil {
		return err
	}
	if _, done := snap[metricFitEnd]; done {
		return o.finalize(ctx, run, snap)
	}

	sub, err := ch.Subscribe(ctx, run.serverRunID)
	if err != nil {
		return err
	}
	defer sub.Close()

	// Re-check after attaching; a publish between the Get above and the
	// Subscribe would otherwise be lost.
	snap, err = ch.Get(ctx, run.serverRunID)
	if err != nil {
		return err
	}
	if _, done := snap[metricFitEnd]; done {
		return o.finalize(ctx, run, snap)
	}

	for {
		if err := sub.Next(ctx); err != nil {
			return err
		}
		snap, err := ch.Get(ctx, run.serverRunID)
		if err != nil {
			return err
		}
		if _, done := snap[metricFitEnd]; done {
			return o.finalize(ctx, run, snap)
		}
	}
}

// finalize fetches every client's final status and records the finished
// state. The status transition is compare-and-swap against IN_PROGRESS so
// a stop() that already moved the job to FINISHED_WITH_ERROR wins the
// race and the listener stands down.
func (o *Orchestrator) finalize(ctx context.Context, run *jobRun, serverSnap broker.Snapshot) error {
	job := run.job

	type clientResult struct {
		id      string
		metrics json.RawMessage
	}
	results := make([]clientResult, 0, len(job.ClientsInfo))
	for i, ci := range job.ClientsInfo {
		token, err := o.clientToken(ctx, ci)
		if err != nil {
			o.log.Warn("could not fetch final client status", "job", job.ID, "client", ci.ID, "error", err)
			continue
		}
		metrics, err := o.clients.checkStatus(ctx, ci, token, run.clientUUIDs[i])
		if err != nil {
			o.log.Warn("could not fetch final client status", "job", job.ID, "client", ci.ID, "error", err)
			continue
		}
		results = append(results, clientResult{id: ci.ID, metrics: metrics})
	}

	swapped, err := o.reg.CompareAndSetStatus(ctx, job.ID, models.JobStatusInProgress, models.JobStatusFinishedSuccessfully)
	if err != nil {
		return err
	}
	if !swapped {
		o.log.Info("job already terminal, abandoning finalize", "job", job.ID)
		return nil
	}

	serverMetrics, err := json.Marshal(serverSnap)
	if err != nil {
		return err
	}
	if err := o.reg.SetServerMetrics(ctx, job.ID, serverMetrics); err != nil {
		return err
	}
	for _, res := range results {
		if err := o.reg.SetClientMetrics(ctx, job.ID, res.id, res.metrics); err != nil {
			return err
		}
	}

	o.archiveServerLog(ctx, run)
	o.log.Info("job finished", "job", job.ID, "run", run.serverRunID)
	return nil
}

// archiveServerLog uploads the server run log when an artifact store is
// configured. Best effort only.
func (o *Orchestrator) archiveServerLog(ctx context.Context, run *jobRun) {
	if o.artifacts == nil || run.logPath == "" {
		return
	}

	f, err := os.Open(run.logPath)
	if err != nil {
		o.log.Warn("server log not archived", "run", run.serverRunID, "error", err)
		return
	}
	defer f.Close()

	key := fstore.RunLogKey(run.serverRunID, "server.log")
	if _, err := o.artifacts.Upload(ctx, key, f, "text/plain", map[string]string{
		"job_id": run.job.ID.String(),
		"run_id": run.serverRunID,
	}); err != nil {
		o.log.Warn("server log not archived", "run", run.serverRunID, "error", err)
	}
}

// validateForStart asserts the job is startable: NOT_STARTED and carrying
// every field the launch needs. Failures name the offending field.
func validateForStart(job *models.Job) error {
	if job.Status != models.JobStatusNotStarted {
		return ferr.Newf(ferr.CodeIncompleteJob, "job %s is %s, expected %s", job.ID, job.Status, models.JobStatusNotStarted)
	}
	if _, err := fl.ParseModel(string(job.Model)); err != nil {
		return err
	}
	if _, err := fl.ParseStrategy(string(job.Strategy)); err != nil {
		return err
	}
	if _, err := fl.ParseOptimizer(string(job.Optimizer)); err != nil {
		return err
	}
	if job.ServerAddress == "" {
		return ferr.Newf(ferr.CodeIncompleteJob, "missing required field server_address")
	}
	if job.RedisHost == "" || job.RedisPort == 0 {
		return ferr.Newf(ferr.CodeIncompleteJob, "missing required field redis_host/redis_port")
	}
	if len(job.ClientsInfo) == 0 {
		return ferr.Newf(ferr.CodeIncompleteJob, "missing required field clients_info")
	}
	if _, err := fl.ParseServerConfig(job.Model, job.ServerConfig); err != nil {
		return err
	}
	return nil
}
