package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flockml/flock/pkg/broker"
	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
	"github.com/flockml/flock/pkg/flog"
	"github.com/flockml/flock/pkg/frunner"
	"github.com/flockml/flock/pkg/registry"
)

// fakeRegistry keeps jobs in a map and enforces the same exactly-one
// semantics the bun implementation does.
type fakeRegistry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newFakeRegistry(jobs ...*models.Job) *fakeRegistry {
	r := &fakeRegistry{jobs: make(map[uuid.UUID]*models.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeRegistry) find(id uuid.UUID) (*models.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, ferr.Newf(ferr.CodeNotFound, "job %s not found", id)
	}
	return job, nil
}

func (r *fakeRegistry) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return nil, err
	}
	cp := *job
	cp.ClientsInfo = append([]models.ClientInfo(nil), job.ClientsInfo...)
	return &cp, nil
}

func (r *fakeRegistry) FindByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, j := range r.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRegistry) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	job.Status = status
	return nil
}

func (r *fakeRegistry) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return false, err
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (r *fakeRegistry) SetUUIDs(ctx context.Context, id uuid.UUID, serverUUID string, clientUUIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	if len(clientUUIDs) != len(job.ClientsInfo) {
		return ferr.Newf(ferr.CodeRegistryIntegrity, "got %d uuids for %d clients", len(clientUUIDs), len(job.ClientsInfo))
	}
	job.ServerUUID = serverUUID
	for i := range job.ClientsInfo {
		job.ClientsInfo[i].UUID = clientUUIDs[i]
	}
	return nil
}

func (r *fakeRegistry) SetServerMetrics(ctx context.Context, id uuid.UUID, metrics json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	job.ServerMetrics = metrics
	return nil
}

func (r *fakeRegistry) SetClientMetrics(ctx context.Context, id uuid.UUID, clientID string, metrics json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	i := job.ClientIndex(clientID)
	if i < 0 {
		return ferr.Newf(ferr.CodeRegistryIntegrity, "no client %s on job %s", clientID, id)
	}
	job.ClientsInfo[i].Metrics = metrics
	return nil
}

func (r *fakeRegistry) SetServerLogPath(ctx context.Context, id uuid.UUID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	job.ServerLogFilePath = path
	return nil
}

func (r *fakeRegistry) SetClientLogPath(ctx context.Context, id uuid.UUID, index int, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(job.ClientsInfo) {
		return ferr.Newf(ferr.CodeRegistryIntegrity, "client index %d out of range", index)
	}
	job.ClientsInfo[index].LogFilePath = path
	return nil
}

func (r *fakeRegistry) SetServerPID(ctx context.Context, id uuid.UUID, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	job.ServerPID = pid
	return nil
}

func (r *fakeRegistry) SetErrorMessage(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.find(id)
	if err != nil {
		return err
	}
	job.ErrorMessage = message
	return nil
}

var _ registry.Registry = (*fakeRegistry)(nil)

// fakeLauncher hands out inert handles and, when given a channel, plays
// the server's part by publishing fit_start (and optionally fit_end) for
// the launched run.
type fakeLauncher struct {
	mu          sync.Mutex
	ch          *broker.MemoryChannel
	launched    []frunner.ServerSpec
	terminated  []int
	announce    bool
	announceEnd bool
}

func (l *fakeLauncher) LaunchServer(ctx context.Context, spec frunner.ServerSpec) (*frunner.Handle, error) {
	l.mu.Lock()
	l.launched = append(l.launched, spec)
	l.mu.Unlock()

	if l.announce {
		snap := broker.Snapshot{"fit_start": time.Now().Unix()}
		if l.announceEnd {
			snap["fit_end"] = time.Now().Unix()
		}
		if err := l.ch.Publish(ctx, spec.RunID, snap); err != nil {
			return nil, err
		}
	}
	return &frunner.Handle{PID: 4242, LogPath: spec.LogPath}, nil
}

func (l *fakeLauncher) LaunchClient(ctx context.Context, spec frunner.ClientSpec) (*frunner.Handle, error) {
	return &frunner.Handle{PID: 4243, LogPath: spec.LogPath}, nil
}

func (l *fakeLauncher) Terminate(pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = append(l.terminated, pid)
	return nil
}

// clientServer is an httptest stand-in for one remote client service.
type clientServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	token      string
	runID      string
	authCalls  int
	startCalls int
	stopCalls  int
	failStart  bool
	failStop   bool
}

func newClientServer(t *testing.T, runID string) *clientServer {
	t.Helper()
	cs := &clientServer{token: "tok-" + runID, runID: runID}

	mux := http.NewServeMux()
	mux.HandleFunc("/client/connect", func(w http.ResponseWriter, r *http.Request) {
		if !cs.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"status":"connected"}`)
	})
	mux.HandleFunc("/client/auth/token", func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.authCalls++
		cs.mu.Unlock()
		if err := r.ParseForm(); err != nil || r.PostForm.Get("username") == "" || r.PostForm.Get("password") == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": cs.token, "token_type": "bearer"})
	})
	mux.HandleFunc("/client/start", func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.startCalls++
		fail := cs.failStart
		cs.mu.Unlock()
		if !cs.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"uuid": cs.runID})
	})
	mux.HandleFunc("/client/check_status/", func(w http.ResponseWriter, r *http.Request) {
		if !cs.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "finished", "accuracy": 0.91})
	})
	mux.HandleFunc("/client/stop/", func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.stopCalls++
		fail := cs.failStop
		cs.mu.Unlock()
		if !cs.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"status":"stopped"}`)
	})

	cs.srv = httptest.NewServer(mux)
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *clientServer) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+cs.token
}

func (cs *clientServer) counts() (starts, stops int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.startCalls, cs.stopCalls
}

func testJob(clients ...models.ClientInfo) *models.Job {
	return &models.Job{
		ID:            uuid.New(),
		Status:        models.JobStatusNotStarted,
		Model:         "lenet",
		Strategy:      "fedavg",
		Optimizer:     "sgd",
		ServerAddress: "127.0.0.1:8085",
		ServerConfig:  json.RawMessage(`{"num_channels":1,"num_classes":10,"lr":0.01,"batch_size":32}`),
		Rounds:        3,
		RedisHost:     "localhost",
		RedisPort:     6379,
		ClientsInfo:   clients,
	}
}

func clientInfo(id, addr string) models.ClientInfo {
	return models.ClientInfo{
		ID:             id,
		ServiceAddress: addr,
		DataPath:       "/data/" + id,
		RedisHost:      "localhost",
		RedisPort:      6379,
		HashedPassword: "0b14d501a594442a01c6859541bcb3e8164d183d32937b851835442f69d5c94e",
	}
}

type harness struct {
	orc *Orchestrator
	reg *fakeRegistry
	ch  *broker.MemoryChannel
	lnc *fakeLauncher
}

func newHarness(t *testing.T, announce bool, jobs ...*models.Job) *harness {
	t.Helper()
	ch := broker.NewMemoryChannel()
	lnc := &fakeLauncher{ch: ch, announce: announce}
	reg := newFakeRegistry(jobs...)

	orc := New(Options{
		Registry: reg,
		Launcher: lnc,
		Dialer:   broker.MemoryDialer(ch),
		Logger:   flog.NewQuiet(),
		Wait:     broker.WaitConfig{PollInterval: 5 * time.Millisecond, MaxRetries: 3},
		LogDir:   t.TempDir(),
	})
	return &harness{orc: orc, reg: reg, ch: ch, lnc: lnc}
}

func TestStartHappyPath(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	c2 := newClientServer(t, "run-c2")
	job := testJob(clientInfo("alpha", c1.srv.URL), clientInfo("beta", c2.srv.URL))
	h := newHarness(t, true, job)

	res, err := h.orc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.ServerUUID == "" {
		t.Fatal("expected a server run identifier")
	}
	if len(res.ClientUUIDs) != 2 || res.ClientUUIDs[0] != "run-c1" || res.ClientUUIDs[1] != "run-c2" {
		t.Fatalf("client uuids out of order: %v", res.ClientUUIDs)
	}

	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusInProgress {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusInProgress)
	}
	if got.ServerUUID != res.ServerUUID {
		t.Fatalf("server uuid not persisted: %q", got.ServerUUID)
	}
	if got.ServerPID != 4242 {
		t.Fatalf("server pid = %d", got.ServerPID)
	}
	if got.ServerLogFilePath == "" {
		t.Fatal("server log path not persisted")
	}

	// Natural completion: the server publishes fit_end and the listener
	// finalizes.
	err = h.ch.Publish(context.Background(), res.ServerUUID, broker.Snapshot{
		"fit_start": 1, "fit_end": 2, "accuracy": 0.93,
	})
	if err != nil {
		t.Fatalf("publish fit_end: %v", err)
	}
	h.orc.Listeners().Wait()

	got, _ = h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFinishedSuccessfully {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusFinishedSuccessfully)
	}
	if len(got.ServerMetrics) == 0 || !strings.Contains(string(got.ServerMetrics), "accuracy") {
		t.Fatalf("server metrics not recorded: %s", got.ServerMetrics)
	}
	for _, ci := range got.ClientsInfo {
		if len(ci.Metrics) == 0 {
			t.Fatalf("client %s has no final metrics", ci.ID)
		}
	}
}

func TestStartClientFailureAbortsWithoutRollback(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	c2 := newClientServer(t, "run-c2")
	c2.failStart = true
	job := testJob(clientInfo("alpha", c1.srv.URL), clientInfo("beta", c2.srv.URL))
	h := newHarness(t, true, job)

	_, err := h.orc.Start(context.Background(), job.ID)
	if !ferr.IsCode(err, ferr.CodeClientUnreachable) {
		t.Fatalf("err = %v, want client_unreachable", err)
	}
	if !strings.Contains(err.Error(), "beta") {
		t.Fatalf("error does not name the failed client: %v", err)
	}

	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusNotStarted {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusNotStarted)
	}
	if got.ServerUUID != "" {
		t.Fatalf("uuids must not be persisted on abort, got %q", got.ServerUUID)
	}

	// The first client was started and is deliberately left running.
	starts, stops := c1.counts()
	if starts != 1 || stops != 0 {
		t.Fatalf("client alpha: starts=%d stops=%d, want 1/0", starts, stops)
	}
}

func TestStartFitStartNeverAppears(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL))
	h := newHarness(t, false, job) // launcher never announces fit_start

	_, err := h.orc.Start(context.Background(), job.ID)
	if !ferr.IsCode(err, ferr.CodeMetricNotFound) {
		t.Fatalf("err = %v, want metric_not_found", err)
	}

	// No client was ever contacted.
	if starts, _ := c1.counts(); starts != 0 {
		t.Fatalf("client contacted before training confirmation: %d starts", starts)
	}
	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusNotStarted {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusNotStarted)
	}
}

func TestStartRejectsNonStartableJob(t *testing.T) {
	job := testJob(clientInfo("alpha", "http://unused"))
	job.Status = models.JobStatusInProgress
	h := newHarness(t, true, job)

	_, err := h.orc.Start(context.Background(), job.ID)
	if !ferr.IsCode(err, ferr.CodeIncompleteJob) {
		t.Fatalf("err = %v, want incomplete_job", err)
	}
	if len(h.lnc.launched) != 0 {
		t.Fatal("no server process may be launched for a non-startable job")
	}
}

func TestStartRejectsIncompleteConfig(t *testing.T) {
	job := testJob(clientInfo("alpha", "http://unused"))
	job.ServerConfig = json.RawMessage(`{"num_channels":1}`)
	h := newHarness(t, true, job)

	_, err := h.orc.Start(context.Background(), job.ID)
	if !ferr.IsCode(err, ferr.CodeIncompleteConfig) {
		t.Fatalf("err = %v, want incomplete_config", err)
	}
	if !strings.Contains(err.Error(), "num_classes") {
		t.Fatalf("error does not name the missing key: %v", err)
	}
}

func TestStopAlwaysFinishesWithError(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	c2 := newClientServer(t, "run-c2")
	c2.failStop = true

	job := testJob(clientInfo("alpha", c1.srv.URL), clientInfo("beta", c2.srv.URL))
	job.Status = models.JobStatusInProgress
	job.ClientsInfo[0].UUID = "run-c1"
	job.ClientsInfo[1].UUID = "run-c2"
	h := newHarness(t, true, job)

	if err := h.orc.Stop(context.Background(), job.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFinishedWithError {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusFinishedWithError)
	}
	if !strings.Contains(got.ErrorMessage, "Failed to stop client run-c2") {
		t.Fatalf("error message missing failed client: %q", got.ErrorMessage)
	}
	if strings.Contains(got.ErrorMessage, "run-c1") {
		t.Fatalf("healthy client reported as failure: %q", got.ErrorMessage)
	}
}

func TestStopSkipsNeverStartedClients(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL), clientInfo("beta", c1.srv.URL))
	job.Status = models.JobStatusInProgress
	job.ClientsInfo[0].UUID = "run-c1"
	// beta never started; its UUID stays empty.
	h := newHarness(t, true, job)

	if err := h.orc.Stop(context.Background(), job.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, stops := c1.counts(); stops != 1 {
		t.Fatalf("stop calls = %d, want exactly 1", stops)
	}
	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFinishedWithError {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusFinishedWithError)
	}
}

func TestStopOfMissingJob(t *testing.T) {
	h := newHarness(t, true)
	err := h.orc.Stop(context.Background(), uuid.New())
	if !ferr.IsCode(err, ferr.CodeNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

// A stop that lands before the completion signal must win: the listener's
// finalize is compare-and-swap against IN_PROGRESS and stands down.
func TestListenerDoesNotOverrideStop(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL))
	h := newHarness(t, true, job)

	res, err := h.orc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.orc.Stop(context.Background(), job.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(h.lnc.terminated) != 1 || h.lnc.terminated[0] != 4242 {
		t.Fatalf("server process not terminated: %v", h.lnc.terminated)
	}

	err = h.ch.Publish(context.Background(), res.ServerUUID, broker.Snapshot{
		"fit_start": 1, "fit_end": 2,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	h.orc.Listeners().Wait()

	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFinishedWithError {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusFinishedWithError)
	}
	if len(got.ServerMetrics) != 0 {
		t.Fatalf("finalize must not write metrics after losing the race: %s", got.ServerMetrics)
	}
}

// The listener must finalize a run whose completion signal landed before
// the subscription attached: fit_end is already in the snapshot when the
// listener does its first read, so no notification ever arrives.
func TestListenerHandlesEarlyCompletion(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL))
	h := newHarness(t, true, job)
	h.lnc.announceEnd = true

	res, err := h.orc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.orc.Listeners().Wait()

	got, _ := h.reg.FindByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFinishedSuccessfully {
		t.Fatalf("status = %s, want %s", got.Status, models.JobStatusFinishedSuccessfully)
	}
	if res.ServerUUID != got.ServerUUID {
		t.Fatalf("server uuid mismatch: %q vs %q", res.ServerUUID, got.ServerUUID)
	}
}

func TestClientTokenReauthenticatesOnStaleCache(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL))
	h := newHarness(t, true, job)

	// Seed the cache with a token the client no longer accepts.
	h.orc.cache.set("alpha", "stale-token")

	res, err := h.orc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.ClientUUIDs[0] != "run-c1" {
		t.Fatalf("client uuid = %q", res.ClientUUIDs[0])
	}

	// The cache now holds the fresh token.
	if tok, ok := h.orc.cache.get("alpha"); !ok || tok != c1.token {
		t.Fatalf("cache not refreshed: %q", tok)
	}

	h.ch.Publish(context.Background(), res.ServerUUID, broker.Snapshot{"fit_start": 1, "fit_end": 2})
	h.orc.Listeners().Wait()
}

func TestClientTokenReusesCachedToken(t *testing.T) {
	c1 := newClientServer(t, "run-c1")
	job := testJob(clientInfo("alpha", c1.srv.URL))
	h := newHarness(t, true, job)

	// A valid token is already cached; no auth round trip may happen.
	h.orc.cache.set("alpha", c1.token)

	if _, err := h.orc.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c1.mu.Lock()
	auths := c1.authCalls
	c1.mu.Unlock()
	if auths != 0 {
		t.Fatalf("auth endpoint called %d times with a valid cached token", auths)
	}
}
