package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/fapi"
	"github.com/flockml/flock/pkg/fapi/services/auth"
	"github.com/flockml/flock/pkg/ferr"
	"github.com/flockml/flock/pkg/flog"
	"github.com/flockml/flock/pkg/registry"
)

// stubRegistry serves the read paths the listing route touches; the
// embedded interface panics on anything else.
type stubRegistry struct {
	registry.Registry
	byStatus map[models.JobStatus][]models.Job
	queried  []models.JobStatus
}

func (s *stubRegistry) FindByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	s.queried = append(s.queried, status)
	return s.byStatus[status], nil
}

type stubUsers struct {
	byName map[string]*models.User
}

func (s *stubUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	user, ok := s.byName[username]
	if !ok {
		return nil, ferr.Newf(ferr.CodeNotFound, "user %s not found", username)
	}
	cp := *user
	return &cp, nil
}

func (s *stubUsers) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.byName[user.Username] = user
	return nil
}

func (s *stubUsers) UpdatePassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	return ferr.Newf(ferr.CodeRegistryIntegrity, "no user row for id %s", id)
}

func newJobsServer(t *testing.T, reg *stubRegistry) (*httptest.Server, string) {
	t.Helper()
	ctx := context.Background()

	svc := auth.NewAuthService(&stubUsers{byName: make(map[string]*models.User)}, time.Hour, "admin", flog.NewQuiet())
	if err := svc.EnsureDefaultAccount(ctx, "admin", "admin"); err != nil {
		t.Fatalf("EnsureDefaultAccount: %v", err)
	}
	token, _, err := svc.Login(ctx, "admin", "admin")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	a := fapi.NewApi()
	a.Api.UseMiddleware(svc.Middleware())
	RegisterJobs(a.Api, reg, nil)

	ts := httptest.NewServer(a.Router)
	t.Cleanup(ts.Close)
	return ts, token
}

func listJobs(t *testing.T, ts *httptest.Server, token, query string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs"+query, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/jobs%s: %v", query, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestListJobsRejectsUnknownStatusFilter(t *testing.T) {
	reg := &stubRegistry{byStatus: make(map[models.JobStatus][]models.Job)}
	ts, token := newJobsServer(t, reg)

	resp, body := listJobs(t, ts, token, "?status=RUNNING")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, body)
	}
	if len(reg.queried) != 0 {
		t.Fatalf("registry queried with a bogus status: %v", reg.queried)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	job := models.Job{ID: uuid.New(), Status: models.JobStatusInProgress}
	reg := &stubRegistry{byStatus: map[models.JobStatus][]models.Job{
		models.JobStatusInProgress: {job},
	}}
	ts, token := newJobsServer(t, reg)

	resp, body := listJobs(t, ts, token, "?status=IN_PROGRESS")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}

	var out struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Jobs) != 1 || out.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected listing: %+v", out.Jobs)
	}
	if len(reg.queried) != 1 || reg.queried[0] != models.JobStatusInProgress {
		t.Fatalf("queried statuses = %v", reg.queried)
	}
}

func TestListJobsWithoutFilterWalksLifecycle(t *testing.T) {
	reg := &stubRegistry{byStatus: make(map[models.JobStatus][]models.Job)}
	ts, token := newJobsServer(t, reg)

	resp, body := listJobs(t, ts, token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	if len(reg.queried) != len(models.JobStatuses) {
		t.Fatalf("queried statuses = %v", reg.queried)
	}
	for i, st := range models.JobStatuses {
		if reg.queried[i] != st {
			t.Fatalf("queried statuses out of lifecycle order: %v", reg.queried)
		}
	}
}

func TestListJobsRequiresToken(t *testing.T) {
	reg := &stubRegistry{byStatus: make(map[models.JobStatus][]models.Job)}
	ts, _ := newJobsServer(t, reg)

	resp, body := listJobs(t, ts, "not-a-token", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", resp.StatusCode, body)
	}
}
