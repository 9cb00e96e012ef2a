// Package fsdk is the client surface for the coordinator API: config
// loading, keyring-backed token storage, and a typed HTTP client used by
// flockctl.
package fsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/fapi/schemas"
)

// Client is a thin typed wrapper over the coordinator's JSON API. Token
// lifecycle stays with the caller; the client only attaches what it is
// given.
type Client struct {
	BaseURL string
	Token   string

	httpc *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Login exchanges credentials for a session token. The received token is
// kept on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*schemas.TokenResponse, error) {
	var out schemas.TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/token", schemas.LoginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.AccessToken
	return &out, nil
}

// CheckToken validates the current token against the server.
func (c *Client) CheckToken(ctx context.Context) (*schemas.CheckTokenResponse, error) {
	var out schemas.CheckTokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/check_token", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword rotates the authenticated account's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	var out schemas.StatusResponse
	return c.do(ctx, http.MethodPost, "/api/auth/password", schemas.ChangePasswordRequest{
		OldPassword: oldPassword,
		NewPassword: newPassword,
	}, &out)
}

// CreateJob registers a new job.
func (c *Client) CreateJob(ctx context.Context, req schemas.CreateJobRequest) (*models.Job, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var out schemas.JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]models.Job, error) {
	path := "/api/jobs"
	if status != "" {
		path += "?status=" + status
	}
	var out schemas.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// StartJob starts a job and returns the collected run identifiers.
func (c *Client) StartJob(ctx context.Context, jobID string) (*schemas.StartJobResponse, error) {
	var out schemas.StartJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+jobID+"/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopJob requests best-effort termination of a job.
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	var out schemas.StatusResponse
	return c.do(ctx, http.MethodPost, "/api/jobs/"+jobID+"/stop", nil, &out)
}

// APIError is a non-2xx response from the coordinator.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Title, e.Status, e.Detail)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// Unauthorized reports whether err is a 401 response so callers can clear
// stored credentials and prompt for a fresh login.
func Unauthorized(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		enc, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(enc)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.NewDecoder(resp.Body).Decode(&problem) == nil {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
		}
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
