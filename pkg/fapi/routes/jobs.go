package routes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/fapi/schemas"
	"github.com/flockml/flock/pkg/fapi/services/auth"
	"github.com/flockml/flock/pkg/fl"
	"github.com/flockml/flock/pkg/orchestrator"
	"github.com/flockml/flock/pkg/registry"
)

// CreateJobInput defines the input for job creation
type CreateJobInput struct {
	Body schemas.CreateJobRequest
}

// CreateJobOutput is the response for job creation
type CreateJobOutput struct {
	Body schemas.JobResponse
}

// GetJobInput defines the input for getting a job
type GetJobInput struct {
	JobID string `path:"jobId" doc:"Job ID" format:"uuid"`
}

// GetJobOutput is the response for getting a job
type GetJobOutput struct {
	Body schemas.JobResponse
}

// ListJobsInput defines the input for listing jobs
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status" required:"false"`
	Limit  int    `query:"limit" doc:"Maximum number of jobs to return" required:"false"`
}

// ListJobsOutput is the response for listing jobs
type ListJobsOutput struct {
	Body schemas.JobListResponse
}

// StartJobInput defines the input for starting a job
type StartJobInput struct {
	JobID string `path:"jobId" doc:"Job ID" format:"uuid"`
}

// StartJobOutput is the response for starting a job
type StartJobOutput struct {
	Body schemas.StartJobResponse
}

// StopJobInput defines the input for stopping a job
type StopJobInput struct {
	JobID string `path:"jobId" doc:"Job ID" format:"uuid"`
}

// StopJobOutput is the response for stopping a job
type StopJobOutput struct {
	Body schemas.StatusResponse
}

// RegisterJobs registers job-related routes
func RegisterJobs(api huma.API, reg registry.Registry, orc *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/api/jobs",
		Summary:       "Create a new job",
		Description:   "Registers a job in NOT_STARTED state",
		Tags:          []string{TagJobs.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateJobInput) (*CreateJobOutput, error) {
		if auth.Principal(ctx) == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		// Enum fields are checked eagerly so a typo fails at creation;
		// server_config stays opaque until start.
		model, err := fl.ParseModel(input.Body.Model)
		if err != nil {
			return nil, httpError(err)
		}
		strategy, err := fl.ParseStrategy(input.Body.Strategy)
		if err != nil {
			return nil, httpError(err)
		}
		optimizer, err := fl.ParseOptimizer(input.Body.Optimizer)
		if err != nil {
			return nil, httpError(err)
		}
		if len(input.Body.ClientsInfo) == 0 {
			return nil, huma.Error400BadRequest("clients_info must not be empty")
		}

		rounds := input.Body.Rounds
		if rounds <= 0 {
			rounds = 1
		}

		job := &models.Job{
			Status:        models.JobStatusNotStarted,
			Model:         model,
			Strategy:      strategy,
			Optimizer:     optimizer,
			ServerAddress: input.Body.ServerAddress,
			ServerConfig:  input.Body.ServerConfig,
			Rounds:        rounds,
			RedisHost:     input.Body.RedisHost,
			RedisPort:     input.Body.RedisPort,
			ClientsInfo:   input.Body.ClientsInfo,
		}
		if err := reg.Create(ctx, job); err != nil {
			return nil, httpError(err)
		}

		resp := &CreateJobOutput{}
		resp.Body.Job = job
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List jobs",
		Description: "Lists jobs, optionally filtered by status",
		Tags:        []string{TagJobs.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		if auth.Principal(ctx) == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		var jobs []models.Job
		var err error
		if input.Status != "" {
			status := models.JobStatus(input.Status)
			if !status.Valid() {
				return nil, huma.Error400BadRequest(fmt.Sprintf("unknown status %q", input.Status))
			}
			jobs, err = reg.FindByStatus(ctx, status, input.Limit)
		} else {
			// An empty filter walks the full lifecycle in a fixed order.
			for _, st := range models.JobStatuses {
				var batch []models.Job
				batch, err = reg.FindByStatus(ctx, st, input.Limit)
				if err != nil {
					break
				}
				jobs = append(jobs, batch...)
			}
		}
		if err != nil {
			return nil, httpError(err)
		}

		resp := &ListJobsOutput{}
		resp.Body.Jobs = jobs
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{jobId}",
		Summary:     "Get job details",
		Description: "Returns the stored job record",
		Tags:        []string{TagJobs.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
		if auth.Principal(ctx) == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		id, err := uuid.Parse(input.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("job ID must be a uuid")
		}

		job, err := reg.FindByID(ctx, id)
		if err != nil {
			return nil, httpError(err)
		}

		resp := &GetJobOutput{}
		resp.Body.Job = job
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs/{jobId}/start",
		Summary:     "Start a job",
		Description: "Launches the server process and starts every remote client",
		Tags:        []string{TagJobs.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *StartJobInput) (*StartJobOutput, error) {
		if auth.Principal(ctx) == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		id, err := uuid.Parse(input.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("job ID must be a uuid")
		}

		res, err := orc.Start(ctx, id)
		if err != nil {
			return nil, httpError(err)
		}

		resp := &StartJobOutput{}
		resp.Body.ServerUUID = res.ServerUUID
		resp.Body.ClientUUIDs = res.ClientUUIDs
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs/{jobId}/stop",
		Summary:     "Stop a job",
		Description: "Best-effort termination of the server and every client",
		Tags:        []string{TagJobs.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *StopJobInput) (*StopJobOutput, error) {
		if auth.Principal(ctx) == nil {
			return nil, huma.Error401Unauthorized("could not validate credentials")
		}

		id, err := uuid.Parse(input.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("job ID must be a uuid")
		}

		if err := orc.Stop(ctx, id); err != nil {
			return nil, httpError(err)
		}

		resp := &StopJobOutput{}
		resp.Body.Status = "success"
		return resp, nil
	})
}
