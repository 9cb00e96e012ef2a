package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/flockml/flock/pkg/fl"
)

// JobStatus is the monotonic lifecycle state of a job. There is no
// regression once a FINISHED_* state is reached.
type JobStatus string

const (
	JobStatusNotStarted           JobStatus = "NOT_STARTED"
	JobStatusInProgress           JobStatus = "IN_PROGRESS"
	JobStatusFinishedWithError    JobStatus = "FINISHED_WITH_ERROR"
	JobStatusFinishedSuccessfully JobStatus = "FINISHED_SUCCESSFULLY"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusNotStarted,
	JobStatusInProgress,
	JobStatusFinishedSuccessfully,
	JobStatusFinishedWithError,
}

// Terminal reports whether the status is one of the FINISHED_* states.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinishedWithError || s == JobStatusFinishedSuccessfully
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	for _, known := range JobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ClientInfo describes one remote training participant. The list length is
// fixed at job creation; UUID transitions empty -> set exactly once, when
// the client's start endpoint returns its run identifier.
type ClientInfo struct {
	ID             string          `json:"id"`
	ServiceAddress string          `json:"service_address"`
	DataPath       string          `json:"data_path"`
	RedisHost      string          `json:"redis_host"`
	RedisPort      int             `json:"redis_port"`
	HashedPassword string          `json:"hashed_password"`
	UUID           string          `json:"uuid,omitempty"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
	LogFilePath    string          `json:"log_file_path,omitempty"`
}

// Job is the unit of orchestration work.
type Job struct {
	bun.BaseModel `bun:"table:fl.jobs,alias:j"`

	ID     uuid.UUID `bun:"type:uuid,default:gen_random_uuid(),pk" json:"id"`
	Status JobStatus `bun:",notnull,default:'NOT_STARTED'" json:"status"`

	Model     fl.Model     `bun:",notnull" json:"model"`
	Strategy  fl.Strategy  `bun:",notnull" json:"strategy"`
	Optimizer fl.Optimizer `bun:",notnull" json:"optimizer"`

	ServerAddress     string          `bun:",notnull" json:"server_address"`
	ServerConfig      json.RawMessage `bun:"server_config,type:jsonb" json:"server_config"`
	ServerUUID        string          `bun:"server_uuid,nullzero" json:"server_uuid,omitempty"`
	ServerLogFilePath string          `bun:",nullzero" json:"server_log_file_path,omitempty"`
	ServerPID         int             `bun:"server_pid,nullzero" json:"server_pid,omitempty"`
	ServerMetrics     json.RawMessage `bun:"server_metrics,type:jsonb,nullzero" json:"server_metrics,omitempty"`

	Rounds int `bun:",notnull,default:1" json:"rounds"`

	// Broker coordinates for this job's run.
	RedisHost string `bun:",notnull" json:"redis_host"`
	RedisPort int    `bun:",notnull" json:"redis_port"`

	ClientsInfo []ClientInfo `bun:"clients_info,type:jsonb" json:"clients_info"`

	ErrorMessage string `bun:",nullzero" json:"error_message,omitempty"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ClientIndex returns the position of the client with the given id, or -1.
// Assignment of uuids/metrics is positional, matched on id, never
// re-ordered.
func (j *Job) ClientIndex(clientID string) int {
	for i := range j.ClientsInfo {
		if j.ClientsInfo[i].ID == clientID {
			return i
		}
	}
	return -1
}
