package schemas

import (
	"encoding/json"

	"github.com/flockml/flock/pkg/db/models"
)

// CreateJobRequest declares a new training job. server_config stays an
// opaque blob here; it is validated against the model's mandatory keys at
// start time, not at creation.
type CreateJobRequest struct {
	Model         string              `json:"model" doc:"Model identifier (lenet, cnn, mlp, resnet18)"`
	Strategy      string              `json:"strategy" doc:"Aggregation strategy (fedavg, fedprox, scaffold)"`
	Optimizer     string              `json:"optimizer" doc:"Optimizer (sgd, adam, rmsprop)"`
	ServerAddress string              `json:"server_address" doc:"Bind address handed to the FL server process"`
	ServerConfig  json.RawMessage     `json:"server_config" doc:"Model-specific server configuration"`
	Rounds        int                 `json:"rounds" doc:"Number of training rounds" minimum:"1"`
	RedisHost     string              `json:"redis_host" doc:"Metrics broker host for this job"`
	RedisPort     int                 `json:"redis_port" doc:"Metrics broker port for this job"`
	ClientsInfo   []models.ClientInfo `json:"clients_info" doc:"Participating remote clients, in start order"`
}

// JobResponse is a job document as stored.
type JobResponse struct {
	Job *models.Job `json:"job" doc:"Job record"`
}

// JobListResponse is a filtered job listing.
type JobListResponse struct {
	Jobs []models.Job `json:"jobs" doc:"Matching jobs"`
}

// StartJobResponse carries the run identifiers collected during start.
type StartJobResponse struct {
	ServerUUID  string   `json:"server_uuid" doc:"Server run identifier"`
	ClientUUIDs []string `json:"client_uuids" doc:"Client run identifiers, in clients_info order"`
}

// StatusResponse is the generic success acknowledgement.
type StatusResponse struct {
	Status string `json:"status" example:"success"`
}
