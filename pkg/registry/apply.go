package registry

import (
	"encoding/json"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
)

// applyUUIDs assigns run identifiers in list order. It validates before
// touching the job so a mismatch leaves nothing half-written.
func applyUUIDs(job *models.Job, serverUUID string, clientUUIDs []string) error {
	if len(clientUUIDs) != len(job.ClientsInfo) {
		return ferr.Newf(ferr.CodeRegistryIntegrity,
			"set uuids: got %d client uuids for %d clients_info entries", len(clientUUIDs), len(job.ClientsInfo))
	}

	job.ServerUUID = serverUUID
	for i := range job.ClientsInfo {
		job.ClientsInfo[i].UUID = clientUUIDs[i]
	}
	return nil
}

// applyClientMetrics stores metrics on the entry matching clientID.
func applyClientMetrics(job *models.Job, clientID string, metrics json.RawMessage) error {
	idx := job.ClientIndex(clientID)
	if idx < 0 {
		return ferr.Newf(ferr.CodeRegistryIntegrity,
			"set client metrics: client %s not in clients_info (%d entries)", clientID, len(job.ClientsInfo))
	}

	job.ClientsInfo[idx].Metrics = metrics
	return nil
}

// applyClientLogPath stores a log path on the entry at the given position.
func applyClientLogPath(job *models.Job, index int, path string) error {
	if index < 0 || index >= len(job.ClientsInfo) {
		return ferr.Newf(ferr.CodeRegistryIntegrity,
			"set client log path: index %d out of range for %d clients_info entries", index, len(job.ClientsInfo))
	}

	job.ClientsInfo[index].LogFilePath = path
	return nil
}
