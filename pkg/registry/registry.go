// Package registry owns persistence of Job and User documents. Every
// mutation verifies that the underlying store matched exactly one row;
// anything else is a data-corruption signal, not a user error.
package registry

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/flockml/flock/pkg/db/models"
)

// Registry is the persistence surface the orchestrator and API depend on.
// The production implementation lives on bun/Postgres; tests substitute an
// in-memory fake.
type Registry interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	Create(ctx context.Context, job *models.Job) error

	SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error

	// CompareAndSetStatus transitions status only when the stored value
	// still equals from. Returns false without error when another writer
	// got there first.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error)

	// SetUUIDs records the server run identifier and the per-client run
	// identifiers in list order. The uuid slice must match clients_info in
	// length; mismatch fails before any write.
	SetUUIDs(ctx context.Context, id uuid.UUID, serverUUID string, clientUUIDs []string) error

	SetServerMetrics(ctx context.Context, id uuid.UUID, metrics json.RawMessage) error

	// SetClientMetrics stores a metrics blob on the clients_info entry
	// whose id equals clientID; an unknown id fails before any write.
	SetClientMetrics(ctx context.Context, id uuid.UUID, clientID string, metrics json.RawMessage) error

	SetServerLogPath(ctx context.Context, id uuid.UUID, path string) error
	SetClientLogPath(ctx context.Context, id uuid.UUID, index int, path string) error
	SetServerPID(ctx context.Context, id uuid.UUID, pid int) error
	SetErrorMessage(ctx context.Context, id uuid.UUID, message string) error
}
