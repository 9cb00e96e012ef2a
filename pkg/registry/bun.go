package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
)

// BunRegistry implements Registry on bun/Postgres. Jobs are rows in
// fl.jobs; clients_info and the metrics blobs are jsonb columns.
type BunRegistry struct {
	db *bun.DB
}

func NewBunRegistry(db *bun.DB) *BunRegistry {
	return &BunRegistry{db: db}
}

func (r *BunRegistry) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.NewSelect().
		Model(&job).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ferr.Newf(ferr.CodeNotFound, "job %s not found", id)
		}
		return nil, err
	}
	return &job, nil
}

func (r *BunRegistry) FindByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	var jobs []models.Job
	q := r.db.NewSelect().
		Model(&jobs).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *BunRegistry) Create(ctx context.Context, job *models.Job) error {
	_, err := r.db.NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	return err
}

func (r *BunRegistry) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	return r.updateColumns(ctx, id, "set status", map[string]any{"status": status})
}

func (r *BunRegistry) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", to).
		Set("updated_at = current_timestamp").
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 1 {
		return false, ferr.Newf(ferr.CodeRegistryIntegrity,
			"compare-and-set status: expected at most one job row for id %s, got %d", id, n)
	}
	return n == 1, nil
}

func (r *BunRegistry) SetUUIDs(ctx context.Context, id uuid.UUID, serverUUID string, clientUUIDs []string) error {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := applyUUIDs(job, serverUUID, clientUUIDs); err != nil {
		return err
	}
	return r.updateColumns(ctx, id, "set uuids", map[string]any{
		"server_uuid":  job.ServerUUID,
		"clients_info": clientsJSON(job),
	})
}

func (r *BunRegistry) SetServerMetrics(ctx context.Context, id uuid.UUID, metrics json.RawMessage) error {
	return r.updateColumns(ctx, id, "set server metrics", map[string]any{"server_metrics": metrics})
}

func (r *BunRegistry) SetClientMetrics(ctx context.Context, id uuid.UUID, clientID string, metrics json.RawMessage) error {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := applyClientMetrics(job, clientID, metrics); err != nil {
		return err
	}
	return r.updateColumns(ctx, id, "set client metrics", map[string]any{"clients_info": clientsJSON(job)})
}

func (r *BunRegistry) SetServerLogPath(ctx context.Context, id uuid.UUID, path string) error {
	return r.updateColumns(ctx, id, "set server log path", map[string]any{"server_log_file_path": path})
}

func (r *BunRegistry) SetClientLogPath(ctx context.Context, id uuid.UUID, index int, path string) error {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := applyClientLogPath(job, index, path); err != nil {
		return err
	}
	return r.updateColumns(ctx, id, "set client log path", map[string]any{"clients_info": clientsJSON(job)})
}

func (r *BunRegistry) SetServerPID(ctx context.Context, id uuid.UUID, pid int) error {
	return r.updateColumns(ctx, id, "set server pid", map[string]any{"server_pid": pid})
}

func (r *BunRegistry) SetErrorMessage(ctx context.Context, id uuid.UUID, message string) error {
	return r.updateColumns(ctx, id, "set error message", map[string]any{"error_message": message})
}

// updateColumns performs a targeted single-statement update keyed by id and
// asserts the exactly-one-matched contract shared by every mutation.
func (r *BunRegistry) updateColumns(ctx context.Context, id uuid.UUID, op string, cols map[string]any) error {
	q := r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Where("id = ?", id).
		Set("updated_at = ?", time.Now())
	for col, val := range cols {
		q = q.Set("? = ?", bun.Ident(col), val)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return ensureOne(res, op, id)
}

// ensureOne surfaces the exactly-one contract: zero matched rows for an
// explicit id, or more than one, is an integrity violation.
func ensureOne(res sql.Result, op string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ferr.Newf(ferr.CodeRegistryIntegrity,
			"%s: expected exactly one job row updated for id %s, got %d", op, id, n)
	}
	return nil
}

func clientsJSON(job *models.Job) json.RawMessage {
	enc, _ := json.Marshal(job.ClientsInfo)
	return enc
}

var _ Registry = (*BunRegistry)(nil)
