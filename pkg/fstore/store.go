// Package fstore archives run log files to S3-compatible storage so they
// survive coordinator-host cleanup. Uploads are best-effort: a nil Store
// disables archival entirely.
package fstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Artifact describes one stored log file.
type Artifact struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata"`
}

// Store is the artifact storage surface used by the orchestrator.
type Store interface {
	// Upload stores data under key ("runs/{runID}/{filename}").
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) (*Artifact, error)

	// Download retrieves an artifact by key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetPresignedURL generates a download URL valid for expiry.
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// EnsureBucket creates the bucket when missing.
	EnsureBucket(ctx context.Context) error
}

// RunLogKey returns the storage key for a run's log file.
func RunLogKey(runID, filename string) string {
	return "runs/" + runID + "/" + filename
}
