// Package broker wraps the external key-value + pub/sub service used for
// metrics exchange between the coordinator and the training processes.
// Each training run publishes its metrics snapshot under its run identifier
// and notifies subscribers on a channel of the same name. The backend is
// swappable (Redis, in-memory) without changing the orchestrator.
package broker

import (
	"context"
	"time"

	"github.com/flockml/flock/pkg/ferr"
)

// Snapshot is a decoded metrics document as published by a training process.
// Values are whatever the process wrote; only key presence is meaningful to
// the coordinator.
type Snapshot map[string]any

// Channel is a connection to the broker backing one job's runs.
type Channel interface {
	// Publish stores the full snapshot under runID (last-write-wins) and
	// notifies subscribers of runID. Byte-identical re-publishes are
	// suppressed.
	Publish(ctx context.Context, runID string, snapshot Snapshot) error

	// Get returns the decoded snapshot stored under runID, or nil if the
	// key is absent.
	Get(ctx context.Context, runID string) (Snapshot, error)

	// Subscribe opens a pub/sub subscription on the runID channel. Message
	// content is ignored by consumers; any message means "re-check now".
	Subscribe(ctx context.Context, runID string) (Subscription, error)

	// Close closes the connection to the broker.
	Close() error
}

// Subscription delivers change notifications for one run identifier.
type Subscription interface {
	// Next blocks until a notification arrives or ctx is done.
	Next(ctx context.Context) error

	// Close tears down the subscription.
	Close() error
}

// Dialer opens a Channel to the broker at the given coordinates. Jobs carry
// their own broker host/port, so the orchestrator dials per job.
type Dialer func(ctx context.Context, host string, port int) (Channel, error)

// WaitConfig bounds the polling loop in WaitForKey.
type WaitConfig struct {
	PollInterval time.Duration
	MaxRetries   int
}

// DefaultWaitConfig matches the documented defaults: 20 attempts, 3 seconds
// apart.
var DefaultWaitConfig = WaitConfig{
	PollInterval: 3 * time.Second,
	MaxRetries:   20,
}

// WaitForKey polls Get until the snapshot under runID contains field (a nil
// value still counts; presence of the key is the only signal) or the retry
// budget is exhausted, which fails with a metric_not_found error.
func WaitForKey(ctx context.Context, ch Channel, runID, field string, cfg WaitConfig) (Snapshot, error) {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultWaitConfig
	}

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		snap, err := ch.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			if _, ok := snap[field]; ok {
				return snap, nil
			}
		}

		if attempt == cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}

	return nil, ferr.Newf(ferr.CodeMetricNotFound,
		"metric %q did not appear for run %s after %d attempts", field, runID, cfg.MaxRetries)
}
