package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "wabot/pkg/logx"
)

// Store is the minimal persistence API used by the dispatch engine.
// Writes must survive a restart so the queue can be rehydrated from
// pending/processing jobs.
type Store interface {
	// CreateJobs persists a batch as "pending" and assigns sequence numbers.
	CreateJobs(ctx context.Context, jobs []Job) ([]Job, error)
	// UpdateJobStatus records a lifecycle transition. sender may be empty.
	UpdateJobStatus(ctx context.Context, id string, status Status, attempts int, sender string) error
	// PendingJobs returns pending/processing jobs in sequence order.
	PendingJobs(ctx context.Context) ([]Job, error)
	// CancelPending marks queued (pending/retry) jobs cancelled and reports
	// how many were affected. With includeProcessing it also cancels jobs
	// mid-sequence; the dispatch halt path uses that, the operator clear
	// does not.
	CancelPending(ctx context.Context, includeProcessing bool) (int, error)
	// PruneJobs removes terminal jobs last touched before the cutoff.
	PruneJobs(ctx context.Context, olderThan time.Time) (int, error)

	UpsertWindow(ctx context.Context, recipient string, at time.Time) error
	GetWindow(ctx context.Context, recipient string) (lastActivation time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
