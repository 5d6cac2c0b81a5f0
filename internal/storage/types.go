package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the engine runs
// purely in memory (no resume after restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is a job's persisted lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetry      Status = "retry"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed_permanently"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a job in this status will never be dispatched again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Job is one persisted unit of work: a payload bound for a recipient.
//
// Seq is assigned by the store on create and fixes the rehydration order
// (batch inserts share a timestamp, so CreatedAt alone can't).
type Job struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Recipient  string    `json:"recipient"`
	PayloadRef string    `json:"payload_ref"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Sender     string    `json:"sender,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
