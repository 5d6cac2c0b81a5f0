package dispatch

import (
	"context"
	"time"

	"wabot/internal/sender"
	"wabot/internal/storage"
)

// Config tunes the dispatch engine. Zero values fall back to the documented
// defaults in normalize().
type Config struct {
	// Delay1 separates the wake text from the pacing text.
	Delay1 time.Duration
	// Delay2 separates the pacing text from the payload step.
	Delay2 time.Duration
	// Settle is the quiet period after a completed send sequence.
	Settle time.Duration
	// ActivationSettle is the quiet period after a completed activation
	// sequence (longer: the template needs to land before follow-ups).
	ActivationSettle time.Duration
	// TaskSeparation spaces slot-release from the next dispatch to avoid
	// bursting the upstream API.
	TaskSeparation time.Duration
	// WindowBackoff is how long dispatch holds off when the head job's
	// recipient is in cooldown or about to expire.
	WindowBackoff time.Duration

	// WatchdogTimeout trips the system-failure flag when no inbound
	// confirmation arrives while jobs are in flight.
	WatchdogTimeout time.Duration

	// RetryMax bounds retries per job (total attempts = 1 + RetryMax).
	RetryMax int
	// RetryBase/RetryMaxDelay shape the jittered exponential backoff
	// between retry attempts.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	ActivationTemplate string
	ActivationLanguage string
	ActivationImage    string

	WakeText   string
	PacingText string
}

func (c Config) normalize() Config {
	if c.Delay1 <= 0 {
		c.Delay1 = 10 * time.Second
	}
	if c.Delay2 <= 0 {
		c.Delay2 = 2 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 2 * time.Second
	}
	if c.ActivationSettle <= 0 {
		c.ActivationSettle = 5 * time.Second
	}
	if c.TaskSeparation <= 0 {
		c.TaskSeparation = 500 * time.Millisecond
	}
	if c.WindowBackoff <= 0 {
		c.WindowBackoff = 30 * time.Second
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 2 * time.Minute
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.ActivationTemplate == "" {
		c.ActivationTemplate = "hello_world"
	}
	if c.ActivationLanguage == "" {
		c.ActivationLanguage = "en_US"
	}
	if c.ActivationImage == "" {
		c.ActivationImage = "activation_image.jpeg"
	}
	if c.WakeText == "" {
		c.WakeText = "activar"
	}
	if c.PacingText == "" {
		c.PacingText = "3"
	}
	return c
}

// Messenger performs the remote send steps. Each call is one blocking
// request to the upstream API using the given sender identity.
type Messenger interface {
	SendText(ctx context.Context, from sender.Identity, to, body string) error
	SendTemplate(ctx context.Context, from sender.Identity, to, name, language string) error
	SendImage(ctx context.Context, from sender.Identity, to, url string) error
}

// Resolver turns an opaque payload reference into a fetchable URL for the
// payload step. A nil Resolver means the reference already is a URL.
type Resolver interface {
	ResolvePayloadURL(ref string) (string, error)
}

// Store is the persistence slice the engine needs. A nil Store runs the
// engine purely in memory (no resume after restart). The storage.Store
// returned by storage.Open satisfies it.
type Store interface {
	CreateJobs(ctx context.Context, jobs []storage.Job) ([]storage.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status storage.Status, attempts int, sender string) error
	PendingJobs(ctx context.Context) ([]storage.Job, error)
	CancelPending(ctx context.Context, includeProcessing bool) (int, error)
	UpsertWindow(ctx context.Context, recipient string, at time.Time) error
	GetWindow(ctx context.Context, recipient string) (lastActivation time.Time, ok bool, err error)
}

// Snapshot is a point-in-time diagnostic view for the operator surface.
type Snapshot struct {
	QueueLength  int    `json:"queue_length"`
	InFlight     int    `json:"in_flight"`
	PoolSize     int    `json:"pool_size"`
	Available    int    `json:"available"`
	Paused       bool   `json:"paused"`
	WindowPaused bool   `json:"window_paused"`
	Failed       bool   `json:"failed"`
	FailureMsg   string `json:"failure_msg,omitempty"`
}
