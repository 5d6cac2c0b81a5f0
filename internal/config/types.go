package config

type Config struct {
	// Senders is the fixed credential pool. Pool size bounds dispatch
	// concurrency; an empty list refuses to start.
	Senders []SenderConfig `json:"senders"`

	API      APIConfig      `json:"api"`
	Dispatch DispatchConfig `json:"dispatch"`
	Media    MediaConfig    `json:"media"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Janitor  *JanitorConfig `json:"janitor,omitempty"`
}

// SenderConfig is one credential/endpoint pair in the rotation pool.
type SenderConfig struct {
	PhoneID string `json:"phone_id"`
	Token   string `json:"token"`
}

// APIConfig points at the messaging API.
//
// The per-identity endpoint is {base_url}/{phone_id}/messages.
type APIConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default: https://graph.facebook.com/v19.0
	// RatePerSec caps outbound requests across the whole pool.
	RatePerSec int `json:"rate_per_sec,omitempty"` // default: 10
	// Timeout is a Go duration string for a single API call.
	Timeout string `json:"timeout,omitempty"` // default: "30s"
}

// DispatchConfig controls the dispatch engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - delay1: "10s" (before the pacing text)
//   - delay2: "2s" (before the payload step)
//   - settle: "2s" (after the payload step, "5s" for activations)
//   - task_separation: "500ms"
//   - window_backoff: "30s"
//   - watchdog_timeout: "2m"
//   - retry_max: 3
//   - retry_base: "500ms", retry_max_delay: "15s"
type DispatchConfig struct {
	Delay1         string `json:"delay1,omitempty"`
	Delay2         string `json:"delay2,omitempty"`
	Settle         string `json:"settle,omitempty"`
	TaskSeparation string `json:"task_separation,omitempty"`
	WindowBackoff  string `json:"window_backoff,omitempty"`

	WatchdogTimeout string `json:"watchdog_timeout,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// Activation sequence content. The template is the paid message that
	// opens a recipient's session window.
	ActivationTemplate string `json:"activation_template,omitempty"` // default: "hello_world"
	ActivationLanguage string `json:"activation_language,omitempty"` // default: "en_US"
	ActivationImage    string `json:"activation_image,omitempty"`    // default: "activation_image.jpeg"

	// Send sequence content.
	WakeText   string `json:"wake_text,omitempty"`   // default: "activar"
	PacingText string `json:"pacing_text,omitempty"` // default: "3"
}

// MediaConfig resolves opaque payload references into fetchable URLs.
type MediaConfig struct {
	// PublicBaseURL is the externally reachable base for uploaded payloads.
	PublicBaseURL string `json:"public_base_url"`
}

// ServerConfig controls the HTTP surface (webhook + operator API).
type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: ":3000"
	// WebhookVerifyToken answers the messaging platform's webhook
	// verification handshake. Never logged.
	WebhookVerifyToken string `json:"webhook_verify_token,omitempty"`
	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Bus     LoggingBus  `json:"bus"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingBus mirrors log records onto the event stream for the dashboard.
type LoggingBus struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./wabot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JanitorConfig controls pruning of aged terminal jobs.
type JanitorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (5-field, or 6-field with seconds).
	Schedule string `json:"schedule,omitempty"` // default: "0 3 * * *"
	// Retain is how long terminal jobs are kept. Go duration string.
	Retain string `json:"retain,omitempty"` // default: "720h"
}
