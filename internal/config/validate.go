package config

import (
	"fmt"
	"strings"
)

// Validate checks the fields a running system cannot tolerate being wrong.
// It is used both at startup and as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if len(cfg.Senders) == 0 {
		return fmt.Errorf("senders: at least one sender identity is required")
	}
	for i, s := range cfg.Senders {
		if strings.TrimSpace(s.PhoneID) == "" {
			return fmt.Errorf("senders[%d].phone_id: required", i)
		}
		if strings.TrimSpace(s.Token) == "" {
			return fmt.Errorf("senders[%d].token: required", i)
		}
	}
	if cfg.API.RatePerSec < 0 {
		return fmt.Errorf("api.rate_per_sec: must be >= 0")
	}
	if _, err := ParseDurationField("api.timeout", cfg.API.Timeout); err != nil {
		return err
	}

	d := cfg.Dispatch
	for _, f := range []struct{ path, raw string }{
		{"dispatch.delay1", d.Delay1},
		{"dispatch.delay2", d.Delay2},
		{"dispatch.settle", d.Settle},
		{"dispatch.task_separation", d.TaskSeparation},
		{"dispatch.window_backoff", d.WindowBackoff},
		{"dispatch.watchdog_timeout", d.WatchdogTimeout},
		{"dispatch.retry_base", d.RetryBase},
		{"dispatch.retry_max_delay", d.RetryMaxDelay},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if d.RetryMax < 0 {
		return fmt.Errorf("dispatch.retry_max: must be >= 0")
	}

	if cfg.Storage != nil {
		drv := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver))
		switch drv {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if drv != "" && strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required when driver is set")
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		if _, err := ParseDurationField("janitor.retain", cfg.Janitor.Retain); err != nil {
			return err
		}
	}
	return nil
}
