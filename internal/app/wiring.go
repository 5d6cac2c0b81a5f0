package app

import (
	"net/url"
	"strings"
	"time"

	"wabot/internal/config"
	"wabot/internal/dispatch"
	"wabot/internal/janitor"
	"wabot/internal/server"
	"wabot/internal/storage"
	"wabot/internal/transport/whatsapp"
	logx "wabot/pkg/logx"
)

// The file config carries durations as strings; these translate each
// section into its component's typed config. Parse errors name the field.

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Bus: logx.BusConfig{
			Enabled:    c.Bus.Enabled,
			MinLevel:   c.Bus.MinLevel,
			RatePerSec: c.Bus.RatePerSec,
		},
	}
}

func storageConfig(c *config.StorageConfig) (storage.Config, error) {
	if c == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

func apiConfig(c config.APIConfig) (whatsapp.Config, error) {
	timeout, err := config.ParseDurationField("api.timeout", c.Timeout)
	if err != nil {
		return whatsapp.Config{}, err
	}
	return whatsapp.Config{
		BaseURL:    c.BaseURL,
		Timeout:    timeout,
		RatePerSec: c.RatePerSec,
	}, nil
}

func dispatchConfig(c config.DispatchConfig) (dispatch.Config, error) {
	out := dispatch.Config{
		RetryMax:           c.RetryMax,
		ActivationTemplate: c.ActivationTemplate,
		ActivationLanguage: c.ActivationLanguage,
		ActivationImage:    c.ActivationImage,
		WakeText:           c.WakeText,
		PacingText:         c.PacingText,
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.delay1", c.Delay1, &out.Delay1},
		{"dispatch.delay2", c.Delay2, &out.Delay2},
		{"dispatch.settle", c.Settle, &out.Settle},
		{"dispatch.task_separation", c.TaskSeparation, &out.TaskSeparation},
		{"dispatch.window_backoff", c.WindowBackoff, &out.WindowBackoff},
		{"dispatch.watchdog_timeout", c.WatchdogTimeout, &out.WatchdogTimeout},
		{"dispatch.retry_base", c.RetryBase, &out.RetryBase},
		{"dispatch.retry_max_delay", c.RetryMaxDelay, &out.RetryMaxDelay},
	} {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return dispatch.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func serverConfig(c config.ServerConfig) (server.Config, error) {
	out := server.Config{Addr: c.Addr, VerifyToken: c.WebhookVerifyToken}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", c.ReadTimeout, &out.ReadTimeout},
		{"server.write_timeout", c.WriteTimeout, &out.WriteTimeout},
		{"server.idle_timeout", c.IdleTimeout, &out.IdleTimeout},
	} {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return server.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func janitorConfig(c *config.JanitorConfig) (janitor.Config, error) {
	if c == nil {
		return janitor.Config{}, nil
	}
	retain, err := config.ParseDurationField("janitor.retain", c.Retain)
	if err != nil {
		return janitor.Config{}, err
	}
	return janitor.Config{Enabled: c.Enabled, Schedule: c.Schedule, Retain: retain}, nil
}

func senderCredentials(senders []config.SenderConfig) (phoneIDs, tokens []string) {
	phoneIDs = make([]string, len(senders))
	tokens = make([]string, len(senders))
	for i, s := range senders {
		phoneIDs[i] = strings.TrimSpace(s.PhoneID)
		tokens[i] = strings.TrimSpace(s.Token)
	}
	return phoneIDs, tokens
}

// mediaResolver maps opaque payload references onto the public media base
// URL. References that already are URLs pass through untouched.
type mediaResolver struct {
	base string
}

func newMediaResolver(base string) mediaResolver {
	return mediaResolver{base: strings.TrimRight(strings.TrimSpace(base), "/")}
}

func (r mediaResolver) ResolvePayloadURL(ref string) (string, error) {
	if r.base == "" || strings.Contains(ref, "://") {
		return ref, nil
	}
	return r.base + "/media/" + url.PathEscape(ref), nil
}
