package config

import (
	"reflect"
	"sort"
	"strings"
	logx "wabot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging (never includes sender tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Senders (never log tokens; compare presence and phone ids only)
	if sendersChanged(oldCfg.Senders, newCfg.Senders) {
		changed = append(changed, "senders")
		attrs = append(attrs, logx.Int("senders.count", len(newCfg.Senders)))
	}

	// API (never log anything secret; base_url and rate are safe)
	if strings.TrimSpace(oldCfg.API.BaseURL) != strings.TrimSpace(newCfg.API.BaseURL) ||
		oldCfg.API.RatePerSec != newCfg.API.RatePerSec ||
		strings.TrimSpace(oldCfg.API.Timeout) != strings.TrimSpace(newCfg.API.Timeout) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.String("api.base_url", strings.TrimSpace(newCfg.API.BaseURL)),
			logx.Int("api.rate_per_sec", newCfg.API.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.delay1", strings.TrimSpace(newCfg.Dispatch.Delay1)),
			logx.String("dispatch.delay2", strings.TrimSpace(newCfg.Dispatch.Delay2)),
			logx.String("dispatch.task_separation", strings.TrimSpace(newCfg.Dispatch.TaskSeparation)),
			logx.String("dispatch.window_backoff", strings.TrimSpace(newCfg.Dispatch.WindowBackoff)),
			logx.String("dispatch.watchdog_timeout", strings.TrimSpace(newCfg.Dispatch.WatchdogTimeout)),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
		)
	}

	if strings.TrimSpace(oldCfg.Media.PublicBaseURL) != strings.TrimSpace(newCfg.Media.PublicBaseURL) {
		changed = append(changed, "media")
		attrs = append(attrs,
			logx.Bool("media.public_base_url_set", strings.TrimSpace(newCfg.Media.PublicBaseURL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.bus_enabled", newCfg.Logging.Bus.Enabled),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Janitor (nil means disabled)
	oJ := derefJanitor(oldCfg.Janitor)
	nJ := derefJanitor(newCfg.Janitor)
	if !reflect.DeepEqual(oJ, nJ) {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", nJ.Enabled),
			logx.String("janitor.schedule", strings.TrimSpace(nJ.Schedule)),
			logx.String("janitor.retain", strings.TrimSpace(nJ.Retain)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func sendersChanged(oldS, newS []SenderConfig) bool {
	if len(oldS) != len(newS) {
		return true
	}
	for i := range oldS {
		if oldS[i].PhoneID != newS[i].PhoneID || oldS[i].Token != newS[i].Token {
			return true
		}
	}
	return false
}

func derefJanitor(j *JanitorConfig) JanitorConfig {
	if j == nil {
		return JanitorConfig{}
	}
	return *j
}
