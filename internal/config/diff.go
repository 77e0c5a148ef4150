package config

import (
	"reflect"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and the transcription thresholds are applied live;
// every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool
	NewThresholds     stt.Thresholds

	// RestartRequired names the top-level sections that changed and only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if oldTh, newTh := old.Transcription.Thresholds(), new.Transcription.Thresholds(); oldTh != newTh {
		d.ThresholdsChanged = true
		d.NewThresholds = newTh
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.trace_sample_ratio", old.Server.TraceSampleRatio, new.Server.TraceSampleRatio},
		{"mode", old.Mode, new.Mode},
		{"audio", old.Audio, new.Audio},
		{"telephony", old.Telephony, new.Telephony},
		{"providers", old.Providers, new.Providers},
		{"conversation", old.Conversation, new.Conversation},
		{"pipeline", old.Pipeline, new.Pipeline},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
