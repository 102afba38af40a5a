package config

import "time"

// ConfigDiff describes what changed between two configs. Only fields a
// running daemon can react to are tracked: the log level and silence
// timeout apply immediately, threshold changes apply to the next scored
// chunk, and model additions or removals are reported so the daemon can
// say a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SilenceTimeoutChanged bool
	NewSilenceTimeout     time.Duration

	// ThresholdsChanged is true when the default or any per-model
	// threshold changed.
	ThresholdsChanged bool

	// ModelChanges holds per trigger-model diffs.
	ModelChanges []ModelDiff

	// ModelSetChanged is true when a model was added, removed, or had
	// its path or phrase changed. Those need fresh detector sessions
	// and take effect on restart.
	ModelSetChanged bool
}

// ModelDiff describes what changed for a single trigger model between two
// configs.
type ModelDiff struct {
	Name             string
	ThresholdChanged bool
	PathChanged      bool
	PhraseChanged    bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Logging.Level
	}

	// Silence timeout
	if old.Gate.SilenceTimeout != new.Gate.SilenceTimeout {
		d.SilenceTimeoutChanged = true
		d.NewSilenceTimeout = new.Gate.SilenceTimeout
	}

	// Default threshold
	if old.Wake.DefaultThreshold != new.Wake.DefaultThreshold {
		d.ThresholdsChanged = true
	}

	// Build trigger-model lookup maps keyed by name.
	oldModels := make(map[string]*WakeModelConfig, len(old.Wake.Models))
	for i := range old.Wake.Models {
		oldModels[old.Wake.Models[i].Name] = &old.Wake.Models[i]
	}
	newModels := make(map[string]*WakeModelConfig, len(new.Wake.Models))
	for i := range new.Wake.Models {
		newModels[new.Wake.Models[i].Name] = &new.Wake.Models[i]
	}

	// Detect modified and removed models.
	for name, oldModel := range oldModels {
		newModel, exists := newModels[name]
		if !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{
				Name:    name,
				Removed: true,
			})
			d.ModelSetChanged = true
			continue
		}
		md := diffModel(name, oldModel, newModel)
		if md.ThresholdChanged || md.PathChanged || md.PhraseChanged {
			d.ModelChanges = append(d.ModelChanges, md)
			if md.ThresholdChanged {
				d.ThresholdsChanged = true
			}
			if md.PathChanged || md.PhraseChanged {
				d.ModelSetChanged = true
			}
		}
	}

	// Detect added models.
	for name := range newModels {
		if _, exists := oldModels[name]; !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{
				Name:  name,
				Added: true,
			})
			d.ModelSetChanged = true
		}
	}

	return d
}

// diffModel compares two trigger-model configs with the same name.
func diffModel(name string, old, new *WakeModelConfig) ModelDiff {
	md := ModelDiff{Name: name}

	if old.Threshold != new.Threshold {
		md.ThresholdChanged = true
	}

	if old.Path != new.Path {
		md.PathChanged = true
	}

	if old.Phrase != new.Phrase {
		md.PhraseChanged = true
	}

	return md
}
