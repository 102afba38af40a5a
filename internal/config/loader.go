package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing-but-needed values (model paths and the like) only warn: they
// block a particular backend at construction time, not the parse.
func Validate(cfg *Config) error {
	var errs []error

	// Logging
	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && !cfg.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: text, json", cfg.Logging.Format))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != 16000 {
		slog.Warn("audio.sample_rate is not 16000; the bundled wake and VAD models are trained on 16 kHz audio",
			"sample_rate", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d is negative", cfg.Audio.Channels))
	}

	// Wake
	if cfg.Wake.Backend != "" && !cfg.Wake.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("wake.backend %q is invalid; valid values: openwake, textmatch", cfg.Wake.Backend))
	}
	if cfg.Wake.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("wake.chunk_samples %d is negative", cfg.Wake.ChunkSamples))
	}
	if cfg.Wake.DefaultThreshold < 0 || cfg.Wake.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake.default_threshold %.2f is out of range [0, 1]", cfg.Wake.DefaultThreshold))
	}
	if len(cfg.Wake.Models) == 0 {
		slog.Warn("wake.models is empty; the gate will never open")
	}
	if cfg.Wake.Backend == WakeOpenWake && len(cfg.Wake.Models) > 0 {
		if cfg.Wake.MelspecModel == "" {
			errs = append(errs, errors.New("wake.melspec_model is required when wake.backend is openwake"))
		}
		if cfg.Wake.EmbeddingModel == "" {
			errs = append(errs, errors.New("wake.embedding_model is required when wake.backend is openwake"))
		}
	}

	// Trigger model duplicate name detection
	modelNamesSeen := make(map[string]int, len(cfg.Wake.Models))

	for i, m := range cfg.Wake.Models {
		prefix := fmt.Sprintf("wake.models[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := modelNamesSeen[m.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of wake.models[%d]", prefix, m.Name, prev))
			}
			modelNamesSeen[m.Name] = i
		}
		if m.Threshold < 0 || m.Threshold > 1 {
			errs = append(errs, fmt.Errorf("%s.threshold %.2f is out of range [0, 1]", prefix, m.Threshold))
		}
		switch cfg.Wake.Backend {
		case WakeOpenWake:
			if m.Path == "" {
				errs = append(errs, fmt.Errorf("%s.path is required when wake.backend is openwake", prefix))
			}
		case WakeTextMatch:
			if m.Phrase == "" {
				errs = append(errs, fmt.Errorf("%s.phrase is required when wake.backend is textmatch", prefix))
			}
		}
	}

	// Gate
	if cfg.Gate.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("gate.silence_timeout %s is negative", cfg.Gate.SilenceTimeout))
	}
	if cfg.Gate.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("gate.poll_interval %s is negative", cfg.Gate.PollInterval))
	}
	if cfg.Gate.PollInterval > 0 && cfg.Gate.SilenceTimeout > 0 && cfg.Gate.PollInterval > cfg.Gate.SilenceTimeout {
		slog.Warn("gate.poll_interval exceeds gate.silence_timeout; the gate cannot close before the first poll",
			"poll_interval", cfg.Gate.PollInterval,
			"silence_timeout", cfg.Gate.SilenceTimeout,
		)
	}

	// STT
	if cfg.STT.ModelPath == "" {
		slog.Warn("stt.model_path is empty; transcription will be unavailable until one is configured")
	}
	if cfg.STT.Threads < 0 {
		errs = append(errs, fmt.Errorf("stt.threads %d is negative", cfg.STT.Threads))
	}

	// VAD
	if cfg.VAD.ModelPath == "" {
		slog.Warn("vad.model_path is empty; speech-activity tracking will be unavailable until one is configured")
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilence < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence %s is negative", cfg.VAD.MinSilence))
	}

	// Capture
	if cfg.Capture.Source != "" && !cfg.Capture.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: portaudio, file, stdin", cfg.Capture.Source))
	}
	if cfg.Capture.Source == CaptureFile && cfg.Capture.Path == "" {
		errs = append(errs, errors.New("capture.path is required when capture.source is file"))
	}

	// Messaging
	if cfg.Messaging.Enabled && cfg.Messaging.URL == "" {
		errs = append(errs, errors.New("messaging.url is required when messaging.enabled is true"))
	}
	if cfg.Messaging.Enabled && cfg.Messaging.SubjectPrefix == "" {
		errs = append(errs, errors.New("messaging.subject_prefix is required when messaging.enabled is true"))
	}

	// Event log
	if cfg.EventLog.Enabled && cfg.EventLog.Path == "" {
		errs = append(errs, errors.New("eventlog.path is required when eventlog.enabled is true"))
	}

	return errors.Join(errs...)
}
