// Package config provides the configuration schema, loader, file watcher,
// and backend registry for the auricle daemon.
package config

import (
	"log/slog"
	"time"

	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

// LogLevel controls log verbosity for the auricle daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding slog level. Unrecognised values map
// to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler used for daemon logs.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// WakeBackend selects the wake-word scoring implementation.
type WakeBackend string

const (
	// WakeOpenWake scores audio chunks with openWakeWord ONNX models.
	WakeOpenWake WakeBackend = "openwake"

	// WakeTextMatch transcribes utterances and fuzzy-matches the
	// transcript against the configured trigger phrases.
	WakeTextMatch WakeBackend = "textmatch"
)

// IsValid reports whether b is a recognised wake backend.
func (b WakeBackend) IsValid() bool {
	return b == WakeOpenWake || b == WakeTextMatch
}

// CaptureSource selects where the daemon reads audio frames from.
type CaptureSource string

const (
	// CapturePortAudio reads from a microphone via PortAudio.
	CapturePortAudio CaptureSource = "portaudio"

	// CaptureFile reads raw PCM16 from a file.
	CaptureFile CaptureSource = "file"

	// CaptureStdin reads raw PCM16 from standard input.
	CaptureStdin CaptureSource = "stdin"
)

// IsValid reports whether s is a recognised capture source.
func (s CaptureSource) IsValid() bool {
	switch s {
	case CapturePortAudio, CaptureFile, CaptureStdin:
		return true
	}
	return false
}

// Config is the root configuration structure for auricle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// keys absent from the file keep the values from [Default].
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Gate      GateConfig      `yaml:"gate"`
	STT       STTConfig       `yaml:"stt"`
	VAD       VADConfig       `yaml:"vad"`
	Capture   CaptureConfig   `yaml:"capture"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Messaging MessagingConfig `yaml:"messaging"`
	EventLog  EventLogConfig  `yaml:"eventlog"`
}

// LoggingConfig controls daemon log output.
type LoggingConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// Format selects the handler: "text" for human-readable key=value
	// lines, "json" for machine ingestion.
	Format LogFormat `yaml:"format"`
}

// AudioConfig describes the PCM format the capture source must deliver
// and every downstream stage consumes.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. The bundled wake and VAD
	// models are trained on 16 kHz audio.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. Detection runs on the
	// first channel.
	Channels int `yaml:"channels"`
}

// WakeConfig configures the wake-word detector.
type WakeConfig struct {
	// Backend selects the scoring implementation.
	Backend WakeBackend `yaml:"backend"`

	// MelspecModel is the path to the shared melspectrogram ONNX model.
	// Required for the openwake backend.
	MelspecModel string `yaml:"melspec_model"`

	// EmbeddingModel is the path to the shared speech-embedding ONNX
	// model. Required for the openwake backend.
	EmbeddingModel string `yaml:"embedding_model"`

	// Models lists the trigger models the detector scores each chunk
	// against. At least one is needed for the gate to ever open.
	Models []WakeModelConfig `yaml:"models"`

	// DefaultThreshold applies to models without an explicit threshold.
	DefaultThreshold float32 `yaml:"default_threshold"`

	// ChunkSamples is the detector chunk size in samples. openWakeWord
	// models expect 1280 (80 ms at 16 kHz).
	ChunkSamples int `yaml:"chunk_samples"`
}

// WakeModelConfig describes a single trigger model.
type WakeModelConfig struct {
	// Name identifies the model in scores, events, and logs
	// (e.g., "hey_jarvis").
	Name string `yaml:"name"`

	// Path is the classifier ONNX model path. Required for the
	// openwake backend.
	Path string `yaml:"path"`

	// Phrase is the spoken trigger text matched against transcripts.
	// Required for the textmatch backend.
	Phrase string `yaml:"phrase"`

	// Threshold overrides DefaultThreshold for this model when non-zero.
	Threshold float32 `yaml:"threshold"`
}

// Thresholds assembles the detection thresholds from the configured
// default and per-model overrides.
func (w WakeConfig) Thresholds() wake.Thresholds {
	t := wake.Thresholds{Default: w.DefaultThreshold}
	for _, m := range w.Models {
		if m.Threshold == 0 {
			continue
		}
		if t.PerName == nil {
			t.PerName = make(map[string]float32, len(w.Models))
		}
		t.PerName[m.Name] = m.Threshold
	}
	return t
}

// GateConfig tunes the gate's return-to-listening behaviour.
type GateConfig struct {
	// SilenceTimeout is how long an active conversation may stay silent
	// before the gate closes.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// PollInterval is how often the silence monitor re-evaluates the
	// timeout condition.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// STTConfig configures the whisper transcription backend.
type STTConfig struct {
	// ModelPath is the ggml whisper model file.
	ModelPath string `yaml:"model_path"`

	// Language is the transcription language hint (e.g., "en").
	// Empty lets the model auto-detect.
	Language string `yaml:"language"`

	// Threads caps the threads whisper may use. Zero picks a default
	// based on the machine.
	Threads int `yaml:"threads"`
}

// VADConfig configures the silero voice-activity detector.
type VADConfig struct {
	// ModelPath is the silero ONNX model file.
	ModelPath string `yaml:"model_path"`

	// Threshold is the speech probability above which a frame counts
	// as speech.
	Threshold float32 `yaml:"threshold"`

	// MinSilence is the trailing quiet needed to close a speech segment.
	MinSilence time.Duration `yaml:"min_silence"`
}

// CaptureConfig selects the daemon's audio input.
type CaptureConfig struct {
	// Source selects the input kind.
	Source CaptureSource `yaml:"source"`

	// Device narrows PortAudio device selection to names containing
	// this substring. Empty picks the default input device.
	Device string `yaml:"device"`

	// Path is the raw PCM16 file read when Source is "file".
	Path string `yaml:"path"`

	// Realtime paces file input at the configured sample rate instead
	// of reading as fast as possible. Ignored for other sources.
	Realtime bool `yaml:"realtime"`
}

// TelemetryConfig configures the metrics endpoint.
type TelemetryConfig struct {
	// MetricsAddr is the TCP address the health and metrics listener
	// binds (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// MessagingConfig configures the NATS event publisher.
type MessagingConfig struct {
	// Enabled turns on publication of wake-state and transcript events.
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server address.
	URL string `yaml:"url"`

	// SubjectPrefix is prepended to every published subject
	// (e.g., "auricle" publishes on "auricle.wake.state").
	SubjectPrefix string `yaml:"subject_prefix"`
}

// EventLogConfig configures the on-disk voice event log.
type EventLogConfig struct {
	// Enabled turns on recording of wake transitions and transcripts.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// Default returns a Config populated with the documented defaults.
// [LoadFromReader] decodes YAML on top of it, so absent keys keep
// these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  LogInfo,
			Format: LogText,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Wake: WakeConfig{
			Backend:          WakeOpenWake,
			DefaultThreshold: 0.5,
			ChunkSamples:     1280,
		},
		Gate: GateConfig{
			SilenceTimeout: 3 * time.Second,
			PollInterval:   500 * time.Millisecond,
		},
		STT: STTConfig{
			Language: "en",
		},
		VAD: VADConfig{
			Threshold:  0.5,
			MinSilence: 300 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Source: CapturePortAudio,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: ":9090",
		},
		Messaging: MessagingConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "auricle",
		},
		EventLog: EventLogConfig{
			Path: "auricle.db",
		},
	}
}
