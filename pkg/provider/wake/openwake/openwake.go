// Package openwake implements wake.Model on the openWakeWord ONNX pipeline.
//
// Audio flows through three model stages: a melspectrogram model converts
// each 1280-sample chunk into 5 mel frames of 32 bands, an embedding model
// condenses a sliding window of 76 mel frames into a 96-dim feature vector,
// and one classifier model per trigger phrase scores the last 16 feature
// vectors. The melspectrogram and embedding stages are shared across all
// phrases; only the classifier heads differ.
//
// The ONNX Runtime environment is process-global: call InitRuntime once
// before creating models and ShutdownRuntime after the last model closes.
package openwake

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

// Pipeline dimensions fixed by the openWakeWord model family.
const (
	// ChunkSamples is the PCM chunk size every Predict call must supply:
	// 80 ms at 16 kHz.
	ChunkSamples = 1280

	melBins           = 32 // mel bands per spectrogram frame
	melFramesPerChunk = 5  // mel frames produced per 1280-sample chunk
	melWindow         = 76 // mel frames consumed per embedding
	melStep           = 8  // mel frames advanced between embeddings
	embeddingDim      = 96 // feature dimensions per embedding
	embedFrames       = 16 // embeddings consumed per classifier run
)

// ErrModelClosed is returned when the model is used after Close.
var ErrModelClosed = errors.New("openwake: model closed")

// InitRuntime points the ONNX Runtime binding at the shared library and
// initializes the process-global environment. Safe to call more than once.
// An empty libPath keeps the binding's default library location.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("openwake: initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownRuntime tears down the process-global ONNX Runtime environment.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Classifier names one trigger phrase and the ONNX classifier model that
// scores it.
type Classifier struct {
	// Name identifies the phrase in Predict score maps and events.
	Name string
	// Path is the classifier model file, e.g. "models/hey_assistant.onnx".
	Path string
}

// Config holds the model paths for the shared pipeline stages and the
// per-phrase classifier heads.
type Config struct {
	// MelspecPath is the shared melspectrogram model file.
	MelspecPath string
	// EmbeddingPath is the shared speech embedding model file.
	EmbeddingPath string
	// Classifiers lists the trigger phrases to score. At least one is
	// required and names must be unique.
	Classifiers []Classifier
}

func (c Config) validate() error {
	var errs []error
	if c.MelspecPath == "" {
		errs = append(errs, errors.New("melspectrogram model path is required"))
	}
	if c.EmbeddingPath == "" {
		errs = append(errs, errors.New("embedding model path is required"))
	}
	if len(c.Classifiers) == 0 {
		errs = append(errs, errors.New("at least one classifier is required"))
	}
	seen := make(map[string]bool, len(c.Classifiers))
	for i, cl := range c.Classifiers {
		if cl.Name == "" {
			errs = append(errs, fmt.Errorf("classifier %d has no name", i))
			continue
		}
		if cl.Path == "" {
			errs = append(errs, fmt.Errorf("classifier %q has no model path", cl.Name))
		}
		if seen[cl.Name] {
			errs = append(errs, fmt.Errorf("duplicate classifier name %q", cl.Name))
		}
		seen[cl.Name] = true
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring a Model.
type Option func(*Model)

// WithLogger sets the logger for pipeline diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Model) { m.log = log }
}

// head is one loaded classifier stage.
type head struct {
	name string
	in   *ort.Tensor[float32]
	out  *ort.Tensor[float32]
	sess *ort.AdvancedSession
}

// Model runs the shared melspectrogram and embedding stages plus one
// classifier head per trigger phrase. Not safe for concurrent use beyond
// its own locking; the gate serializes calls.
type Model struct {
	log *slog.Logger

	mu     sync.Mutex
	closed bool

	melIn   *ort.Tensor[float32]
	melOut  *ort.Tensor[float32]
	melSess *ort.AdvancedSession

	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]
	embedSess *ort.AdvancedSession

	heads []*head
	names []string

	// melBuffer accumulates transformed mel frames until an embedding
	// window is full; embedBuffer is the sliding classifier input.
	melBuffer   []float32
	embedBuffer []float32
}

// New loads all pipeline stages. Any load failure releases the stages
// created so far and returns an error; a model that fails to load is not
// usable in a degraded mode.
func New(cfg Config, opts ...Option) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("openwake: invalid config: %w", err)
	}

	m := &Model{
		log:         slog.Default(),
		embedBuffer: make([]float32, embedFrames*embeddingDim),
		melBuffer:   make([]float32, 0, (melWindow+melFramesPerChunk)*melBins),
	}
	for _, o := range opts {
		o(m)
	}

	ok := false
	defer func() {
		if !ok {
			if err := m.destroy(); err != nil {
				m.log.Warn("openwake: cleanup after failed load", "error", err)
			}
		}
	}()

	var err error
	if m.melIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, ChunkSamples)); err != nil {
		return nil, fmt.Errorf("openwake: melspectrogram input tensor: %w", err)
	}
	if m.melOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, melFramesPerChunk, melBins)); err != nil {
		return nil, fmt.Errorf("openwake: melspectrogram output tensor: %w", err)
	}
	if m.melSess, err = newStage(cfg.MelspecPath, m.melIn, m.melOut); err != nil {
		return nil, fmt.Errorf("openwake: load melspectrogram model: %w", err)
	}

	if m.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1)); err != nil {
		return nil, fmt.Errorf("openwake: embedding input tensor: %w", err)
	}
	if m.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim)); err != nil {
		return nil, fmt.Errorf("openwake: embedding output tensor: %w", err)
	}
	if m.embedSess, err = newStage(cfg.EmbeddingPath, m.embedIn, m.embedOut); err != nil {
		return nil, fmt.Errorf("openwake: load embedding model: %w", err)
	}

	for _, cl := range cfg.Classifiers {
		h := &head{name: cl.Name}
		if h.in, err = ort.NewEmptyTensor[float32](ort.NewShape(1, embedFrames, embeddingDim)); err != nil {
			return nil, fmt.Errorf("openwake: classifier %q input tensor: %w", cl.Name, err)
		}
		if h.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
			h.in.Destroy()
			return nil, fmt.Errorf("openwake: classifier %q output tensor: %w", cl.Name, err)
		}
		if h.sess, err = newStage(cl.Path, h.in, h.out); err != nil {
			h.in.Destroy()
			h.out.Destroy()
			return nil, fmt.Errorf("openwake: load classifier %q: %w", cl.Name, err)
		}
		m.heads = append(m.heads, h)
		m.names = append(m.names, cl.Name)
	}

	m.log.Info("openwake: pipeline loaded",
		"classifiers", len(m.heads),
		"chunk_samples", ChunkSamples)

	ok = true
	return m, nil
}

// newStage opens one ONNX session with its first input and output bound to
// the given tensors.
func newStage(path string, in, out ort.Value) (*ort.AdvancedSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if len(inInfo) == 0 || len(outInfo) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", path)
	}
	sess, err := ort.NewAdvancedSession(path,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out}, nil)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", path, err)
	}
	return sess, nil
}

// Predict runs one chunk through the pipeline and scores every phrase.
// Until 76 mel frames have accumulated (~1.2 s of audio) the embedding
// stage has nothing to consume and all scores are zero.
func (m *Model) Predict(chunk []int16) (map[string]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModelClosed
	}
	if len(chunk) != ChunkSamples {
		return nil, fmt.Errorf("openwake: chunk is %d samples, want %d", len(chunk), ChunkSamples)
	}

	// Stage 1: melspectrogram. The model consumes raw sample values cast to
	// float32, not normalized audio.
	in := m.melIn.GetData()
	for i, v := range chunk {
		in[i] = float32(v)
	}
	if err := m.melSess.Run(); err != nil {
		return nil, fmt.Errorf("openwake: melspectrogram inference: %w", err)
	}
	for _, v := range m.melOut.GetData() {
		m.melBuffer = append(m.melBuffer, v/10.0+2.0)
	}

	// Stage 2: embedding over a sliding window of mel frames.
	newEmbed := false
	for len(m.melBuffer)/melBins >= melWindow {
		copy(m.embedIn.GetData(), m.melBuffer[:melWindow*melBins])
		if err := m.embedSess.Run(); err != nil {
			m.trimMel()
			return nil, fmt.Errorf("openwake: embedding inference: %w", err)
		}

		// Slide the classifier input left by one frame and append.
		copy(m.embedBuffer, m.embedBuffer[embeddingDim:])
		copy(m.embedBuffer[(embedFrames-1)*embeddingDim:], m.embedOut.GetData()[:embeddingDim])
		newEmbed = true

		// Compact consumed mel frames so the backing array stays bounded.
		n := copy(m.melBuffer, m.melBuffer[melStep*melBins:])
		m.melBuffer = m.melBuffer[:n]
	}

	if !newEmbed {
		return m.zeroScores(), nil
	}

	// Stage 3: one classifier run per phrase.
	scores := make(map[string]float32, len(m.heads))
	for _, h := range m.heads {
		copy(h.in.GetData(), m.embedBuffer)
		if err := h.sess.Run(); err != nil {
			return nil, fmt.Errorf("openwake: classifier %q inference: %w", h.name, err)
		}
		scores[h.name] = h.out.GetData()[0]
	}
	return scores, nil
}

// trimMel bounds the mel buffer to one embedding window after a stage
// failure, so repeated failures cannot grow it without limit.
func (m *Model) trimMel() {
	if frames := len(m.melBuffer) / melBins; frames > melWindow {
		excess := (frames - melWindow) * melBins
		n := copy(m.melBuffer, m.melBuffer[excess:])
		m.melBuffer = m.melBuffer[:n]
	}
}

func (m *Model) zeroScores() map[string]float32 {
	scores := make(map[string]float32, len(m.names))
	for _, name := range m.names {
		scores[name] = 0
	}
	return scores
}

// ChunkSamples reports the chunk size Predict requires.
func (m *Model) ChunkSamples() int { return ChunkSamples }

// Names lists the configured phrase names.
func (m *Model) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Reset discards accumulated mel frames and embeddings so detection starts
// from a cold pipeline.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrModelClosed
	}
	m.melBuffer = m.melBuffer[:0]
	clear(m.embedBuffer)
	return nil
}

// Close releases all sessions and tensors. Safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.destroy()
}

// destroy releases every stage that was created, collecting all errors.
func (m *Model) destroy() error {
	var errs []error
	for _, h := range m.heads {
		if h.sess != nil {
			errs = append(errs, h.sess.Destroy())
		}
		if h.in != nil {
			errs = append(errs, h.in.Destroy())
		}
		if h.out != nil {
			errs = append(errs, h.out.Destroy())
		}
	}
	m.heads = nil
	if m.embedSess != nil {
		errs = append(errs, m.embedSess.Destroy())
	}
	if m.embedIn != nil {
		errs = append(errs, m.embedIn.Destroy())
	}
	if m.embedOut != nil {
		errs = append(errs, m.embedOut.Destroy())
	}
	if m.melSess != nil {
		errs = append(errs, m.melSess.Destroy())
	}
	if m.melIn != nil {
		errs = append(errs, m.melIn.Destroy())
	}
	if m.melOut != nil {
		errs = append(errs, m.melOut.Destroy())
	}
	m.embedSess, m.embedIn, m.embedOut = nil, nil, nil
	m.melSess, m.melIn, m.melOut = nil, nil, nil
	return errors.Join(errs...)
}

// Compile-time assertion that Model satisfies wake.Model.
var _ wake.Model = (*Model)(nil)
