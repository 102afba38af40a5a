// Package textmatch implements wake.Model by transcribing detected speech
// and fuzzy-matching the transcript against the trigger phrase text.
//
// Unlike the openwake backend it needs no per-phrase classifier model: any
// phrase can be matched with only a speech recognizer. The cost is latency,
// since a score can only be produced after a whole utterance has been
// captured and transcribed. Utterances are delimited with a simple RMS
// energy gate over the incoming chunks; completed utterances are
// transcribed in a background goroutine and the resulting scores surface on
// the first Predict call after transcription finishes.
//
// Matching combines Double Metaphone phonetic overlap with Jaro-Winkler
// similarity: phrase candidates that share a phonetic code with the
// transcript keep their raw similarity score, while purely orthographic
// matches must clear a stricter floor before they count at all.
package textmatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/auricle-dev/auricle/pkg/audio"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

// ErrModelClosed is returned when the model is used after Close.
var ErrModelClosed = errors.New("textmatch: model closed")

const (
	sampleRate          = 16000
	defaultChunkSamples = 1280 // 80 ms at 16 kHz

	defaultFuzzyThreshold    = 0.85
	defaultRMSThreshold      = 400
	defaultHangover          = 640 * time.Millisecond
	defaultMinUtterance      = 320 * time.Millisecond
	defaultMaxUtterance      = 5 * time.Second
	defaultTranscribeTimeout = 10 * time.Second
)

// Phrase pairs a phrase name (used in score maps and events) with the text
// the transcript is matched against.
type Phrase struct {
	Name string
	Text string
}

// Option is a functional option for configuring a Model.
type Option func(*Model)

// WithLogger sets the logger for utterance diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Model) { m.log = log }
}

// WithChunkSamples sets the chunk size Predict requires. Defaults to 1280.
func WithChunkSamples(n int) Option {
	return func(m *Model) { m.chunkSamples = n }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler similarity a candidate
// without phonetic overlap must reach before it scores at all.
// Default: 0.85.
func WithFuzzyThreshold(th float64) Option {
	return func(m *Model) { m.fuzzyThreshold = th }
}

// WithRMSThreshold sets the RMS energy (in raw PCM16 units) above which a
// chunk counts as speech. Default: 400.
func WithRMSThreshold(th float64) Option {
	return func(m *Model) { m.rmsThreshold = th }
}

// WithHangover sets how long the signal must stay quiet before an utterance
// is considered finished. Default: 640 ms.
func WithHangover(d time.Duration) Option {
	return func(m *Model) { m.hangover = d }
}

// WithMinUtterance sets the minimum speech length an utterance needs before
// it is worth transcribing. Default: 320 ms.
func WithMinUtterance(d time.Duration) Option {
	return func(m *Model) { m.minUtterance = d }
}

// WithMaxUtterance caps the utterance window handed to the recognizer.
// Default: 5 s.
func WithMaxUtterance(d time.Duration) Option {
	return func(m *Model) { m.maxUtterance = d }
}

// WithTranscribeTimeout bounds each background transcription call.
// Default: 10 s.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(m *Model) { m.transcribeTimeout = d }
}

// Model is a transcription-backed wake phrase matcher.
type Model struct {
	rec     stt.Recognizer
	log     *slog.Logger
	phrases []Phrase
	names   []string

	chunkSamples      int
	fuzzyThreshold    float64
	rmsThreshold      float64
	hangover          time.Duration
	minUtterance      time.Duration
	maxUtterance      time.Duration
	transcribeTimeout time.Duration

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	gen         uint64 // bumped by Reset to invalidate in-flight work
	inflight    bool
	ready       map[string]float32 // scores awaiting pickup by Predict
	window      []float32          // normalized samples of the open utterance
	prevChunk   []float32          // one chunk of pre-roll before speech
	inUtterance bool
	quietChunks int
}

// New creates a Model that transcribes with rec and matches against phrases.
func New(rec stt.Recognizer, phrases []Phrase, opts ...Option) (*Model, error) {
	if rec == nil {
		return nil, errors.New("textmatch: recognizer is required")
	}
	if len(phrases) == 0 {
		return nil, errors.New("textmatch: at least one phrase is required")
	}
	seen := make(map[string]bool, len(phrases))
	for i, p := range phrases {
		if p.Name == "" {
			return nil, fmt.Errorf("textmatch: phrase %d has no name", i)
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("textmatch: phrase %q has no text", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("textmatch: duplicate phrase name %q", p.Name)
		}
		seen[p.Name] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		rec:               rec,
		log:               slog.Default(),
		phrases:           phrases,
		chunkSamples:      defaultChunkSamples,
		fuzzyThreshold:    defaultFuzzyThreshold,
		rmsThreshold:      defaultRMSThreshold,
		hangover:          defaultHangover,
		minUtterance:      defaultMinUtterance,
		maxUtterance:      defaultMaxUtterance,
		transcribeTimeout: defaultTranscribeTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, o := range opts {
		o(m)
	}
	for _, p := range phrases {
		m.names = append(m.names, p.Name)
	}
	return m, nil
}

// Predict feeds one chunk through the energy gate and returns either the
// scores of a transcription that completed since the previous call, or
// zeros.
func (m *Model) Predict(chunk []int16) (map[string]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModelClosed
	}
	if len(chunk) != m.chunkSamples {
		return nil, fmt.Errorf("textmatch: chunk is %d samples, want %d", len(chunk), m.chunkSamples)
	}

	// Scores from a finished transcription surface exactly once.
	if m.ready != nil {
		scores := m.ready
		m.ready = nil
		m.advance(chunk)
		return scores, nil
	}

	m.advance(chunk)
	return m.zeroScores(), nil
}

// advance runs the RMS utterance gate for one chunk. Caller holds mu.
func (m *Model) advance(chunk []int16) {
	loud := rms(chunk) >= m.rmsThreshold
	norm := audio.Float32Norm(chunk)

	if !m.inUtterance {
		if !loud {
			m.prevChunk = norm
			return
		}
		m.inUtterance = true
		m.quietChunks = 0
		m.window = append(m.window[:0], m.prevChunk...)
		m.prevChunk = nil
	}

	m.window = append(m.window, norm...)

	if loud {
		m.quietChunks = 0
	} else {
		m.quietChunks++
	}

	hangoverChunks := m.durationChunks(m.hangover)
	maxChunks := m.durationChunks(m.maxUtterance)
	utteranceChunks := len(m.window) / m.chunkSamples

	if m.quietChunks >= hangoverChunks || utteranceChunks >= maxChunks {
		m.finishUtterance()
	}
}

// finishUtterance hands the closed window to the recognizer in the
// background. Caller holds mu.
func (m *Model) finishUtterance() {
	window := m.window
	m.window = nil
	m.inUtterance = false
	m.quietChunks = 0

	speechChunks := len(window)/m.chunkSamples - m.durationChunks(m.hangover)
	if speechChunks*m.chunkSamples < m.durationSamples(m.minUtterance) {
		return // too short to be a phrase, likely a noise burst
	}
	if m.inflight {
		m.log.Debug("textmatch: transcription busy, dropping utterance",
			"samples", len(window))
		return
	}

	m.inflight = true
	gen := m.gen
	m.wg.Add(1)
	go m.transcribe(window, gen)
}

// transcribe runs outside the lock, then publishes scores if the model has
// not been reset or closed in the meantime.
func (m *Model) transcribe(window []float32, gen uint64) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.transcribeTimeout)
	defer cancel()

	res, err := m.rec.Transcribe(ctx, window)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = false
	if m.closed || m.gen != gen {
		return
	}
	if err != nil {
		m.log.Warn("textmatch: transcription failed", "error", err)
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		return
	}

	scores := m.scoreTranscript(res.Text)
	m.log.Debug("textmatch: utterance scored", "transcript", res.Text)
	m.ready = scores
}

// scoreTranscript rates every phrase against the transcript. The best
// matching n-gram window of the transcript determines each phrase's score.
func (m *Model) scoreTranscript(transcript string) map[string]float32 {
	scores := m.zeroScores()
	words := strings.Fields(strings.ToLower(transcript))
	if len(words) == 0 {
		return scores
	}

	for _, p := range m.phrases {
		phraseLower := strings.ToLower(strings.TrimSpace(p.Text))
		phraseTokens := strings.Fields(phraseLower)
		phraseCodes := codesForTokens(phraseTokens)

		best := 0.0
		for _, window := range tokenWindows(words, len(phraseTokens)) {
			windowFull := strings.Join(window, " ")
			score := bestSimilarity(window, phraseTokens, windowFull, phraseLower)
			if !codesOverlap(codesForTokens(window), phraseCodes) && score < m.fuzzyThreshold {
				// Without phonetic support, weak orthographic similarity
				// is more likely coincidence than a spoken wake phrase.
				score = 0
			}
			if score > best {
				best = score
			}
		}
		scores[p.Name] = float32(best)
	}
	return scores
}

// ChunkSamples reports the chunk size Predict requires.
func (m *Model) ChunkSamples() int { return m.chunkSamples }

// Names lists the configured phrase names.
func (m *Model) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Reset discards the open utterance, pending scores, and the result of any
// in-flight transcription.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrModelClosed
	}
	m.gen++
	m.ready = nil
	m.window = nil
	m.prevChunk = nil
	m.inUtterance = false
	m.quietChunks = 0
	return nil
}

// Close stops background transcription and releases the model. Safe to call
// more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Model) zeroScores() map[string]float32 {
	scores := make(map[string]float32, len(m.names))
	for _, name := range m.names {
		scores[name] = 0
	}
	return scores
}

func (m *Model) durationChunks(d time.Duration) int {
	chunks := int(d.Seconds() * sampleRate / float64(m.chunkSamples))
	if chunks < 1 {
		chunks = 1
	}
	return chunks
}

func (m *Model) durationSamples(d time.Duration) int {
	return int(d.Seconds() * sampleRate)
}

// Compile-time assertion that Model satisfies wake.Model.
var _ wake.Model = (*Model)(nil)

// ---- matching helpers ---------------------------------------------------

// tokenWindows returns every contiguous window of words sized between n and
// n+1 tokens, so a phrase can still match when the recognizer splits or
// joins a word differently than the phrase text.
func tokenWindows(words []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	var windows [][]string
	for _, size := range []int{n, n + 1} {
		if size > len(words) {
			continue
		}
		for i := 0; i+size <= len(words); i++ {
			windows = append(windows, words[i:i+size])
		}
	}
	if len(windows) == 0 {
		windows = append(windows, words)
	}
	return windows
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// candidate window and the phrase using full-string, space-stripped, and
// best pairwise token comparisons.
func bestSimilarity(windowTokens, phraseTokens []string, windowFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(windowFull, phraseFull, false)

	if len(windowTokens) > 1 || len(phraseTokens) > 1 {
		concat1 := strings.Join(windowTokens, "")
		concat2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(wt, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}

// codesForTokens returns the union of Double Metaphone codes for the tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// rms computes the root mean square energy of a chunk in raw PCM16 units.
func rms(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range chunk {
		sumSq += float64(v) * float64(v)
	}
	return math.Sqrt(sumSq / float64(len(chunk)))
}
