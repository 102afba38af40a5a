package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auricle-dev/auricle/internal/observe"
	"github.com/auricle-dev/auricle/pkg/audio"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
	"github.com/auricle-dev/auricle/pkg/provider/vad"
)

// inputMsg is one unit of work for the dispatch loop. Exactly one of frame,
// flush, or end is meaningful per message; a single ordered channel keeps
// control signals sequenced with the audio they follow.
type inputMsg struct {
	frame audio.AudioFrame
	flush bool
	end   bool
}

// activityMsg carries normalized mono audio, a state reset, or an end
// signal to the speech-activity tracker.
type activityMsg struct {
	samples []float32
	reset   bool
	end     bool
}

// Stream is one wake-word gated recognition session.
//
// Four loops run for its lifetime: frame dispatch, inner-event relay,
// speech-activity tracking, and the silence monitor. They share timing
// state through individually synchronized fields, each with a single
// logical writer: dispatch and relay advance lastSpeech on speech evidence,
// the activity loop owns speechActive, SetAgentBusy owns agentBusy, and the
// monitor owns the return to listening.
//
// PushFrame, Flush, EndInput, SetAgentBusy, and Close may each be called
// from any goroutine.
type Stream struct {
	rec      *Recognizer
	inner    stt.Stream
	activity vad.Session
	log      *slog.Logger
	metrics  *observe.Metrics

	buf *detectionBuffer

	in         chan inputMsg
	activityIn chan activityMsg
	events     chan Event

	// done signals hard teardown; drained closes when the inner event
	// stream ends, letting the monitor retire after a graceful end.
	done    chan struct{}
	drained chan struct{}

	state        atomic.Int32
	lastSpeech   atomic.Int64 // unix nanoseconds
	agentBusy    atomic.Bool
	speechActive atomic.Bool
	ended        atomic.Bool

	warnedRate sync.Once

	wg           sync.WaitGroup
	closeOnce    sync.Once
	endOnce      sync.Once
	teardownOnce sync.Once
	teardownErr  error
}

// PushFrame submits one audio frame. While listening the frame feeds the
// wake-word detector; while active it feeds the inner pipeline and the
// speech-activity tracker. Frames must carry audio at the recognizer's
// configured sample rate; multi-channel frames are reduced to their first
// channel for detection.
func (s *Stream) PushFrame(frame audio.AudioFrame) error {
	if s.ended.Load() {
		return ErrInputEnded
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.in <- inputMsg{frame: frame}:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// Flush discards accumulated-but-incomplete state: the pending utterance in
// the inner pipeline and the activity tracker's segment state while active,
// or the partial detection chunk while listening. Safe to call at any time.
func (s *Stream) Flush() {
	if s.ended.Load() {
		return
	}
	select {
	case s.in <- inputMsg{flush: true}:
	case <-s.done:
	}
}

// EndInput signals that no more frames will arrive. Pending utterances are
// finalized and their events delivered, then the event channel closes and
// the stream's resources are released. PushFrame calls after EndInput
// return an error.
func (s *Stream) EndInput() {
	s.endOnce.Do(func() {
		s.ended.Store(true)
		select {
		case s.in <- inputMsg{end: true}:
		case <-s.done:
		}
	})
}

// Events returns the stream's output channel. It carries relayed
// recognition events and gate state changes in arrival order, and is closed
// once the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// State reports the gate's current state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// SetAgentBusy marks the downstream agent as producing output (thinking or
// speaking). While busy the silence timeout is suspended, so the gate
// cannot close mid-response. Releasing busy restarts the silence clock,
// giving the user a full timeout window for a follow-up.
func (s *Stream) SetAgentBusy(busy bool) {
	was := s.agentBusy.Swap(busy)
	if was && !busy {
		s.touchSpeech()
	}
}

// Close tears the stream down: all four loops are stopped and awaited, then
// the inner recognition stream and the speech-activity session are released,
// in that order, and the event channel is closed. Pending utterance state is
// discarded, not finalized; use EndInput for a graceful finish. Calling
// Close more than once is safe.
func (s *Stream) Close() error {
	s.signalDone()
	return s.teardown()
}

func (s *Stream) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// teardown runs exactly once, after every loop has exited, on both the
// graceful and the hard shutdown path.
func (s *Stream) teardown() error {
	s.teardownOnce.Do(func() {
		s.wg.Wait()
		errInner := s.inner.Close()
		errActivity := s.activity.Close()
		s.teardownErr = errors.Join(errInner, errActivity)
		s.signalDone()
		close(s.events)
		s.rec.removeStream(s)
		if s.metrics != nil {
			s.metrics.ActiveStreams.Add(context.Background(), -1)
		}
	})
	return s.teardownErr
}

// ─── Loop 1: frame dispatch ─────────────────────────────────────────────────

func (s *Stream) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.in:
			switch {
			case msg.end:
				s.inner.EndInput()
				s.sendActivityEnd()
				return
			case msg.flush:
				s.flushNow()
			default:
				s.dispatchFrame(ctx, msg.frame)
			}
		}
	}
}

func (s *Stream) dispatchFrame(ctx context.Context, frame audio.AudioFrame) {
	if frame.SampleRate != 0 && frame.SampleRate != s.rec.sampleRate {
		s.warnedRate.Do(func() {
			s.log.Warn("frame sample rate differs from configured rate, detection quality will suffer",
				"got", frame.SampleRate,
				"want", s.rec.sampleRate,
			)
		})
	}
	if s.State() == StateListening {
		s.detect(ctx, frame)
		return
	}
	if err := s.inner.PushFrame(frame); err != nil {
		s.log.Warn("inner pipeline rejected frame", "error", err)
	}
	s.sendActivity(monoNorm(frame))
}

// flushNow discards accumulated-but-incomplete state on whichever path is
// live for the current gate state.
func (s *Stream) flushNow() {
	if s.State() == StateActive {
		s.inner.Flush()
		s.sendActivityReset()
		return
	}
	s.buf.Reset()
}

// detect scores buffered audio against the trigger models, one full chunk
// per inference call, and opens the gate when a score meets its threshold.
// A partial chunk stays buffered for the next frame.
func (s *Stream) detect(ctx context.Context, frame audio.AudioFrame) {
	s.buf.Push(audio.FirstChannel(audio.DecodePCM16(frame.Data), frame.Channels))
	for {
		chunk, ok := s.buf.Next()
		if !ok {
			return
		}
		scores, err := s.predict(ctx, chunk)
		if err != nil {
			// One failed inference call reads as silence; the stream
			// continues.
			s.log.Warn("wake inference failed", "error", err)
			continue
		}
		if name, score, hit := s.evaluate(scores); hit {
			s.wake(ctx, name, score)
			return
		}
	}
}

func (s *Stream) predict(ctx context.Context, chunk []int16) (map[string]float32, error) {
	s.rec.detectMu.Lock()
	start := time.Now()
	scores, err := s.rec.model.Predict(chunk)
	elapsed := time.Since(start)
	s.rec.detectMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordWakeInference(ctx, elapsed, err)
	}
	return scores, err
}

// evaluate picks the winner among models meeting their threshold. The
// highest score wins; equal scores go to the lexicographically smallest
// model name, so the outcome never depends on map iteration order.
func (s *Stream) evaluate(scores map[string]float32) (name string, score float32, hit bool) {
	for n, sc := range scores {
		if sc < s.rec.thresholdFor(n) {
			continue
		}
		if !hit || sc > score || (sc == score && n < name) {
			name, score, hit = n, sc, true
		}
	}
	return name, score, hit
}

// wake opens the gate. The wake-detected callback is scheduled before the
// state flip commits: detected-to-feedback latency matters more than the
// bookkeeping below.
func (s *Stream) wake(ctx context.Context, model string, score float32) {
	now := time.Now()
	s.rec.notifyWake(model, score)

	if !s.state.CompareAndSwap(int32(StateListening), int32(StateActive)) {
		return
	}
	s.lastSpeech.Store(now.UnixNano())

	s.emit(Event{Kind: KindWake, Wake: WakeEvent{State: StateActive, Model: model, Score: score}})
	s.rec.notifyStateChanged(StateActive)
	if s.metrics != nil {
		s.metrics.RecordWakeDetection(ctx, model)
		s.metrics.RecordTransition(ctx, StateActive.String())
	}
	s.log.Info("wake word detected", "model", model, "score", score)
}

// ─── Loop 2: inner-event relay ──────────────────────────────────────────────

func (s *Stream) relayLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.drained)
	events := s.inner.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.relay(ctx, ev)
		}
	}
}

func (s *Stream) relay(ctx context.Context, ev stt.Event) {
	switch ev.Type {
	case stt.EventStartOfSpeech, stt.EventInterimTranscript, stt.EventFinalTranscript:
		s.touchSpeech()
	}
	if s.metrics != nil {
		switch ev.Type {
		case stt.EventInterimTranscript:
			s.metrics.RecordTranscript(ctx, false)
		case stt.EventFinalTranscript:
			s.metrics.RecordTranscript(ctx, true)
		}
	}
	s.emit(Event{Kind: KindSpeech, Speech: ev})
}

// ─── Loop 3: speech-activity tracking ───────────────────────────────────────

func (s *Stream) activityLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.activityIn:
			switch {
			case msg.end:
				return
			case msg.reset:
				if err := s.activity.Reset(); err != nil {
					s.log.Warn("speech-activity reset failed", "error", err)
				}
			default:
				s.trackActivity(msg.samples)
			}
		}
	}
}

func (s *Stream) trackActivity(samples []float32) {
	evs, err := s.activity.Process(samples)
	if err != nil {
		s.log.Warn("speech-activity detection failed", "error", err)
		return
	}
	for _, ev := range evs {
		switch ev.Type {
		case vad.SpeechStart:
			s.speechActive.Store(true)
			s.touchSpeech()
		case vad.SpeechEnd:
			// End of speech still counts as recent activity: the timeout
			// window starts when the user stops, not at the last interim
			// transcript.
			s.speechActive.Store(false)
			s.touchSpeech()
		}
	}
}

// ─── Loop 4: silence monitor ────────────────────────────────────────────────

func (s *Stream) monitorLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.rec.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.drained:
			return
		case <-ticker.C:
			s.checkSilence(ctx)
		}
	}
}

// checkSilence closes the gate when the active conversation has gone quiet:
// the agent idle, the user not speaking, and the last speech evidence older
// than the timeout.
func (s *Stream) checkSilence(ctx context.Context) {
	if s.State() != StateActive || s.agentBusy.Load() || s.speechActive.Load() {
		return
	}
	idle := time.Since(time.Unix(0, s.lastSpeech.Load()))
	if idle < s.rec.silenceAfter() {
		return
	}
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateListening)) {
		return
	}

	// Re-arm with a clean slate: buffered partial chunks, detector
	// hysteresis, and half-built downstream state all belong to the
	// conversation that just ended.
	s.resetDetection()
	s.inner.Flush()
	s.sendActivityReset()

	s.emit(Event{Kind: KindWake, Wake: WakeEvent{State: StateListening}})
	s.rec.notifyStateChanged(StateListening)
	if s.metrics != nil {
		s.metrics.RecordSilenceTimeout(ctx)
		s.metrics.RecordTransition(ctx, StateListening.String())
	}
	s.log.Info("silence timeout, gate closed", "idle", idle)
}

// resetDetection clears the chunk buffer and the detector's internal state.
func (s *Stream) resetDetection() {
	s.buf.Reset()
	s.rec.detectMu.Lock()
	err := s.rec.model.Reset()
	s.rec.detectMu.Unlock()
	if err != nil {
		s.log.Warn("wake model reset failed", "error", err)
	}
}

// ─── Shared plumbing ────────────────────────────────────────────────────────

func (s *Stream) touchSpeech() {
	s.lastSpeech.Store(time.Now().UnixNano())
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// sendActivity forwards active-mode audio to the tracker. Dropping a frame
// under backlog beats stalling dispatch; the tracker only needs a
// representative signal.
func (s *Stream) sendActivity(samples []float32) {
	select {
	case s.activityIn <- activityMsg{samples: samples}:
	default:
		s.log.Debug("speech-activity tracker backlogged, dropping frame")
	}
}

// sendActivityReset clears tracker state without stalling the caller. After
// end of input the tracker is gone and the reset is moot.
func (s *Stream) sendActivityReset() {
	select {
	case s.activityIn <- activityMsg{reset: true}:
	default:
		s.log.Debug("speech-activity tracker unavailable, skipping reset")
	}
}

func (s *Stream) sendActivityEnd() {
	select {
	case s.activityIn <- activityMsg{end: true}:
	case <-s.done:
	}
}

// monoNorm converts a frame to the normalized mono samples the activity
// tracker consumes.
func monoNorm(frame audio.AudioFrame) []float32 {
	return audio.Float32Norm(audio.FirstChannel(audio.DecodePCM16(frame.Data), frame.Channels))
}
