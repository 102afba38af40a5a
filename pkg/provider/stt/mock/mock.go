// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to script transcription results for the segmenter and the
// gate. Use Stream when a test needs full control over the event channel of
// an inner recognition stream, and Provider to verify StartStream wiring.
//
// Example:
//
//	st := &mock.Stream{EventsCh: make(chan stt.Event, 4)}
//	p := &mock.Provider{Stream: st}
//	inner, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/auricle-dev/auricle/pkg/audio"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the audio passed to Transcribe.
	Samples []float32
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are returned one per Transcribe call in order. When the script
	// runs out, Result is returned instead.
	Results []stt.Result

	// Result is the fallback result once Results is exhausted.
	Result stt.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	n := len(r.TranscribeCalls)
	r.TranscribeCalls = append(r.TranscribeCalls, TranscribeCall{Ctx: ctx, Samples: cp})
	if r.TranscribeErr != nil {
		return stt.Result{}, r.TranscribeErr
	}
	if n < len(r.Results) {
		return r.Results[n], nil
	}
	return r.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (r *Recognizer) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TranscribeCalls = nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is returned by StartStream. If nil, StartStream returns a new
	// default Stream with a buffered event channel.
	Stream stt.Stream

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Stream, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return &Stream{EventsCh: make(chan stt.Event, 16)}, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// PushFrameCall records a single invocation of Stream.PushFrame.
type PushFrameCall struct {
	// Frame is the frame passed to PushFrame. Data is copied.
	Frame audio.AudioFrame
}

// Stream is a mock implementation of stt.Stream.
// Callers own EventsCh: pre-populate it with the events the consumer should
// receive, and close it to simulate the stream ending.
type Stream struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers are responsible
	// for sending to and closing it in tests.
	EventsCh chan stt.Event

	// PushFrameErr, if non-nil, is returned by every PushFrame call.
	PushFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseEvents closes EventsCh on the first Close call, mirroring real
	// streams that stop emitting once closed.
	CloseEvents bool

	// EndInputCloses closes EventsCh on the first EndInput call, mirroring
	// streams that finalize pending work and then end their event stream.
	EndInputCloses bool

	// eventsClosed guards against closing EventsCh twice when both
	// CloseEvents and EndInputCloses are set.
	eventsClosed bool

	// --- Call records ---

	// PushFrameCalls records every call to PushFrame in order.
	PushFrameCalls []PushFrameCall

	// FlushCallCount is the number of times Flush was called.
	FlushCallCount int

	// EndInputCallCount is the number of times EndInput was called.
	EndInputCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// PushFrame records the call and returns PushFrameErr.
func (s *Stream) PushFrame(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := frame
	cp.Data = make([]byte, len(frame.Data))
	copy(cp.Data, frame.Data)
	s.PushFrameCalls = append(s.PushFrameCalls, PushFrameCall{Frame: cp})
	return s.PushFrameErr
}

// Flush records the call.
func (s *Stream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
}

// EndInput records the call.
func (s *Stream) EndInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndInputCallCount++
	if s.EndInputCloses && !s.eventsClosed && s.EventsCh != nil {
		s.eventsClosed = true
		close(s.EventsCh)
	}
}

// Events returns EventsCh. The caller must have initialised EventsCh before
// calling this method.
func (s *Stream) Events() <-chan stt.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Close records the call and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.CloseEvents && !s.eventsClosed && s.EventsCh != nil {
		s.eventsClosed = true
		close(s.EventsCh)
	}
	return s.CloseErr
}

// PushFrameCallCount returns the number of PushFrame calls. Thread-safe.
func (s *Stream) PushFrameCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PushFrameCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Stream) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PushFrameCalls = nil
	s.FlushCallCount = 0
	s.EndInputCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Stream implements stt.Stream at compile time.
var _ stt.Stream = (*Stream)(nil)
