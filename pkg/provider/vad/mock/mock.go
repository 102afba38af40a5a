// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script boundary events and inspect the samples that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Script: [][]vad.Event{{{Type: vad.SpeechStart}}},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/auricle-dev/auricle/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, NewSession returns a new
	// default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a snapshot of recorded NewSession calls. Thread-safe.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]NewSessionCall, len(e.NewSessionCalls))
	copy(out, e.NewSessionCalls)
	return out
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessCall records a single invocation of Session.Process.
type ProcessCall struct {
	// Samples is a copy of the batch passed to Process.
	Samples []float32
}

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Script holds the event batches to return from successive Process
	// calls. Call i returns Script[i]; calls past the end of the script
	// return nil events.
	Script [][]vad.Event

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessCalls records every call to Process in order.
	ProcessCalls []ProcessCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Process records the call and returns the next scripted event batch.
func (s *Session) Process(samples []float32) ([]vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	idx := len(s.ProcessCalls)
	s.ProcessCalls = append(s.ProcessCalls, ProcessCall{Samples: cp})
	if s.ProcessErr != nil {
		return nil, s.ProcessErr
	}
	if idx < len(s.Script) {
		return s.Script[idx], nil
	}
	return nil, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	return nil
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SampleCount reports the total number of samples submitted across all
// Process calls. Thread-safe.
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.ProcessCalls {
		n += len(c.Samples)
	}
	return n
}

// Ensure Session implements vad.Session at compile time.
var _ vad.Session = (*Session)(nil)
