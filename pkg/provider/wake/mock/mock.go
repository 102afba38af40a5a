// Package mock provides a scriptable test double for the wake package.
//
// Use Model to return controlled score maps from successive Predict calls
// and to inspect the chunks that were submitted.
//
// Example:
//
//	m := &mock.Model{
//	    ModelNames: []string{"hey-assistant"},
//	    Script:     []map[string]float32{{"hey-assistant": 0.8}},
//	}
package mock

import (
	"sync"

	"github.com/auricle-dev/auricle/pkg/provider/wake"
)

// DefaultChunkSamples is the chunk size Model reports unless overridden.
const DefaultChunkSamples = 1280

// PredictCall records a single invocation of Model.Predict.
type PredictCall struct {
	// Chunk is a copy of the samples passed to Predict.
	Chunk []int16
}

// Model is a mock implementation of wake.Model.
type Model struct {
	mu sync.Mutex

	// ModelNames is returned by Names and used to build zero score maps.
	ModelNames []string

	// Chunk is the size reported by ChunkSamples. Defaults to
	// DefaultChunkSamples when zero.
	Chunk int

	// Script holds score maps to return from successive Predict calls.
	// Call i returns Script[i]; calls past the end return all-zero scores.
	Script []map[string]float32

	// PredictErrs maps call indexes (0-based) to errors. A Predict call
	// whose index appears here fails with that error instead of scoring.
	PredictErrs map[int]error

	// ResetErr, if non-nil, is returned by every Reset call.
	ResetErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// PredictCalls records every call to Predict in order.
	PredictCalls []PredictCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Predict records the call and returns the next scripted score map.
func (m *Model) Predict(chunk []int16) (map[string]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]int16, len(chunk))
	copy(cp, chunk)
	idx := len(m.PredictCalls)
	m.PredictCalls = append(m.PredictCalls, PredictCall{Chunk: cp})
	if err, ok := m.PredictErrs[idx]; ok {
		return nil, err
	}
	if idx < len(m.Script) && m.Script[idx] != nil {
		return m.Script[idx], nil
	}
	scores := make(map[string]float32, len(m.ModelNames))
	for _, name := range m.ModelNames {
		scores[name] = 0
	}
	return scores, nil
}

// ChunkSamples returns Chunk, or DefaultChunkSamples when unset.
func (m *Model) ChunkSamples() int {
	if m.Chunk > 0 {
		return m.Chunk
	}
	return DefaultChunkSamples
}

// Names returns ModelNames.
func (m *Model) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ModelNames))
	copy(out, m.ModelNames)
	return out
}

// Reset records the call and returns ResetErr.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCallCount++
	return m.ResetErr
}

// Close records the call and returns CloseErr.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return m.CloseErr
}

// PredictCallCount returns the number of Predict calls. Thread-safe.
func (m *Model) PredictCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PredictCalls)
}

// ResetCount returns the number of Reset calls. Thread-safe.
func (m *Model) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResetCallCount
}

// ResetCalls clears all recorded calls. Thread-safe.
func (m *Model) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PredictCalls = nil
	m.ResetCallCount = 0
	m.CloseCallCount = 0
}

// Ensure Model implements wake.Model at compile time.
var _ wake.Model = (*Model)(nil)
