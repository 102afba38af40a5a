package gate

import "sync"

// detectionBuffer accumulates mono samples until a full detector chunk is
// available. Incoming frames rarely align with the chunk size, so a partial
// remainder stays buffered between pushes.
//
// The dispatch loop pushes and drains; the silence monitor resets on the
// return to listening, so access is synchronized internally.
type detectionBuffer struct {
	mu      sync.Mutex
	chunk   int
	samples []int16
}

func newDetectionBuffer(chunk int) *detectionBuffer {
	return &detectionBuffer{chunk: chunk}
}

// Push appends samples to the pending buffer.
func (b *detectionBuffer) Push(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
}

// Next removes and returns the oldest full chunk. ok is false when fewer
// than one chunk is buffered. The returned slice is a copy; compacting the
// buffer never invalidates it.
func (b *detectionBuffer) Next() (chunk []int16, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) < b.chunk {
		return nil, false
	}
	chunk = make([]int16, b.chunk)
	copy(chunk, b.samples[:b.chunk])
	n := copy(b.samples, b.samples[b.chunk:])
	b.samples = b.samples[:n]
	return chunk, true
}

// Pending reports the number of buffered samples.
func (b *detectionBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Reset discards all buffered samples. Called when the gate re-arms so a
// stale partial chunk cannot bias the next detection.
func (b *detectionBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}
