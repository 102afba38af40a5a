package vad

import "time"

// Event marks a speech boundary detected within a processed batch.
type Event struct {
	// Type is the boundary kind.
	Type EventType

	// At is the position of the boundary relative to the start of the
	// session's audio stream.
	At time.Duration

	// Probability is the speech probability at the boundary (0.0–1.0),
	// when the backend reports one.
	Probability float64
}

// EventType enumerates speech boundary kinds.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechEnd indicates speech has just ended.
	SpeechEnd
)

// String returns the lowercase name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}
