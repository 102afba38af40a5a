package stt

import "time"

// EventType enumerates the kinds of recognition events a Stream emits.
type EventType int

const (
	// EventStartOfSpeech signals that the voice activity detector saw the
	// user begin speaking. No transcript accompanies it.
	EventStartOfSpeech EventType = iota

	// EventInterimTranscript carries a low-latency, non-authoritative
	// transcript. Suitable for UI feedback, not for the session log.
	EventInterimTranscript

	// EventFinalTranscript carries an authoritative transcript for one
	// completed utterance.
	EventFinalTranscript

	// EventEndOfSpeech signals that the voice activity detector saw the
	// user stop speaking. Transcription of the utterance may still be in
	// flight when this is emitted.
	EventEndOfSpeech

	// EventError reports a recoverable downstream failure (e.g. one
	// inference call failed). The stream continues after emitting it.
	EventError
)

// String returns the lowercase name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStartOfSpeech:
		return "start_of_speech"
	case EventInterimTranscript:
		return "interim_transcript"
	case EventFinalTranscript:
		return "final_transcript"
	case EventEndOfSpeech:
		return "end_of_speech"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one recognition event on a Stream's output channel.
type Event struct {
	// Type tags the event kind. Only the fields documented for that kind
	// are meaningful.
	Type EventType

	// Text is the transcript for interim and final transcript events.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the backend does not report confidence.
	Confidence float64

	// Language is the BCP-47 tag of the recognized language, when known.
	Language string

	// Timestamp marks when the utterance (or boundary) occurred, relative
	// to stream start.
	Timestamp time.Duration

	// Err carries the failure for EventError events.
	Err error
}

// Result is the output of one batch transcription call.
type Result struct {
	// Text is the transcribed speech content, segments joined by spaces.
	Text string

	// Language is the BCP-47 tag the backend transcribed in.
	Language string

	// Duration is how long the inference call took.
	Duration time.Duration
}
