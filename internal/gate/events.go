package gate

import "github.com/auricle-dev/auricle/pkg/provider/stt"

// State is the gate's position: closed and listening for a trigger phrase,
// or open and streaming audio into the recognition pipeline.
type State int32

const (
	// StateListening is the initial state. Audio is scored by the wake-word
	// detector and nothing reaches the recognition pipeline.
	StateListening State = iota

	// StateActive is entered when a trigger phrase is detected. Audio flows
	// to the recognition pipeline and the speech-activity tracker until the
	// silence monitor closes the gate again.
	StateActive
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Kind tags the two event families a gated stream emits.
type Kind int

const (
	// KindSpeech marks a recognition event relayed from the inner pipeline.
	KindSpeech Kind = iota

	// KindWake marks a gate state change.
	KindWake
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSpeech:
		return "speech"
	case KindWake:
		return "wake"
	default:
		return "unknown"
	}
}

// WakeEvent describes one gate transition. Model and Score identify the
// winning trigger model on transitions to active; both are zero on the
// return to listening.
type WakeEvent struct {
	State State
	Model string
	Score float32
}

// Event is one entry on a gated stream's output channel. Kind selects which
// payload field is meaningful: Speech for relayed recognition events, Wake
// for state changes.
type Event struct {
	Kind   Kind
	Speech stt.Event
	Wake   WakeEvent
}
