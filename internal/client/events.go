package client

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

// Event is one notification for the UI layer. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	event()
}

// Listener receives session events. HandleEvent is called from the session's
// goroutine and must not block for long.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// StateChanged reports a state transition. Attempt (the retry number, from 1)
// and Delay are set when entering StateReconnecting.
type StateChanged struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

// ParticipantJoined reports a participant that is now in the room, including
// those already present when the session subscribed.
type ParticipantJoined struct {
	Participant core.Participant
}

// ParticipantLeft reports a participant that left the room.
type ParticipantLeft struct {
	Participant core.Participant
}

// MediaStateChanged reports a remote participant's media change.
type MediaStateChanged struct {
	Participant core.Participant
	Partial     core.MediaPatch
}

// ConnectionQualityChanged reports a new quality assessment.
type ConnectionQualityChanged struct {
	Quality Quality
	Stats   NetworkStats
}

// ConnectionLost reports that an established connection dropped. The session
// reconnects on its own.
type ConnectionLost struct {
	Err error
}

// ConnectionFailed is terminal: automatic reconnection gave up. Attempts is
// the number of consecutive failed dials. Call Retry to start over.
type ConnectionFailed struct {
	Attempts int
	Err      error
}

// NegotiationReceived carries an opaque negotiation payload from a peer.
type NegotiationReceived struct {
	From    string
	Payload json.RawMessage
}

// AdmissionStatus is the local user's position in a waiting room.
type AdmissionStatus string

const (
	AdmissionWaiting  AdmissionStatus = "waiting"
	AdmissionAdmitted AdmissionStatus = "admitted"
	AdmissionDenied   AdmissionStatus = "denied"
)

// AdmissionChanged reports a change of the local user's admission status.
type AdmissionChanged struct {
	Status AdmissionStatus
	Reason string
}

// AdmissionRequested tells a host or moderator that someone is waiting.
type AdmissionRequested struct {
	CandidateID string
	UserID      string
	DisplayName string
	Message     string
}

// AdmitAllCompleted reports how many candidates a bulk admit let in.
type AdmitAllCompleted struct {
	Count int
}

// ServerError is an error reply to something this session sent.
type ServerError struct {
	Err error
}

func (StateChanged) event() {}
func (ParticipantJoined) event() {}
func (ParticipantLeft) event() {}
func (MediaStateChanged) event() {}
func (ConnectionQualityChanged) event() {}
func (ConnectionLost) event() {}
func (ConnectionFailed) event() {}
func (NegotiationReceived) event() {}
func (AdmissionChanged) event() {}
func (AdmissionRequested) event() {}
func (AdmitAllCompleted) event() {}
func (ServerError) event() {}
