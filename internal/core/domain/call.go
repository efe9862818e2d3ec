package domain

import "time"

type CallID string

type PeerID string

// CallState is the finite state attached to the active session.
type CallState string

const (
	StateIdle         CallState = "idle"
	StateInitiating   CallState = "initiating"
	StateRinging      CallState = "ringing"
	StateConnecting   CallState = "connecting"
	StateConnected    CallState = "connected"
	StateReconnecting CallState = "reconnecting"
	StateEnded        CallState = "ended"
)

// Terminal reports whether no further protocol activity is possible.
func (s CallState) Terminal() bool {
	return s == StateIdle || s == StateEnded
}

// EndReason is the wire-level reason carried by call_end.
type EndReason string

const (
	ReasonEnded     EndReason = "ended"
	ReasonCancelled EndReason = "cancelled"
	ReasonDeclined  EndReason = "declined"
	ReasonBusy      EndReason = "busy"
	ReasonTimeout   EndReason = "timeout"
	ReasonFailed    EndReason = "failed"
)

// ValidEndReason reports whether r is one of the protocol reason codes.
func ValidEndReason(r EndReason) bool {
	switch r {
	case ReasonEnded, ReasonCancelled, ReasonDeclined, ReasonBusy, ReasonTimeout, ReasonFailed:
		return true
	}
	return false
}

// CallSession is the business state of a single call. At most one session
// exists at a time; it is created on initiate or on a valid incoming
// envelope and discarded only after the machine reaches Ended and cleanup
// completes.
type CallSession struct {
	CallID     CallID
	PeerID     PeerID
	IsVideo    bool
	IsOutgoing bool

	// StartTime is set exactly once, on the transition into Connected.
	StartTime time.Time

	// Duration counts connected time in one-second steps for display;
	// the history record derives its duration from StartTime instead.
	Duration time.Duration

	// UI-facing flags; no effect on protocol correctness.
	IsMuted            bool
	IsSpeakerOn        bool
	LocalVideoEnabled  bool
	RemoteVideoEnabled bool
}

// Connected reports whether the session ever reached Connected.
func (s *CallSession) Connected() bool {
	return s != nil && !s.StartTime.IsZero()
}

// HistoryStatus is the status recorded in call history.
type HistoryStatus string

const (
	HistoryCompleted HistoryStatus = "completed"
	HistoryMissed    HistoryStatus = "missed"
	HistoryDeclined  HistoryStatus = "declined"
	HistoryCancelled HistoryStatus = "cancelled"
	HistoryBusy      HistoryStatus = "busy"
	HistoryFailed    HistoryStatus = "failed"
)

// HistoryEntry is what the history sink records when a call ends.
type HistoryEntry struct {
	CallID     CallID
	PeerID     PeerID
	IsVideo    bool
	IsOutgoing bool
	Status     HistoryStatus
	StartedAt  time.Time
	Duration   time.Duration
	EndedAt    time.Time
}

// StatusForEnd derives the history status from the end reason, the call
// direction and whether the call was ever connected. Explicit reason
// codes win even for a connected call; connected-ness only decides the
// remaining reasons.
func StatusForEnd(session *CallSession, reason EndReason) HistoryStatus {
	switch reason {
	case ReasonDeclined:
		return HistoryDeclined
	case ReasonBusy:
		return HistoryBusy
	case ReasonFailed:
		return HistoryFailed
	}
	if session.Connected() {
		return HistoryCompleted
	}
	if session.IsOutgoing {
		return HistoryCancelled
	}
	return HistoryMissed
}
