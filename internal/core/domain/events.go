package domain

// ICEConnectionState is the media transport state as reported by the
// media engine. Values mirror the WebRTC ICE connection states the core
// cares about.
type ICEConnectionState string

const (
	ICENew          ICEConnectionState = "new"
	ICEChecking     ICEConnectionState = "checking"
	ICEConnected    ICEConnectionState = "connected"
	ICECompleted    ICEConnectionState = "completed"
	ICEDisconnected ICEConnectionState = "disconnected"
	ICEFailed       ICEConnectionState = "failed"
	ICEClosed       ICEConnectionState = "closed"
)

// Live reports whether the state indicates a usable or converging path.
func (s ICEConnectionState) Live() bool {
	return s == ICEChecking || s == ICEConnected || s == ICECompleted
}

// MediaEventKind enumerates the notifications a media engine can post
// into the state machine. Every engine callback becomes one of these;
// nothing outside the machine's loop mutates session state.
type MediaEventKind string

const (
	MediaICEStateChanged MediaEventKind = "ice_state_changed"
	MediaLocalCandidate  MediaEventKind = "local_candidate"
	MediaRemoteAudio     MediaEventKind = "remote_audio_track"
	MediaRemoteVideo     MediaEventKind = "remote_video_track"
)

// MediaEvent is one typed notification from the media engine.
type MediaEvent struct {
	Kind      MediaEventKind
	ICEState  ICEConnectionState
	Candidate *ICECandidate
}

// StateChange is the observable notification emitted whenever the call
// state machine transitions.
type StateChange struct {
	State   CallState
	Session *CallSession
	Reason  EndReason // set when State == StateEnded
}
