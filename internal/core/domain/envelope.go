package domain

// MessageType identifies the kind of signaling envelope.
type MessageType string

const (
	// Outbound.
	MsgCallInitiate       MessageType = "call_initiate"
	MsgCallAnswer         MessageType = "call_answer"
	MsgCallICECandidate   MessageType = "call_ice_candidate"
	MsgCallEnd            MessageType = "call_end"
	MsgGetTurnCredentials MessageType = "get_turn_credentials"

	// Inbound.
	MsgCallIncoming     MessageType = "call_incoming"
	MsgCallRinging      MessageType = "call_ringing"
	MsgTurnCredentials  MessageType = "turn_credentials"
)

// SignalingEnvelope is the wire-level unit of control-plane communication.
// Ciphertext decrypts to a type-specific plaintext: an SDP string, a JSON
// ICE descriptor, or the literal "end". The signature covers the canonical
// concatenation of (type, call_id, from, to, timestamp, nonce, ciphertext).
// Envelopes are immutable once constructed.
type SignalingEnvelope struct {
	Type         MessageType `json:"type"`
	SessionToken string      `json:"session_token,omitempty"`
	CallID       CallID      `json:"call_id"`
	From         PeerID      `json:"from"`
	To           PeerID      `json:"to"`
	Timestamp    int64       `json:"timestamp"`  // ms since epoch
	Nonce        string      `json:"nonce"`      // base64
	Ciphertext   string      `json:"ciphertext"` // base64
	Signature    string      `json:"sig"`        // base64

	// Reason is set on call_end only.
	Reason EndReason `json:"reason,omitempty"`

	// Turn is set on turn_credentials only; delivered by the server,
	// outside the end-to-end encrypted path.
	Turn *TurnPayload `json:"turn,omitempty"`

	// IsVideo is advisory metadata on call_incoming.
	IsVideo bool `json:"is_video,omitempty"`
}

// TurnPayload is the server-issued relay credential set on a
// turn_credentials envelope.
type TurnPayload struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTLSeconds int64    `json:"ttl"`
}

// ICECandidate is the JSON descriptor carried inside a call_ice_candidate
// ciphertext. The fields are opaque to the core; the media engine
// interprets them.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// EndPlaintext is the sealed payload of a call_end envelope.
const EndPlaintext = "end"
