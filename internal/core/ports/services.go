package ports

import (
	"context"

	"whispercall/internal/core/domain"
)

// CallService is the single-writer call lifecycle state machine. All
// methods are safe for concurrent use; every external stimulus is
// serialized through one event loop. Public operations return typed
// failures and never panic across the boundary.
type CallService interface {
	// Initiate starts an outgoing call from Idle. It suspends while TURN
	// credentials are fetched (bounded) and fails without sending anything
	// if preconditions or credentials are missing.
	Initiate(ctx context.Context, peer domain.PeerID, video bool) error

	// Answer accepts the currently ringing call. Idempotent under
	// concurrent invocation: side effects run exactly once.
	Answer(ctx context.Context) error

	// Decline rejects the currently ringing call.
	Decline(ctx context.Context) error

	// End hangs up the active call. A no-op when the remote side already
	// signaled the end of this call.
	End(ctx context.Context, reason domain.EndReason) error

	// HandleEnvelope feeds one inbound, already-framed envelope into the
	// machine. Malformed or cryptographically invalid envelopes are
	// dropped and logged; they never fail the session.
	HandleEnvelope(env *domain.SignalingEnvelope)

	// HandleMediaEvent feeds one media engine notification into the
	// machine.
	HandleMediaEvent(ev domain.MediaEvent)

	// SetMuted, SetSpeaker and SetVideoEnabled flip UI-facing session
	// flags; they have no protocol effect.
	SetMuted(muted bool)
	SetSpeaker(on bool)
	SetVideoEnabled(enabled bool)

	// State returns the current observable state.
	State() domain.CallState

	// Session returns a copy of the active session, or nil.
	Session() *domain.CallSession

	// PrefetchTurn fires an opportunistic TURN credential refresh without
	// waiting for the reply. Wired to the transport's auth-success hook.
	PrefetchTurn(ctx context.Context)

	// RecoverStaleSession clears a session anchor left behind by a
	// previous process death, sending a best-effort end to the peer.
	// Must run before any other call activity.
	RecoverStaleSession(ctx context.Context) error

	// Close stops the event loop and releases resources.
	Close() error
}

// EnvelopeCodec builds and parses the sealed control-message payloads.
type EnvelopeCodec interface {
	// Encode seals plaintext for the recipient, signs the canonical form
	// and returns the wire envelope. Every call uses a fresh nonce.
	Encode(ctx context.Context, msgType domain.MessageType, callID domain.CallID, to domain.PeerID, plaintext []byte) (*domain.SignalingEnvelope, error)

	// Decode verifies structure and signature, opens the ciphertext and
	// returns the plaintext. Structural problems surface as
	// domain.ErrEnvelopeMalformed, cryptographic ones as
	// domain.ErrEnvelopeCrypto.
	Decode(ctx context.Context, env *domain.SignalingEnvelope) ([]byte, error)
}
