package ports

import (
	"context"
	"time"

	"whispercall/internal/core/domain"
)

// Transport delivers already-framed envelopes over an always-reconnecting
// channel. Connection management, backoff and message ordering within a
// connection are the transport's problem; the core only sends and
// receives.
type Transport interface {
	Send(ctx context.Context, env *domain.SignalingEnvelope) error
	Messages() <-chan *domain.SignalingEnvelope

	// AwaitAuthenticated blocks until the transport's authentication
	// handshake has completed, or ctx expires. Answer-path sends require
	// this gate to be open.
	AwaitAuthenticated(ctx context.Context) error
}

// CryptoBox exposes the symmetric/asymmetric primitives the codec needs.
// Implementations are pure and stateless.
type CryptoBox interface {
	Seal(plaintext, nonce, peerPublicKey, ownPrivateKey []byte) ([]byte, error)
	Open(ciphertext, nonce, peerPublicKey, ownPrivateKey []byte) ([]byte, error)
	Sign(digest, signingPrivateKey []byte) ([]byte, error)
	Verify(digest, signature, signingPublicKey []byte) bool
	GenerateNonce() ([]byte, error)
}

// KeyPair bundles the local identity's encryption and signing keys.
type KeyPair struct {
	BoxPublic   []byte
	BoxPrivate  []byte
	SignPublic  []byte
	SignPrivate []byte
}

// ContactKeys are the published keys of a counterparty.
type ContactKeys struct {
	BoxPublic  []byte
	SignPublic []byte
}

// Identity provides the authenticated account context: who we are, the
// current session token and key material for ourselves and our contacts.
type Identity interface {
	UserID() domain.PeerID
	SessionToken() string
	Keys() (*KeyPair, error)
	ContactKeys(ctx context.Context, peer domain.PeerID) (*ContactKeys, error)
}

// MediaEngine is the separately-owned WebRTC engine. SDP and candidate
// strings are opaque to the core; the engine reports progress through
// typed MediaEvents posted via the handler registered with OnEvent.
type MediaEngine interface {
	// Start creates the peer connection for a new call using the given
	// relay credentials. Must be called before any other media operation.
	Start(ctx context.Context, turn *domain.TurnCredentials, video bool) error

	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteDescription(ctx context.Context, sdp string, isAnswer bool) error
	AddICECandidate(ctx context.Context, candidate *domain.ICECandidate) error

	// OnEvent registers the single event handler. The engine calls it
	// from its own goroutines; handlers must post and return.
	OnEvent(fn func(domain.MediaEvent))

	// Close tears the peer connection down. Idempotent.
	Close() error
}

// Clock abstracts wall and monotonic time. Monotonic must not jump with
// wall-clock adjustments; it may reset on reboot.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

// MetricsCollector receives call lifecycle counters. Implementations
// must be non-blocking.
type MetricsCollector interface {
	CallInitiated(video bool)
	CallRinging()
	CallConnected()
	CallEnded(status domain.HistoryStatus, duration time.Duration)
	CandidateBuffered(local bool)
	TurnRefreshed()
	EnvelopeDropped(reason string)
}
