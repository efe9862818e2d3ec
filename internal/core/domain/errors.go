package domain

import "errors"

var (
	ErrInvalidState      = errors.New("operation not valid in current call state")
	ErrCallActive        = errors.New("another call is already active")
	ErrNoSession         = errors.New("no active call session")
	ErrMissingKeys       = errors.New("identity keys unavailable")
	ErrMissingSession    = errors.New("session token unavailable")
	ErrContactKeyUnknown = errors.New("contact public key unavailable")
	ErrTurnUnavailable   = errors.New("turn credentials unavailable")
	ErrAuthUnavailable   = errors.New("authentication not established")
	ErrDuplicateIncoming = errors.New("duplicate incoming call")
	ErrEnvelopeMalformed = errors.New("malformed signaling envelope")
	ErrEnvelopeCrypto    = errors.New("envelope decryption or signature failure")
)
