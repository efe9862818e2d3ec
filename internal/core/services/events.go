package services

import (
	"whispercall/internal/core/domain"
)

// Loop events. Every stimulus the state machine reacts to, whatever its
// origin (public API call, inbound envelope, media engine callback,
// timer), becomes one of these and is consumed by the single run loop.
// Command events carry a reply channel; notifications do not.

type event interface{}

type evBeginInitiate struct {
	peer  domain.PeerID
	video bool
	reply chan error
}

type answerPrep struct {
	sdp    string
	callID domain.CallID
	peer   domain.PeerID
	err    error
}

type evBeginAnswer struct {
	reply chan answerPrep
}

// evAnswerSent and evOfferSent carry the callID of the session whose
// description went out; the loop drops them when that session is gone,
// so a slow Send can never open a later session's gate.
type evAnswerSent struct {
	callID domain.CallID
	reply  chan error
}

type evOfferSent struct {
	callID domain.CallID
	reply  chan error
}

type evDecline struct {
	reply chan error
}

type evEndLocal struct {
	reason domain.EndReason
	reply  chan error
}

// evAbortEstablish unwinds a half-initialized session when an initiate or
// answer step failed on the caller goroutine.
type evAbortEstablish struct {
	reason  domain.EndReason
	sendEnd bool
	reply   chan error
}

type evEnvelope struct {
	env *domain.SignalingEnvelope
}

type evMedia struct {
	ev domain.MediaEvent
}

type evConnectFallback struct {
	callID domain.CallID
}

type evDurationTick struct{}

type evSessionFlag struct {
	apply func(*domain.CallSession)
}
