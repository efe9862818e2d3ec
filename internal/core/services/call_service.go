package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
	apperrors "whispercall/pkg/errors"
	"whispercall/pkg/utils"
)

// Durable session anchor keys. Written when a session starts
// establishing, cleared when it ends; a surviving anchor at startup
// means the process died mid-call.
const (
	keyActiveCallID = "active_call_id"
	keyActivePeerID = "active_call_peer_id"
)

// Deps are the collaborators the state machine drives. Metrics and
// Logger may be nil.
type Deps struct {
	Codec     ports.EnvelopeCodec
	Transport ports.Transport
	Identity  ports.Identity
	Media     ports.MediaEngine
	Store     ports.KeyValueStore
	History   ports.HistorySink
	Clock     ports.Clock
	Metrics   ports.MetricsCollector
	Logger    *zap.Logger
}

// Options are the protocol timing knobs.
type Options struct {
	TurnFetchDeadline  time.Duration
	AnswerAuthDeadline time.Duration
	ConnectFallback    time.Duration
	RingingDedupWindow time.Duration

	// OnStateChange, when set, is invoked from the event loop after
	// every transition. Handlers must not call back into the service
	// synchronously.
	OnStateChange func(domain.StateChange)
}

// DefaultOptions returns the protocol defaults.
func DefaultOptions() Options {
	return Options{
		TurnFetchDeadline:  5 * time.Second,
		AnswerAuthDeadline: 10 * time.Second,
		ConnectFallback:    3 * time.Second,
		RingingDedupWindow: 60 * time.Second,
	}
}

type callService struct {
	deps Deps
	opts Options
	log  *zap.SugaredLogger

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	// Loop-owned state. Only the run loop touches these.
	session       *domain.CallSession
	state         domain.CallState
	buffer        *candidateBuffer
	guard         *ringingGuard
	pendingOffer  string
	endedByRemote bool
	lastICEState  domain.ICEConnectionState
	remoteTrack   bool
	fallback      *time.Timer
	tickerStop    chan struct{}

	turn *turnCache

	// answering collapses concurrent Answer() triggers into one
	// execution.
	answering atomic.Bool

	// Published snapshot for State()/Session() readers outside the loop.
	pubMu      sync.RWMutex
	pubState   domain.CallState
	pubSession domain.CallSession
	pubHas     bool
}

// NewCallService builds the state machine and starts its event loop.
// RecoverStaleSession should be called before any other operation.
func NewCallService(deps Deps, opts Options) ports.CallService {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	log := deps.Logger.Sugar().Named("calls")

	c := &callService{
		deps:     deps,
		opts:     opts,
		log:      log,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		buffer:   newCandidateBuffer(),
		guard:    newRingingGuard(deps.Store, deps.Clock, opts.RingingDedupWindow, log),
		state:    domain.StateIdle,
		pubState: domain.StateIdle,
	}
	c.turn = newTurnCache(deps.Codec, deps.Transport, deps.Identity, deps.Clock, deps.Metrics, log)

	deps.Media.OnEvent(c.HandleMediaEvent)

	go c.run()
	go c.consumeTransport()
	return c
}

func (c *callService) run() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.done:
			return
		}
	}
}

// consumeTransport pumps inbound envelopes into the loop in receipt
// order.
func (c *callService) consumeTransport() {
	for {
		select {
		case env, ok := <-c.deps.Transport.Messages():
			if !ok {
				return
			}
			c.HandleEnvelope(env)
		case <-c.done:
			return
		}
	}
}

func (c *callService) handle(ev event) {
	switch e := ev.(type) {
	case evBeginInitiate:
		e.reply <- c.onBeginInitiate(e.peer, e.video)
	case evBeginAnswer:
		e.reply <- c.onBeginAnswer()
	case evOfferSent:
		e.reply <- c.onLocalDescriptionSent(e.callID, false)
	case evAnswerSent:
		e.reply <- c.onAnswerSent(e.callID)
	case evDecline:
		e.reply <- c.onDecline()
	case evEndLocal:
		e.reply <- c.onEndLocal(e.reason)
	case evAbortEstablish:
		c.endSession(e.reason, e.sendEnd)
		e.reply <- nil
	case evEnvelope:
		c.onEnvelope(e.env)
	case evMedia:
		c.onMediaEvent(e.ev)
	case evConnectFallback:
		c.onConnectFallback(e.callID)
	case evDurationTick:
		c.onDurationTick()
	case evSessionFlag:
		if c.session != nil {
			e.apply(c.session)
			c.publish()
		}
	default:
		c.log.Warnw("unknown event dropped", "event", ev)
	}
}

// post enqueues a notification event.
func (c *callService) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// dispatch enqueues a command and waits for the loop's reply.
func (c *callService) dispatch(ev event, reply chan error) error {
	select {
	case c.events <- ev:
	case <-c.done:
		return apperrors.NewInternalError("call service closed")
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return apperrors.NewInternalError("call service closed")
	}
}

// ----- public API --------------------------------------------------------

func (c *callService) Initiate(ctx context.Context, peer domain.PeerID, video bool) error {
	reply := make(chan error, 1)
	if err := c.dispatch(evBeginInitiate{peer: peer, video: video, reply: reply}, reply); err != nil {
		return err
	}

	// The session now exists in Initiating. Every failure from here on
	// unwinds it completely; no envelope has been sent yet, so the
	// unwind is silent.
	turnCtx, cancel := context.WithTimeout(ctx, c.opts.TurnFetchDeadline)
	err := c.turn.EnsureValid(turnCtx)
	cancel()
	if err != nil {
		c.abortEstablish(false)
		return err
	}

	if err := c.deps.Media.Start(ctx, c.turn.Current(), video); err != nil {
		c.abortEstablish(false)
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "media engine start failed")
	}

	offer, err := c.deps.Media.CreateOffer(ctx)
	if err != nil {
		c.abortEstablish(false)
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "offer creation failed")
	}

	session := c.Session()
	env, err := c.deps.Codec.Encode(ctx, domain.MsgCallInitiate, session.CallID, peer, []byte(offer))
	if err != nil {
		c.abortEstablish(false)
		return err
	}
	env.IsVideo = video
	if err := c.deps.Transport.Send(ctx, env); err != nil {
		c.abortEstablish(false)
		return apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send call_initiate")
	}

	sent := make(chan error, 1)
	return c.dispatch(evOfferSent{callID: session.CallID, reply: sent}, sent)
}

func (c *callService) Answer(ctx context.Context) error {
	// Two concurrent triggers (UI tap and OS callback) collapse into a
	// single execution; the loser reports success without side effects.
	if !c.answering.CompareAndSwap(false, true) {
		return nil
	}

	// Reject before the auth and TURN waits; the loop re-checks once
	// those have passed.
	if c.State() != domain.StateRinging {
		c.answering.Store(false)
		return apperrors.WrapError(domain.ErrInvalidState, apperrors.ErrCodeInvalidState, "no ringing call to answer")
	}

	authCtx, cancel := context.WithTimeout(ctx, c.opts.AnswerAuthDeadline)
	err := c.deps.Transport.AwaitAuthenticated(authCtx)
	cancel()
	if err != nil {
		c.answering.Store(false)
		return apperrors.WrapError(domain.ErrAuthUnavailable, apperrors.ErrCodeResource, "authentication gate did not open")
	}

	turnCtx, cancel := context.WithTimeout(ctx, c.opts.TurnFetchDeadline)
	err = c.turn.EnsureValid(turnCtx)
	cancel()
	if err != nil {
		c.answering.Store(false)
		return err
	}

	prepReply := make(chan answerPrep, 1)
	select {
	case c.events <- evBeginAnswer{reply: prepReply}:
	case <-c.done:
		c.answering.Store(false)
		return apperrors.NewInternalError("call service closed")
	}
	var prep answerPrep
	select {
	case prep = <-prepReply:
	case <-c.done:
		c.answering.Store(false)
		return apperrors.NewInternalError("call service closed")
	}
	if prep.err != nil {
		c.answering.Store(false)
		return prep.err
	}

	env, err := c.deps.Codec.Encode(ctx, domain.MsgCallAnswer, prep.callID, prep.peer, []byte(prep.sdp))
	if err != nil {
		c.abortEstablish(true)
		return err
	}
	if err := c.deps.Transport.Send(ctx, env); err != nil {
		c.abortEstablish(true)
		return apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send call_answer")
	}

	sent := make(chan error, 1)
	return c.dispatch(evAnswerSent{callID: prep.callID, reply: sent}, sent)
}

func (c *callService) Decline(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.dispatch(evDecline{reply: reply}, reply)
}

func (c *callService) End(ctx context.Context, reason domain.EndReason) error {
	if !domain.ValidEndReason(reason) {
		reason = domain.ReasonEnded
	}
	reply := make(chan error, 1)
	return c.dispatch(evEndLocal{reason: reason, reply: reply}, reply)
}

func (c *callService) HandleEnvelope(env *domain.SignalingEnvelope) {
	c.post(evEnvelope{env: env})
}

func (c *callService) HandleMediaEvent(ev domain.MediaEvent) {
	c.post(evMedia{ev: ev})
}

func (c *callService) SetMuted(muted bool) {
	c.post(evSessionFlag{apply: func(s *domain.CallSession) { s.IsMuted = muted }})
}

func (c *callService) SetSpeaker(on bool) {
	c.post(evSessionFlag{apply: func(s *domain.CallSession) { s.IsSpeakerOn = on }})
}

func (c *callService) SetVideoEnabled(enabled bool) {
	c.post(evSessionFlag{apply: func(s *domain.CallSession) { s.LocalVideoEnabled = enabled }})
}

func (c *callService) PrefetchTurn(ctx context.Context) {
	c.turn.Prefetch(ctx)
}

func (c *callService) State() domain.CallState {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	return c.pubState
}

func (c *callService) Session() *domain.CallSession {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	if !c.pubHas {
		return nil
	}
	s := c.pubSession
	return &s
}

// RecoverStaleSession handles a durable anchor left by a process that
// died mid-call: the peer gets a best-effort end so their side cannot
// wedge open, the anchor is cleared unconditionally, and the machine is
// forced to Idle. The ringing record is deliberately left alone; it is
// what suppresses a duplicate alert delivered right after restart.
func (c *callService) RecoverStaleSession(ctx context.Context) error {
	callID, err := c.deps.Store.Get(ctx, keyActiveCallID)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read session anchor")
	}
	peerID, _ := c.deps.Store.Get(ctx, keyActivePeerID)

	if callID != "" && peerID != "" {
		c.log.Infow("recovering stale call session", "call_id", callID, "peer_id", peerID)
		env, err := c.deps.Codec.Encode(ctx, domain.MsgCallEnd, domain.CallID(callID), domain.PeerID(peerID), []byte(domain.EndPlaintext))
		if err != nil {
			// Courtesy only: without keys or the contact's key there is
			// nothing to send, and recovery proceeds regardless.
			c.log.Debugw("skipping stale-session end notification", "error", err)
		} else {
			env.Reason = domain.ReasonFailed
			if err := c.deps.Transport.Send(ctx, env); err != nil {
				c.log.Debugw("stale-session end notification not sent", "error", err)
			}
		}
	}

	if err := c.deps.Store.Delete(ctx, keyActiveCallID); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to clear session anchor")
	}
	if err := c.deps.Store.Delete(ctx, keyActivePeerID); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to clear session anchor")
	}

	reply := make(chan error, 1)
	return c.dispatch(evAbortEstablish{reason: domain.ReasonFailed, sendEnd: false, reply: reply}, reply)
}

func (c *callService) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	<-c.loopDone
	return c.deps.Media.Close()
}

// ----- loop handlers -----------------------------------------------------

func (c *callService) onBeginInitiate(peer domain.PeerID, video bool) error {
	if c.session != nil || !c.state.Terminal() {
		return apperrors.WrapError(domain.ErrCallActive, apperrors.ErrCodeInvalidState, "cannot initiate while a call is active")
	}

	// Preconditions, checked before any network I/O.
	if _, err := c.deps.Identity.Keys(); err != nil {
		return apperrors.WrapError(domain.ErrMissingKeys, apperrors.ErrCodePrecondition, "identity keys unavailable")
	}
	if c.deps.Identity.SessionToken() == "" {
		return apperrors.WrapError(domain.ErrMissingSession, apperrors.ErrCodePrecondition, "no session token")
	}
	if _, err := c.deps.Identity.ContactKeys(context.Background(), peer); err != nil {
		return apperrors.WrapError(domain.ErrContactKeyUnknown, apperrors.ErrCodePrecondition, "contact public key unavailable")
	}

	c.session = &domain.CallSession{
		CallID:            domain.CallID(utils.GenerateCallID()),
		PeerID:            peer,
		IsVideo:           video,
		IsOutgoing:        true,
		LocalVideoEnabled: video,
	}
	c.endedByRemote = false
	c.remoteTrack = false
	c.lastICEState = domain.ICENew

	if err := c.persistAnchor(); err != nil {
		c.session = nil
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to persist session anchor")
	}

	c.setState(domain.StateInitiating)
	c.deps.Metrics.CallInitiated(video)
	c.log.Infow("call initiating", "call_id", c.session.CallID, "peer_id", peer, "video", video)
	return nil
}

func (c *callService) onBeginAnswer() answerPrep {
	if c.state != domain.StateRinging || c.session == nil {
		return answerPrep{err: apperrors.WrapError(domain.ErrInvalidState, apperrors.ErrCodeInvalidState, "no ringing call to answer")}
	}

	ctx := context.Background()
	if err := c.deps.Media.Start(ctx, c.turn.Current(), c.session.IsVideo); err != nil {
		return answerPrep{err: apperrors.WrapError(err, apperrors.ErrCodeInternal, "media engine start failed")}
	}
	if err := c.deps.Media.SetRemoteDescription(ctx, c.pendingOffer, false); err != nil {
		return answerPrep{err: apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to apply remote offer")}
	}
	c.applyBufferedRemote()

	sdp, err := c.deps.Media.CreateAnswer(ctx)
	if err != nil {
		return answerPrep{err: apperrors.WrapError(err, apperrors.ErrCodeInternal, "answer creation failed")}
	}
	return answerPrep{sdp: sdp, callID: c.session.CallID, peer: c.session.PeerID}
}

// onLocalDescriptionSent opens the local-send gate and drains the
// buffer in generation order. The event is bound to the session it was
// sent for: if that session ended while Send was in flight, the gate of
// whatever session exists now must stay shut.
func (c *callService) onLocalDescriptionSent(callID domain.CallID, toConnecting bool) error {
	if c.session == nil || c.session.CallID != callID {
		return apperrors.WrapError(domain.ErrNoSession, apperrors.ErrCodeInvalidState, "session gone before description sent")
	}
	for _, cand := range c.buffer.OpenLocalGate() {
		c.sendCandidate(cand)
	}
	if toConnecting {
		if err := c.persistAnchor(); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to persist session anchor")
		}
		c.enterConnecting()
	}
	return nil
}

func (c *callService) onAnswerSent(callID domain.CallID) error {
	if err := c.onLocalDescriptionSent(callID, true); err != nil {
		return err
	}
	c.guard.Clear(context.Background())
	return nil
}

func (c *callService) onDecline() error {
	if c.state != domain.StateRinging || c.session == nil {
		return apperrors.WrapError(domain.ErrInvalidState, apperrors.ErrCodeInvalidState, "no ringing call to decline")
	}
	c.endSession(domain.ReasonDeclined, true)
	return nil
}

func (c *callService) onEndLocal(reason domain.EndReason) error {
	if c.endedByRemote {
		// The remote already ended this call; a second call_end would be
		// redundant. Consume the flag for the next call.
		c.endedByRemote = false
		return nil
	}
	if c.session == nil || c.state.Terminal() {
		c.log.Debugw("end requested with no active call", "state", c.state)
		return nil
	}
	if reason == domain.ReasonEnded && c.state == domain.StateInitiating {
		reason = domain.ReasonCancelled
	}
	c.endSession(reason, true)
	return nil
}

// ----- inbound envelopes -------------------------------------------------

func (c *callService) onEnvelope(env *domain.SignalingEnvelope) {
	if env == nil {
		return
	}
	switch env.Type {
	case domain.MsgCallIncoming:
		c.onIncoming(env)
	case domain.MsgCallAnswer:
		c.onRemoteAnswer(env)
	case domain.MsgCallICECandidate:
		c.onRemoteCandidate(env)
	case domain.MsgCallEnd:
		c.onRemoteEnd(env)
	case domain.MsgTurnCredentials:
		c.onTurnCredentials(env)
	case domain.MsgCallRinging:
		if c.state == domain.StateInitiating && c.session != nil && env.CallID == c.session.CallID {
			c.log.Infow("remote ringing", "call_id", env.CallID)
		}
	default:
		c.deps.Metrics.EnvelopeDropped("unknown_type")
		c.log.Warnw("envelope with unknown type dropped", "type", env.Type)
	}
}

func (c *callService) onIncoming(env *domain.SignalingEnvelope) {
	ctx := context.Background()

	if c.session != nil && !c.state.Terminal() {
		if env.CallID == c.session.CallID {
			c.deps.Metrics.EnvelopeDropped("duplicate_incoming")
			return
		}
		// Single-call invariant: a competing call never clobbers the
		// active session. Tell the caller we are busy.
		c.log.Infow("rejecting incoming call while busy", "call_id", env.CallID, "peer_id", env.From)
		c.sendBusy(env)
		return
	}

	if !c.guard.ShouldAlert(ctx, env.CallID) {
		c.deps.Metrics.EnvelopeDropped("duplicate_incoming")
		return
	}

	offer, err := c.deps.Codec.Decode(ctx, env)
	if err != nil {
		c.dropEnvelope(env, err)
		return
	}

	// Superseding an older record: the previous alert is gone by now,
	// clear before re-marking.
	c.guard.Clear(ctx)
	if err := c.guard.MarkAlerting(ctx, env.CallID); err != nil {
		c.log.Warnw("failed to persist ringing record", "call_id", env.CallID, "error", err)
	}

	c.session = &domain.CallSession{
		CallID:            env.CallID,
		PeerID:            env.From,
		IsVideo:           env.IsVideo,
		IsOutgoing:        false,
		LocalVideoEnabled: env.IsVideo,
	}
	c.endedByRemote = false
	c.remoteTrack = false
	c.lastICEState = domain.ICENew
	c.pendingOffer = string(offer)

	c.setState(domain.StateRinging)
	c.deps.Metrics.CallRinging()
	c.log.Infow("incoming call ringing", "call_id", env.CallID, "peer_id", env.From, "video", env.IsVideo)

	// Opportunistic: have credentials ready by the time the user
	// answers. Never blocks the transition.
	c.turn.Prefetch(ctx)
}

func (c *callService) onRemoteAnswer(env *domain.SignalingEnvelope) {
	if c.state != domain.StateInitiating || c.session == nil || env.CallID != c.session.CallID {
		c.deps.Metrics.EnvelopeDropped("unexpected_answer")
		c.log.Debugw("call_answer ignored", "state", c.state, "call_id", env.CallID)
		return
	}

	ctx := context.Background()
	sdp, err := c.deps.Codec.Decode(ctx, env)
	if err != nil {
		c.dropEnvelope(env, err)
		return
	}

	if err := c.deps.Media.SetRemoteDescription(ctx, string(sdp), true); err != nil {
		c.log.Errorw("failed to apply remote answer", "call_id", env.CallID, "error", err)
		c.endSession(domain.ReasonFailed, true)
		return
	}
	c.applyBufferedRemote()
	c.enterConnecting()
}

func (c *callService) onRemoteCandidate(env *domain.SignalingEnvelope) {
	if c.session == nil || env.CallID != c.session.CallID || c.state.Terminal() {
		c.deps.Metrics.EnvelopeDropped("unexpected_candidate")
		return
	}

	ctx := context.Background()
	payload, err := c.deps.Codec.Decode(ctx, env)
	if err != nil {
		c.dropEnvelope(env, err)
		return
	}

	var cand domain.ICECandidate
	if err := json.Unmarshal(payload, &cand); err != nil {
		c.dropEnvelope(env, apperrors.WrapError(domain.ErrEnvelopeMalformed, apperrors.ErrCodeProtocol, "ice descriptor is not valid json"))
		return
	}

	if c.buffer.BufferRemote(&cand) {
		if err := c.deps.Media.AddICECandidate(ctx, &cand); err != nil {
			c.log.Warnw("failed to apply remote candidate", "call_id", env.CallID, "error", err)
		}
	} else {
		c.deps.Metrics.CandidateBuffered(false)
	}
}

func (c *callService) onRemoteEnd(env *domain.SignalingEnvelope) {
	if c.session == nil || env.CallID != c.session.CallID || c.state.Terminal() {
		c.deps.Metrics.EnvelopeDropped("unexpected_end")
		return
	}

	if _, err := c.deps.Codec.Decode(context.Background(), env); err != nil {
		c.dropEnvelope(env, err)
		return
	}

	reason := env.Reason
	if !domain.ValidEndReason(reason) {
		reason = domain.ReasonEnded
	}

	c.log.Infow("remote ended call", "call_id", env.CallID, "reason", reason)
	c.endedByRemote = true
	c.endSession(reason, false)
}

func (c *callService) onTurnCredentials(env *domain.SignalingEnvelope) {
	if env.Turn == nil || len(env.Turn.URLs) == 0 || env.Turn.TTLSeconds <= 0 {
		c.deps.Metrics.EnvelopeDropped("malformed_turn")
		c.log.Warnw("turn_credentials envelope missing payload")
		return
	}
	c.turn.Fulfill(&domain.TurnCredentials{
		URLs:       env.Turn.URLs,
		Username:   env.Turn.Username,
		Credential: env.Turn.Credential,
		TTL:        time.Duration(env.Turn.TTLSeconds) * time.Second,
		ReceivedAt: c.deps.Clock.Now(),
	})
}

// ----- media events ------------------------------------------------------

func (c *callService) onMediaEvent(ev domain.MediaEvent) {
	if c.session == nil || c.state.Terminal() {
		return
	}

	switch ev.Kind {
	case domain.MediaLocalCandidate:
		if ev.Candidate == nil {
			return
		}
		if c.buffer.BufferLocal(ev.Candidate) {
			c.sendCandidate(ev.Candidate)
		} else {
			c.deps.Metrics.CandidateBuffered(true)
		}

	case domain.MediaRemoteAudio, domain.MediaRemoteVideo:
		if ev.Kind == domain.MediaRemoteVideo && c.session != nil {
			c.session.RemoteVideoEnabled = true
			c.publish()
		}
		c.remoteTrack = true
		c.maybeConnected()

	case domain.MediaICEStateChanged:
		c.onICEStateChanged(ev.ICEState)
	}
}

func (c *callService) onICEStateChanged(s domain.ICEConnectionState) {
	c.lastICEState = s
	c.log.Debugw("ice state changed", "state", s, "call_state", c.state)

	switch s {
	case domain.ICEFailed:
		c.endSession(domain.ReasonFailed, true)

	case domain.ICEConnected, domain.ICECompleted:
		switch c.state {
		case domain.StateConnecting:
			c.maybeConnected()
		case domain.StateReconnecting:
			c.setState(domain.StateConnected)
			c.log.Infow("call reconnected", "call_id", c.session.CallID)
		}

	case domain.ICEDisconnected:
		if c.state == domain.StateConnected {
			c.setState(domain.StateReconnecting)
			c.log.Warnw("call transport interrupted", "call_id", c.session.CallID)
		}
	}
}

// maybeConnected applies the media-readiness rule: audio-only calls are
// connected as soon as ICE converges; video calls additionally wait for
// any remote track, audio or video.
func (c *callService) maybeConnected() {
	if c.state != domain.StateConnecting {
		return
	}
	if c.lastICEState != domain.ICEConnected && c.lastICEState != domain.ICECompleted {
		return
	}
	if c.session.IsVideo && !c.remoteTrack {
		return
	}
	c.enterConnected()
}

func (c *callService) onConnectFallback(callID domain.CallID) {
	if c.state != domain.StateConnecting || c.session == nil || c.session.CallID != callID {
		return
	}
	if c.lastICEState.Live() {
		c.log.Infow("connect fallback fired, forcing connected", "call_id", callID, "ice_state", c.lastICEState)
		c.enterConnected()
	}
}

func (c *callService) onDurationTick() {
	if c.state != domain.StateConnected && c.state != domain.StateReconnecting {
		return
	}
	c.session.Duration += time.Second
	c.publish()
}

// ----- transitions -------------------------------------------------------

func (c *callService) enterConnecting() {
	c.setState(domain.StateConnecting)

	callID := c.session.CallID
	c.stopFallback()
	c.fallback = time.AfterFunc(c.opts.ConnectFallback, func() {
		c.post(evConnectFallback{callID: callID})
	})
}

func (c *callService) enterConnected() {
	c.stopFallback()
	if c.session.StartTime.IsZero() {
		c.session.StartTime = c.deps.Clock.Now()
	}
	c.startTicker()
	c.setState(domain.StateConnected)
	c.deps.Metrics.CallConnected()
	c.log.Infow("call connected", "call_id", c.session.CallID, "video", c.session.IsVideo)
}

// endSession drives any non-terminal state to Ended(reason), records
// history, clears durable records and tears resources down. Safe to
// call in any state.
func (c *callService) endSession(reason domain.EndReason, sendEnd bool) {
	if c.session == nil {
		c.setState(domain.StateIdle)
		return
	}
	session := c.session
	ctx := context.Background()

	if sendEnd {
		env, err := c.deps.Codec.Encode(ctx, domain.MsgCallEnd, session.CallID, session.PeerID, []byte(domain.EndPlaintext))
		if err != nil {
			c.log.Warnw("failed to build call_end", "call_id", session.CallID, "error", err)
		} else {
			env.Reason = reason
			if err := c.deps.Transport.Send(ctx, env); err != nil {
				c.log.Warnw("failed to send call_end", "call_id", session.CallID, "error", err)
			}
		}
	}

	status := domain.StatusForEnd(session, reason)
	var duration time.Duration
	if session.Connected() {
		duration = c.deps.Clock.Now().Sub(session.StartTime)
	}

	c.setStateEnded(reason)
	c.deps.Metrics.CallEnded(status, duration)
	c.log.Infow("call ended",
		"call_id", session.CallID,
		"reason", reason,
		"status", status,
		"duration", utils.FormatDuration(duration),
	)

	entry := domain.HistoryEntry{
		CallID:     session.CallID,
		PeerID:     session.PeerID,
		IsVideo:    session.IsVideo,
		IsOutgoing: session.IsOutgoing,
		Status:     status,
		StartedAt:  session.StartTime,
		Duration:   duration,
		EndedAt:    c.deps.Clock.Now(),
	}
	if err := c.deps.History.Record(ctx, entry); err != nil {
		c.log.Warnw("failed to record call history", "call_id", session.CallID, "error", err)
	}

	c.clearAnchor(ctx)
	c.guard.Clear(ctx)
	c.cleanup()
	c.setState(domain.StateIdle)
}

// cleanup releases per-session resources. Idempotent.
func (c *callService) cleanup() {
	c.stopFallback()
	c.stopTicker()
	c.buffer.Reset()
	c.pendingOffer = ""
	c.remoteTrack = false
	c.lastICEState = domain.ICENew
	c.answering.Store(false)
	c.session = nil
	if err := c.deps.Media.Close(); err != nil {
		c.log.Debugw("media close", "error", err)
	}
}

// abortEstablish unwinds a failed initiate/answer from the caller
// goroutine.
func (c *callService) abortEstablish(sendEnd bool) {
	reply := make(chan error, 1)
	_ = c.dispatch(evAbortEstablish{reason: domain.ReasonFailed, sendEnd: sendEnd, reply: reply}, reply)
}

// ----- helpers -----------------------------------------------------------

func (c *callService) sendCandidate(cand *domain.ICECandidate) {
	if c.session == nil {
		return
	}
	ctx := context.Background()
	payload, err := json.Marshal(cand)
	if err != nil {
		c.log.Warnw("failed to marshal candidate", "error", err)
		return
	}
	env, err := c.deps.Codec.Encode(ctx, domain.MsgCallICECandidate, c.session.CallID, c.session.PeerID, payload)
	if err != nil {
		c.log.Warnw("failed to encode candidate", "call_id", c.session.CallID, "error", err)
		return
	}
	if err := c.deps.Transport.Send(ctx, env); err != nil {
		c.log.Warnw("failed to send candidate", "call_id", c.session.CallID, "error", err)
	}
}

func (c *callService) applyBufferedRemote() {
	ctx := context.Background()
	for _, cand := range c.buffer.OpenRemoteGate() {
		if err := c.deps.Media.AddICECandidate(ctx, cand); err != nil {
			c.log.Warnw("failed to apply buffered candidate", "error", err)
		}
	}
}

func (c *callService) sendBusy(env *domain.SignalingEnvelope) {
	ctx := context.Background()
	busy, err := c.deps.Codec.Encode(ctx, domain.MsgCallEnd, env.CallID, env.From, []byte(domain.EndPlaintext))
	if err != nil {
		c.log.Debugw("failed to build busy response", "error", err)
		return
	}
	busy.Reason = domain.ReasonBusy
	if err := c.deps.Transport.Send(ctx, busy); err != nil {
		c.log.Debugw("failed to send busy response", "error", err)
	}
}

func (c *callService) dropEnvelope(env *domain.SignalingEnvelope, err error) {
	code := "protocol"
	if apperrors.HasCode(err, apperrors.ErrCodeCrypto) {
		code = "crypto"
	}
	c.deps.Metrics.EnvelopeDropped(code)
	c.log.Warnw("inbound envelope dropped",
		"type", env.Type,
		"call_id", env.CallID,
		"from", env.From,
		"error", err,
	)
}

func (c *callService) persistAnchor() error {
	ctx := context.Background()
	if err := c.deps.Store.Set(ctx, keyActiveCallID, string(c.session.CallID)); err != nil {
		return err
	}
	return c.deps.Store.Set(ctx, keyActivePeerID, string(c.session.PeerID))
}

func (c *callService) clearAnchor(ctx context.Context) {
	if err := c.deps.Store.Delete(ctx, keyActiveCallID); err != nil {
		c.log.Warnw("failed to clear session anchor", "error", err)
	}
	if err := c.deps.Store.Delete(ctx, keyActivePeerID); err != nil {
		c.log.Warnw("failed to clear session anchor peer", "error", err)
	}
}

func (c *callService) startTicker() {
	c.stopTicker()
	stop := make(chan struct{})
	c.tickerStop = stop
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.post(evDurationTick{})
			case <-stop:
				return
			case <-c.done:
				return
			}
		}
	}()
}

func (c *callService) stopTicker() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

func (c *callService) stopFallback() {
	if c.fallback != nil {
		c.fallback.Stop()
		c.fallback = nil
	}
}

func (c *callService) setState(s domain.CallState) {
	c.state = s
	c.publishChange(domain.StateChange{State: s, Session: c.sessionCopy()})
}

func (c *callService) setStateEnded(reason domain.EndReason) {
	c.state = domain.StateEnded
	c.publishChange(domain.StateChange{State: domain.StateEnded, Session: c.sessionCopy(), Reason: reason})
}

func (c *callService) publish() {
	c.pubMu.Lock()
	c.pubState = c.state
	if c.session != nil {
		c.pubSession = *c.session
		c.pubHas = true
	} else {
		c.pubHas = false
	}
	c.pubMu.Unlock()
}

func (c *callService) publishChange(change domain.StateChange) {
	c.publish()
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(change)
	}
}

func (c *callService) sessionCopy() *domain.CallSession {
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// nopMetrics is the default MetricsCollector.
type nopMetrics struct{}

func (nopMetrics) CallInitiated(bool)                                {}
func (nopMetrics) CallRinging()                                      {}
func (nopMetrics) CallConnected()                                    {}
func (nopMetrics) CallEnded(domain.HistoryStatus, time.Duration)     {}
func (nopMetrics) CandidateBuffered(bool)                            {}
func (nopMetrics) TurnRefreshed()                                    {}
func (nopMetrics) EnvelopeDropped(string)                            {}
