// Package media adapts pion/webrtc to the MediaEngine port. The core
// never sees pion types; SDP and candidates cross the boundary as
// strings and every engine callback is reported as a typed MediaEvent.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"whispercall/internal/core/domain"
	apperrors "whispercall/pkg/errors"
)

// PionEngine implements the MediaEngine port with one peer connection
// per call. Start creates the connection, Close discards it; the engine
// itself survives across calls.
type PionEngine struct {
	fallbackICE []string
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	handler func(domain.MediaEvent)
}

func NewPionEngine(fallbackICEServers []string, logger *zap.Logger) *PionEngine {
	return &PionEngine{
		fallbackICE: fallbackICEServers,
		logger:      logger.Sugar().Named("media"),
	}
}

func (e *PionEngine) OnEvent(fn func(domain.MediaEvent)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

func (e *PionEngine) Start(ctx context.Context, turn *domain.TurnCredentials, video bool) error {
	servers := e.iceServers(turn)

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "codec registration failed")
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "peer connection creation failed")
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "audio transceiver failed")
	}
	if video {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			pc.Close()
			return apperrors.WrapError(err, apperrors.ErrCodeInternal, "video transceiver failed")
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.emit(domain.MediaEvent{Kind: domain.MediaICEStateChanged, ICEState: iceState(s)})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		cand := &domain.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		e.emit(domain.MediaEvent{Kind: domain.MediaLocalCandidate, Candidate: cand})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.MediaRemoteAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaRemoteVideo
		}
		e.logger.Infow("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		e.emit(domain.MediaEvent{Kind: kind})
	})

	e.mu.Lock()
	old := e.pc
	e.pc = pc
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}

	e.logger.Infow("peer connection created", "relay", turn != nil, "video", video)
	return nil
}

func (e *PionEngine) CreateOffer(ctx context.Context) (string, error) {
	pc, err := e.current()
	if err != nil {
		return "", err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "offer creation failed")
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to set local description")
	}
	return offer.SDP, nil
}

func (e *PionEngine) CreateAnswer(ctx context.Context) (string, error) {
	pc, err := e.current()
	if err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "answer creation failed")
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to set local description")
	}
	return answer.SDP, nil
}

func (e *PionEngine) SetRemoteDescription(ctx context.Context, sdp string, isAnswer bool) error {
	pc, err := e.current()
	if err != nil {
		return err
	}
	sdpType := webrtc.SDPTypeOffer
	if isAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to set remote description")
	}
	return nil
}

func (e *PionEngine) AddICECandidate(ctx context.Context, candidate *domain.ICECandidate) error {
	pc, err := e.current()
	if err != nil {
		return err
	}
	mid := candidate.SDPMid
	idx := candidate.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := pc.AddICECandidate(init); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to add ice candidate")
	}
	return nil
}

func (e *PionEngine) Close() error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (e *PionEngine) current() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return nil, apperrors.NewInvalidStateError("media engine not started")
	}
	return e.pc, nil
}

func (e *PionEngine) emit(ev domain.MediaEvent) {
	e.mu.Lock()
	fn := e.handler
	e.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// iceServers prefers fetched relay credentials, falling back to the
// configured STUN servers.
func (e *PionEngine) iceServers(turn *domain.TurnCredentials) []webrtc.ICEServer {
	if turn != nil {
		return []webrtc.ICEServer{{
			URLs:       turn.URLs,
			Username:   turn.Username,
			Credential: turn.Credential,
		}}
	}
	if len(e.fallbackICE) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.fallbackICE}}
}

func iceState(s webrtc.ICEConnectionState) domain.ICEConnectionState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return domain.ICEChecking
	case webrtc.ICEConnectionStateConnected:
		return domain.ICEConnected
	case webrtc.ICEConnectionStateCompleted:
		return domain.ICECompleted
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ICEDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ICEFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ICEClosed
	default:
		return domain.ICENew
	}
}
