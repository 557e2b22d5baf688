package services

import (
	"context"
	"fmt"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/engine"
	"hubcom/internal/core/ports"
	apperrors "hubcom/pkg/errors"
	"hubcom/pkg/sdputil"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// sessionDeps is what a MediaSession needs from the facade. Every function
// is called on the engine loop.
type sessionDeps struct {
	eng        *engine.Engine
	pcs        ports.PeerConnectionFactory
	ice        []webrtc.ICEServer
	devices    ports.MediaDevices
	media      *LocalMedia
	send       func(call domain.CallData) bool
	timeout    time.Duration
	closeDelay time.Duration
	log        *zap.SugaredLogger

	onChange      func(info domain.SessionInfo)
	onRemoteTrack func(session string, track ports.MediaTrack)
}

// MediaSession negotiates one audio/video peer connection through call
// messages. It is driven from the engine loop.
type MediaSession struct {
	deps sessionDeps
	log  *zap.SugaredLogger

	// res is the template of every call message this side sends.
	res      domain.CallData
	mdesc    domain.MediaDesc
	audioDir domain.Direction
	videoDir domain.Direction
	offerer  bool

	pc      ports.PeerConnection
	pending []webrtc.ICECandidateInit
	lconn   int
	rconn   int

	source ports.MediaStream
	local  ports.MediaStream
	owned  bool
	remote []ports.MediaTrack

	muted      bool
	sendsAudio bool
	state      domain.SessionState
	closing    bool
	timer      *time.Timer
	stopCap    context.CancelFunc
}

// newOutgoingSession creates the offering side and starts acquiring media.
// source, when set, is sent instead of the shared capture and never stopped
// by the session.
func newOutgoingSession(deps sessionDeps, id, self, to string, mdesc domain.MediaDesc, source ports.MediaStream) (*MediaSession, error) {
	s := &MediaSession{
		deps:     deps,
		log:      deps.log.With("session", id, "peer", to),
		res:      domain.CallData{ID: id, To: to, From: self, Type: domain.CallOffer, MDesc: &mdesc},
		mdesc:    mdesc,
		audioDir: mdesc.AudioDir(),
		videoDir: mdesc.VideoDir(),
		offerer:  true,
		source:   source,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	s.setState(domain.SessionRequesting)
	s.prepare()
	return s, nil
}

// newIncomingSession creates the answering side from an offer. It waits in
// preparing for Accept or Reject.
func newIncomingSession(deps sessionDeps, self string, offer domain.CallData) (*MediaSession, error) {
	var mdesc domain.MediaDesc
	if offer.MDesc != nil {
		mdesc = *offer.MDesc
	}
	s := &MediaSession{
		deps:     deps,
		log:      deps.log.With("session", offer.ID, "peer", offer.From),
		res:      domain.CallData{ID: offer.ID, To: offer.From, From: self, Type: domain.CallAnswer, MDesc: offer.MDesc},
		mdesc:    mdesc,
		audioDir: mdesc.AudioDir().Swap(),
		videoDir: mdesc.VideoDir().Swap(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	s.setState(domain.SessionPreparing)
	s.Negotiate(offer)
	return s, nil
}

func (s *MediaSession) init() error {
	pc, err := s.deps.pcs.NewPeerConnection(s.deps.ice)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNegotiation, err)
	}
	s.pc = pc
	eng := s.deps.eng

	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		cand := *c
		eng.Post(func() { s.gathered(cand) })
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		eng.Post(func() { s.iceState(state) })
	})
	pc.OnTrack(func(track ports.MediaTrack) {
		eng.Post(func() { s.addRemote(track) })
	})

	s.state = domain.SessionInitialized
	s.timer = eng.After(s.deps.timeout, s.expire)
	return nil
}

func (s *MediaSession) ID() string { return s.res.ID }

func (s *MediaSession) Remote() string { return s.res.To }

func (s *MediaSession) State() domain.SessionState { return s.state }

func (s *MediaSession) Info() domain.SessionInfo {
	return domain.SessionInfo{
		ID:       s.res.ID,
		To:       s.res.To,
		From:     s.res.From,
		Kind:     s.mdesc.Kind(),
		AudioDir: s.audioDir,
		VideoDir: s.videoDir,
		Muted:    s.muted,
		State:    s.state,
	}
}

// Accept answers the offer this session was created from.
func (s *MediaSession) Accept() error {
	if s.closing || s.state != domain.SessionPreparing {
		return domain.ErrInvalidState
	}
	if s.pc.RemoteDescription() == nil {
		return fmt.Errorf("%w: offer carried no description", domain.ErrNegotiation)
	}
	s.setState(domain.SessionAccepting)
	s.prepare()
	return nil
}

// Reject turns the offer down without acquiring media.
func (s *MediaSession) Reject() error {
	if s.closing || s.state != domain.SessionPreparing {
		return domain.ErrInvalidState
	}
	s.dispatch(domain.CallReject)
	s.setState(domain.SessionRejected)
	s.close()
	return nil
}

// Cancel withdraws an unanswered offer.
func (s *MediaSession) Cancel() error {
	if s.closing || s.state != domain.SessionRequesting {
		return domain.ErrInvalidState
	}
	s.dispatch(domain.CallCancel)
	s.setState(domain.SessionCanceled)
	s.close()
	return nil
}

// End hangs up from any state.
func (s *MediaSession) End() error {
	if s.closing {
		return domain.ErrInvalidState
	}
	s.dispatch(domain.CallEnd)
	s.setState(domain.SessionEnded)
	s.close()
	return nil
}

// Update renegotiates the media description. Not supported.
func (s *MediaSession) Update(domain.MediaDesc) error {
	return apperrors.NewNotImplementedError(domain.ErrNotImplemented, "session update")
}

// ToggleMute pauses or resumes the audio this session sends and returns
// the new muted flag.
func (s *MediaSession) ToggleMute() bool {
	s.muted = !s.muted
	s.applyMute()
	s.notify()
	return s.muted
}

// Negotiate applies one call message from the remote side.
func (s *MediaSession) Negotiate(call domain.CallData) {
	if s.closing {
		return
	}
	switch call.Type {
	case domain.CallOffer, domain.CallAnswer:
		if call.SDP != nil && s.pc.RemoteDescription() == nil {
			if err := s.pc.SetRemoteDescription(*call.SDP); err != nil {
				s.fail(fmt.Errorf("set remote %s: %w", call.Type, err))
				return
			}
			s.flushPending()
		}
		if call.Conn != nil {
			s.rconn++
			if s.pc.RemoteDescription() == nil {
				s.pending = append(s.pending, *call.Conn)
				return
			}
			if err := s.pc.AddICECandidate(*call.Conn); err != nil {
				s.log.Debugw("remote candidate rejected", "error", err)
			}
		}
	case domain.CallCancel:
		s.setState(domain.SessionCanceled)
		s.close()
	case domain.CallReject:
		s.setState(domain.SessionRejected)
		s.close()
	case domain.CallEnd:
		s.setState(domain.SessionEnded)
		s.close()
	default:
		s.log.Warnw("unknown call type", "type", call.Type)
		s.close()
	}
}

func (s *MediaSession) flushPending() {
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Debugw("buffered candidate rejected", "error", err)
		}
	}
	s.pending = nil
}

// prepare picks the local media: the substitute source, then the shared
// stream, then a new capture. Negotiation continues once media is ready.
func (s *MediaSession) prepare() {
	if s.source != nil {
		s.proceed(s.source)
		return
	}
	if !s.audioDir.Sends() && !s.videoDir.Sends() {
		s.proceed(nil)
		return
	}
	if stream := s.deps.media.Acquire(s.res.ID); stream != nil {
		s.local, s.owned = stream, true
		s.proceed(stream)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopCap = cancel
	devices, mdesc, eng := s.deps.devices, s.mdesc, s.deps.eng
	go func() {
		stream, err := devices.GetUserMedia(ctx, mdesc)
		eng.Post(func() { s.captured(stream, err) })
	}()
}

func (s *MediaSession) captured(stream ports.MediaStream, err error) {
	if s.closing {
		if err == nil && stream != nil {
			stream.Stop()
		}
		return
	}
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNoMedia, err))
		return
	}
	s.deps.media.Adopt(stream, s.res.ID)
	s.local, s.owned = stream, true
	s.proceed(stream)
}

func (s *MediaSession) proceed(stream ports.MediaStream) {
	if s.mdesc.Audio != nil {
		track := sendTrack(stream, domain.KindAudio, s.audioDir)
		if err := s.pc.AddMedia(domain.KindAudio, track, s.audioDir); err != nil {
			s.fail(fmt.Errorf("add audio: %w", err))
			return
		}
		s.sendsAudio = track != nil
	}
	if s.mdesc.Video != nil {
		if err := s.pc.AddMedia(domain.KindVideo, sendTrack(stream, domain.KindVideo, s.videoDir), s.videoDir); err != nil {
			s.fail(fmt.Errorf("add video: %w", err))
			return
		}
	}
	s.applyMute()

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if s.offerer {
		desc, err = s.pc.CreateOffer()
	} else {
		desc, err = s.pc.CreateAnswer()
	}
	if err != nil {
		s.fail(fmt.Errorf("create %s: %w", s.res.Type, err))
		return
	}
	if err := s.pc.SetLocalDescription(desc); err != nil {
		s.fail(fmt.Errorf("set local %s: %w", s.res.Type, err))
		return
	}

	wire := s.withDirections(desc)
	s.res.SDP = &wire
	s.dispatch(s.res.Type)
}

// withDirections returns desc with the requested direction on every media
// section. The peer connection keeps the description it generated.
func (s *MediaSession) withDirections(desc webrtc.SessionDescription) webrtc.SessionDescription {
	dirs := map[string]string{}
	if s.mdesc.Audio != nil {
		dirs[string(domain.KindAudio)] = string(s.audioDir)
	}
	if s.mdesc.Video != nil {
		dirs[string(domain.KindVideo)] = string(s.videoDir)
	}
	if ok, err := sdputil.Matches(desc.SDP, dirs); err != nil || ok {
		return desc
	}
	munged, err := sdputil.SetDirections(desc.SDP, dirs)
	if err != nil {
		s.log.Warnw("direction rewrite failed", "error", err)
		return desc
	}
	desc.SDP = munged
	return desc
}

func sendTrack(stream ports.MediaStream, kind domain.MediaKind, dir domain.Direction) ports.MediaTrack {
	if stream == nil || !dir.Sends() {
		return nil
	}
	tracks := stream.AudioTracks()
	if kind == domain.KindVideo {
		tracks = stream.VideoTracks()
	}
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

// applyMute gates the audio this session sends. The captured tracks are
// shared with other sessions and are never touched here.
func (s *MediaSession) applyMute() {
	if !s.sendsAudio {
		return
	}
	if err := s.pc.SetSending(domain.KindAudio, !s.muted); err != nil {
		s.log.Debugw("mute not applied", "error", err)
	}
}

func (s *MediaSession) gathered(c webrtc.ICECandidateInit) {
	if s.closing {
		return
	}
	s.lconn++
	msg := s.res
	msg.Conn = &c
	if !s.deps.send(msg) {
		s.log.Debugw("candidate dispatch failed")
	}
}

func (s *MediaSession) dispatch(callType string) {
	s.res.Type = callType
	msg := s.res
	msg.Conn = nil
	if !s.deps.send(msg) {
		s.log.Warnw("call dispatch failed", "type", callType)
	}
}

func (s *MediaSession) iceState(state webrtc.ICEConnectionState) {
	if s.closing {
		return
	}
	switch state {
	case webrtc.ICEConnectionStateConnected:
		if s.state == domain.SessionOpen {
			return
		}
		s.stopTimer()
		s.setState(domain.SessionOpen)
		s.log.Infow("media session open", "local_candidates", s.lconn, "remote_candidates", s.rconn)
	case webrtc.ICEConnectionStateFailed:
		s.fail(fmt.Errorf("%w: ice failed", domain.ErrNegotiation))
	}
}

func (s *MediaSession) addRemote(track ports.MediaTrack) {
	if s.closing {
		track.Stop()
		return
	}
	if track.Kind() == domain.KindVideo && !s.videoDir.Receives() {
		track.SetEnabled(false)
	}
	s.remote = append(s.remote, track)
	if s.deps.onRemoteTrack != nil {
		s.deps.onRemoteTrack(s.res.ID, track)
	}
}

func (s *MediaSession) expire() {
	if s.closing || s.state == domain.SessionOpen {
		return
	}
	prev := s.state
	s.setState(domain.SessionTimeout)
	if prev != domain.SessionRequesting {
		s.close()
		return
	}
	s.deps.eng.After(autoCancelDelay, func() {
		if s.closing {
			return
		}
		s.dispatch(domain.CallCancel)
		s.close()
	})
}

func (s *MediaSession) fail(err error) {
	s.log.Warnw("media session failed", "error", err)
	s.setState(domain.SessionFailed)
	s.close()
}

func (s *MediaSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// close is idempotent. Remote tracks stop at once; the peer connection and
// local media go after closeDelay.
func (s *MediaSession) close() {
	if s.closing {
		return
	}
	s.closing = true
	s.stopTimer()
	if s.stopCap != nil {
		s.stopCap()
	}
	for _, t := range s.remote {
		t.Stop()
	}
	s.remote = nil

	pc := s.pc
	s.deps.eng.After(s.deps.closeDelay, func() {
		go func() { _ = pc.Close() }()
		if s.owned {
			s.deps.media.Release(s.res.ID, s.local)
			s.local, s.owned = nil, false
		}
		s.setState(domain.SessionClosed)
	})
}

func (s *MediaSession) setState(state domain.SessionState) {
	s.state = state
	s.notify()
}

func (s *MediaSession) notify() {
	if s.deps.onChange != nil {
		s.deps.onChange(s.Info())
	}
}
