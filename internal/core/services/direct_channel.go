package services

import (
	"fmt"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/engine"
	"hubcom/internal/core/ports"

	"github.com/bep/debounce"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// channelDeps is what a DirectChannel needs from its owner. Every function
// is called on the engine loop.
type channelDeps struct {
	eng     *engine.Engine
	pcs     ports.PeerConnectionFactory
	ice     []webrtc.ICEServer
	support domain.Support
	self    func() string
	relay   func(data any, msgType, to string) bool
	quiet   time.Duration
	log     *zap.SugaredLogger

	onState   func(peer string, state domain.ChannelState)
	onMessage func(env *domain.Envelope)
	onError   func(peer string, err error)
}

// DirectChannel is the data channel to one peer. Until it opens, the peer is
// reached through the relay.
type DirectChannel struct {
	remote string
	deps   channelDeps

	pc    ports.PeerConnection
	pcErr error
	dc    ports.DataChannel

	state  domain.ChannelState
	closed bool

	candidates []webrtc.ICECandidateInit
	dispatched bool
	debounced  func(func())
}

func newDirectChannel(remote string, deps channelDeps) *DirectChannel {
	if deps.quiet <= 0 {
		deps.quiet = 150 * time.Millisecond
	}
	ch := &DirectChannel{
		remote:     remote,
		deps:       deps,
		state:      domain.ChannelClose,
		dispatched: true,
		debounced:  debounce.New(deps.quiet),
	}

	pc, err := deps.pcs.NewPeerConnection(deps.ice)
	if err != nil {
		ch.pcErr = fmt.Errorf("%w: %v", domain.ErrNegotiation, err)
		return ch
	}
	ch.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		cand := *c
		deps.eng.Post(func() { ch.gathered(cand) })
	})
	pc.OnDataChannel(func(dc ports.DataChannel) {
		deps.eng.Post(func() { ch.attach(dc) })
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		deps.eng.Post(func() { ch.iceState(s) })
	})
	return ch
}

func (ch *DirectChannel) State() domain.ChannelState { return ch.state }

// Open starts negotiation. With a nil offer this side offers; otherwise the
// remote description and candidates are applied and an offer is answered.
func (ch *DirectChannel) Open(remote *domain.SDPData) error {
	if ch.closed {
		return domain.ErrInvalidState
	}
	if ch.pcErr != nil {
		return ch.pcErr
	}

	if remote == nil {
		dc, err := ch.pc.CreateDataChannel(ch.remote)
		if err != nil {
			return fmt.Errorf("create data channel: %w", err)
		}
		ch.attach(dc)

		offer, err := ch.pc.CreateOffer()
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := ch.pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		ch.negotiated()
		return nil
	}

	if remote.SDP != nil {
		if err := ch.pc.SetRemoteDescription(*remote.SDP); err != nil {
			return fmt.Errorf("set remote %s: %w", remote.SDP.Type, err)
		}
	}
	for _, c := range remote.Conn {
		if err := ch.pc.AddICECandidate(c); err != nil {
			ch.deps.log.Debugw("remote candidate rejected", "peer", ch.remote, "error", err)
		}
	}
	if remote.SDP == nil || remote.SDP.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := ch.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := ch.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	ch.negotiated()
	return nil
}

// negotiated arms the candidate batch for the description just set.
func (ch *DirectChannel) negotiated() {
	ch.candidates = nil
	ch.dispatched = false
	ch.debounced(ch.fire)
}

func (ch *DirectChannel) fire() {
	ch.deps.eng.Post(ch.dispatch)
}

func (ch *DirectChannel) gathered(c webrtc.ICECandidateInit) {
	if ch.closed || ch.dispatched {
		return
	}
	ch.candidates = append(ch.candidates, c)
	ch.debounced(ch.fire)
}

func (ch *DirectChannel) dispatch() {
	if ch.closed || ch.dispatched {
		return
	}
	local := ch.pc.LocalDescription()
	if local == nil {
		return
	}
	ch.dispatched = true

	support := ch.deps.support
	payload := domain.SDPData{SDP: local, Conn: ch.candidates, Support: &support}
	if !ch.deps.relay(payload, domain.TypeSDP, ch.remote) {
		ch.deps.log.Warnw("sdp dispatch failed", "peer", ch.remote, "type", local.Type)
		return
	}
	ch.deps.log.Debugw("sdp dispatched", "peer", ch.remote, "type", local.Type, "candidates", len(ch.candidates))
}

func (ch *DirectChannel) attach(dc ports.DataChannel) {
	if ch.closed {
		_ = dc.Close()
		return
	}
	ch.dc = dc
	dc.OnOpen(func() {
		ch.deps.eng.Post(func() { ch.setState(domain.ChannelOpen) })
	})
	dc.OnClose(func() {
		ch.deps.eng.Post(func() { ch.setState(domain.ChannelClose) })
	})
	dc.OnMessage(func(payload []byte) {
		ch.deps.eng.Post(func() { ch.receive(payload) })
	})
	if dc.IsOpen() {
		ch.setState(domain.ChannelOpen)
	}
}

// setState reports open once and close only after open.
func (ch *DirectChannel) setState(s domain.ChannelState) {
	if ch.closed || ch.state == s {
		return
	}
	ch.state = s
	ch.deps.log.Infow("direct channel "+string(s), "peer", ch.remote)
	ch.deps.onState(ch.remote, s)
}

func (ch *DirectChannel) iceState(s webrtc.ICEConnectionState) {
	if ch.closed || ch.state == domain.ChannelOpen {
		return
	}
	if s == webrtc.ICEConnectionStateFailed {
		ch.deps.onError(ch.remote, fmt.Errorf("%w: direct channel to %s", domain.ErrNegotiation, ch.remote))
	}
}

func (ch *DirectChannel) receive(payload []byte) {
	if ch.closed {
		return
	}
	env, err := domain.ParseEnvelope(payload)
	if err != nil {
		ch.deps.log.Warnw("invalid direct message", "peer", ch.remote, "error", err)
		return
	}
	if env.From == "" {
		env.From = ch.remote
	}

	clock := ch.deps.eng.Clock()
	switch env.Type {
	case domain.TypePing:
		pong := &domain.Envelope{
			From: ch.deps.self(),
			To:   env.From,
			Type: domain.TypePong,
			TS:   env.TS,
			Via:  domain.ViaDirect,
		}
		if err := pong.SetData(domain.PongData{TsArv: clock.Now()}); err == nil {
			ch.write(pong)
		}
		return
	case domain.TypePong:
		if err := env.SetDataField("delay", clock.Now()-env.TS); err != nil {
			ch.deps.log.Debugw("pong without object payload", "peer", ch.remote, "error", err)
		}
	}
	ch.deps.onMessage(env)
}

// Send writes one envelope over the open channel.
func (ch *DirectChannel) Send(data any, msgType string) bool {
	if ch.closed || ch.state != domain.ChannelOpen || ch.dc == nil {
		return false
	}
	raw, err := domain.EncodePayload(data, "")
	if err != nil {
		ch.deps.log.Warnw("direct payload rejected", "type", msgType, "error", err)
		return false
	}
	return ch.write(&domain.Envelope{
		From: ch.deps.self(),
		Type: msgType,
		Data: raw,
		TS:   ch.deps.eng.Clock().Now(),
		Via:  domain.ViaDirect,
	})
}

func (ch *DirectChannel) write(env *domain.Envelope) bool {
	raw, err := env.Marshal()
	if err != nil {
		return false
	}
	if err := ch.dc.Send(raw); err != nil {
		ch.deps.log.Debugw("direct send failed", "peer", ch.remote, "error", err)
		return false
	}
	return true
}

// Close tears the channel down without reporting a state change.
func (ch *DirectChannel) Close() {
	if ch.closed {
		return
	}
	ch.closed = true
	ch.dispatched = true
	if ch.dc != nil {
		_ = ch.dc.Close()
	}
	if pc := ch.pc; pc != nil {
		go func() { _ = pc.Close() }()
	}
}
