package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// peerConnection adapts a pion peer connection to ports.PeerConnection.
type peerConnection struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu    sync.Mutex
	gates map[domain.MediaKind]*gatedTrack
}

var _ ports.PeerConnection = (*peerConnection)(nil)

func newPeerConnection(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *peerConnection {
	return &peerConnection{pc: pc, logger: logger, gates: make(map[domain.MediaKind]*gatedTrack)}
}

func (p *peerConnection) CreateDataChannel(label string) (ports.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return newDataChannel(dc), nil
}

func (p *peerConnection) OnDataChannel(fn func(ports.DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(newDataChannel(dc))
	})
}

// AddMedia adds one transceiver of the given kind. On the answering side
// pion has already created receive-only transceivers from the offer, so a
// sending track reuses them and nothing is added for the other directions.
// A sent track goes through a gate owned by this connection.
func (p *peerConnection) AddMedia(kind domain.MediaKind, track ports.MediaTrack, dir domain.Direction) error {
	codecType, err := codecTypeOf(kind)
	if err != nil {
		return err
	}
	answering := p.pc.RemoteDescription() != nil

	if track != nil && track.Local() != nil && dir.Sends() {
		gate := newGatedTrack(track.Local())
		var sender *webrtc.RTPSender
		if answering {
			sender, err = p.pc.AddTrack(gate)
		} else {
			var tr *webrtc.RTPTransceiver
			tr, err = p.pc.AddTransceiverFromTrack(gate, webrtc.RTPTransceiverInit{
				Direction: transceiverDirection(dir),
			})
			if tr != nil {
				sender = tr.Sender()
			}
		}
		if err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
		p.mu.Lock()
		p.gates[kind] = gate
		p.mu.Unlock()
		if sender != nil {
			go p.drainRTCP(sender)
		}
		return nil
	}

	if answering {
		return nil
	}
	// pion offers inactive media as recvonly; the wire copy is rewritten.
	if _, err := p.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	return nil
}

func (p *peerConnection) SetSending(kind domain.MediaKind, send bool) error {
	p.mu.Lock()
	gate, ok := p.gates[kind]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s track is sent", kind)
	}
	gate.setOpen(send)
	return nil
}

// drainRTCP reads incoming RTCP so the sender's interceptors run.
func (p *peerConnection) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debugw("rtcp read stopped", "error", err)
			}
			return
		}
	}
}

func (p *peerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *peerConnection) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *peerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peerConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		cand := c.ToJSON()
		fn(&cand)
	})
}

func (p *peerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

// OnTrack wraps every remote track and starts reading it.
func (p *peerConnection) OnTrack(fn func(ports.MediaTrack)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Infow("remote track started",
			"track_id", remote.ID(),
			"codec", remote.Codec().MimeType,
		)
		track := newRemoteTrack(remote, p.pc, p.logger)
		go track.read()
		fn(track)
	})
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

func codecTypeOf(kind domain.MediaKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("unknown media kind %q", kind)
}

func kindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

// transceiverDirection maps a sending direction to pion. Only sendrecv and
// sendonly reach it.
func transceiverDirection(dir domain.Direction) webrtc.RTPTransceiverDirection {
	if dir == domain.DirSendOnly {
		return webrtc.RTPTransceiverDirectionSendonly
	}
	return webrtc.RTPTransceiverDirectionSendrecv
}
