package ports

import (
	"context"

	"hubcom/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the slice of a WebRTC peer connection the signaling
// layer drives. Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(func(dc DataChannel))

	// AddMedia attaches a media kind with the given direction. track may be
	// nil for directions that do not send.
	AddMedia(kind domain.MediaKind, track MediaTrack, dir domain.Direction) error
	// SetSending pauses or resumes the outbound media of one kind on this
	// connection only. The track itself and other connections sending it
	// are not affected.
	SetSending(kind domain.MediaKind, send bool) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(c webrtc.ICECandidateInit) error

	OnICECandidate(func(c *webrtc.ICECandidateInit))
	OnICEConnectionStateChange(func(state webrtc.ICEConnectionState))
	OnTrack(func(track MediaTrack))
	Close() error
}

// DataChannel is an ordered, reliable message channel between two peers.
type DataChannel interface {
	Label() string
	IsOpen() bool
	Send(payload []byte) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func(payload []byte))
	Close() error
}

// PeerConnectionFactory creates peer connections.
type PeerConnectionFactory interface {
	NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error)
}

// MediaTrack is one local or remote media track.
type MediaTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	// Local returns the pion track to send, nil for remote tracks.
	Local() webrtc.TrackLocal
}

// MediaStream groups the tracks of one capture or one remote peer.
type MediaStream interface {
	ID() string
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
	Stop()
}

// MediaDevices captures local media.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, desc domain.MediaDesc) (MediaStream, error)
}
