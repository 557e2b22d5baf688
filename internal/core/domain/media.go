package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

type Direction string

const (
	DirSendRecv Direction = "sendrecv"
	DirSendOnly Direction = "sendonly"
	DirRecvOnly Direction = "recvonly"
	DirInactive Direction = "inactive"
)

// Valid reports whether d is one of the four SDP directions.
func (d Direction) Valid() bool {
	switch d {
	case DirSendRecv, DirSendOnly, DirRecvOnly, DirInactive:
		return true
	}
	return false
}

// Swap returns the direction the remote side must use to match d.
func (d Direction) Swap() Direction {
	switch d {
	case DirSendOnly:
		return DirRecvOnly
	case DirRecvOnly:
		return DirSendOnly
	}
	return d
}

// Sends reports whether local media flows out under d.
func (d Direction) Sends() bool {
	return d == DirSendRecv || d == DirSendOnly
}

// Receives reports whether remote media flows in under d.
func (d Direction) Receives() bool {
	return d == DirSendRecv || d == DirRecvOnly
}

// OrDefault returns sendrecv for an empty direction.
func (d Direction) OrDefault() Direction {
	if d == "" {
		return DirSendRecv
	}
	return d
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// TrackDesc describes one media kind of a request: its direction and the
// capture constraints handed to the media devices.
type TrackDesc struct {
	Dir       Direction        `json:"dir,omitempty"`
	Mandatory map[string]any   `json:"mandatory,omitempty"`
	Optional  []map[string]any `json:"optional,omitempty"`
}

// MediaDesc selects the media kinds of a session. A nil kind is absent.
type MediaDesc struct {
	Audio *TrackDesc `json:"audio,omitempty"`
	Video *TrackDesc `json:"video,omitempty"`
}

// UnmarshalJSON accepts a bare boolean for a kind, so {"audio":true} means
// audio with default direction and no constraints.
func (m *MediaDesc) UnmarshalJSON(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("invalid media description: %w", err)
	}
	audio, err := decodeTrackDesc(fields["audio"])
	if err != nil {
		return fmt.Errorf("invalid audio description: %w", err)
	}
	video, err := decodeTrackDesc(fields["video"])
	if err != nil {
		return fmt.Errorf("invalid video description: %w", err)
	}
	m.Audio, m.Video = audio, video
	return nil
}

func decodeTrackDesc(raw json.RawMessage) (*TrackDesc, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		if !flag {
			return nil, nil
		}
		return &TrackDesc{}, nil
	}
	var td TrackDesc
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, err
	}
	if td.Dir != "" && !td.Dir.Valid() {
		return nil, fmt.Errorf("unknown direction %q", td.Dir)
	}
	return &td, nil
}

// Kind returns video when the description has video, else audio.
func (m MediaDesc) Kind() MediaKind {
	if m.Video != nil {
		return KindVideo
	}
	return KindAudio
}

// Empty reports whether no media kind is requested.
func (m MediaDesc) Empty() bool {
	return m.Audio == nil && m.Video == nil
}

// AudioDir returns the configured audio direction, sendrecv by default.
func (m MediaDesc) AudioDir() Direction {
	if m.Audio == nil {
		return ""
	}
	return m.Audio.Dir.OrDefault()
}

// VideoDir returns the configured video direction, sendrecv by default.
func (m MediaDesc) VideoDir() Direction {
	if m.Video == nil {
		return ""
	}
	return m.Video.Dir.OrDefault()
}

// SDPData is the payload of the sdp envelope used to set up direct channels.
type SDPData struct {
	SDP     *webrtc.SessionDescription `json:"sdp,omitempty"`
	Conn    []webrtc.ICECandidateInit  `json:"conn,omitempty"`
	Support *Support                   `json:"support,omitempty"`
	Peer    string                     `json:"peer,omitempty"`
}

// Call payload types.
const (
	CallOffer  = "offer"
	CallAnswer = "answer"
	CallReject = "reject"
	CallCancel = "cancel"
	CallEnd    = "end"
)

// CallData is the payload of the call envelope driving a media session.
// Every message of a session repeats id, sdp and mdesc so that any one of
// them is enough for the receiver to create the session.
type CallData struct {
	ID    string                     `json:"id"`
	To    string                     `json:"to"`
	From  string                     `json:"from"`
	Type  string                     `json:"type"`
	MDesc *MediaDesc                 `json:"mdesc,omitempty"`
	SDP   *webrtc.SessionDescription `json:"sdp,omitempty"`
	Conn  *webrtc.ICECandidateInit   `json:"conn,omitempty"`
	Peer  string                     `json:"peer,omitempty"`
}
