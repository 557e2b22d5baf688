package domain

import "time"

// Socket is the relay's handle on one client connection.
type Socket interface {
	ID() string
	RemoteAddr() string
	Send(payload []byte) error
}

// PeerRecord is the relay-side registration of one socket.
type PeerRecord struct {
	Hub          string
	ConnID       string
	Name         string
	Socket       Socket
	City         string
	Country      string
	RegisteredAt time.Time
}

// PeerInfo is the client-side view of a known peer.
type PeerInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"peer"`
	Support Support      `json:"support"`
	Channel ChannelState `json:"channel"`
	Overdue int          `json:"overdue"`
	RTDelay int64        `json:"rtdelay"`
}

// SessionInfo is a snapshot of a media session.
type SessionInfo struct {
	ID       string       `json:"id"`
	To       string       `json:"to"`
	From     string       `json:"from"`
	Kind     MediaKind    `json:"type"`
	AudioDir Direction    `json:"audiodir,omitempty"`
	VideoDir Direction    `json:"videodir,omitempty"`
	Muted    bool         `json:"muted"`
	State    SessionState `json:"state"`
}

// GeoInfo is the best-effort location of a relay client.
type GeoInfo struct {
	City    string
	Country string
}
