package domain

// TransportState is the lifecycle of the client connection to the relay.
type TransportState string

const (
	TransportStopped      TransportState = "stopped"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportRegistered   TransportState = "registered"
	TransportDisconnected TransportState = "disconnected"
)

// CanSend reports whether envelopes may be written in this state.
func (s TransportState) CanSend() bool {
	return s == TransportConnected || s == TransportRegistered
}

// NodeState is the lifecycle of the client facade.
type NodeState string

const (
	NodeStopped  NodeState = "stopped"
	NodeStarting NodeState = "starting"
	NodeStarted  NodeState = "started"
	NodeStopping NodeState = "stopping"
)

// ChannelState is the state of a direct signaling channel.
type ChannelState string

const (
	ChannelClose ChannelState = "close"
	ChannelOpen  ChannelState = "open"
)

// SessionState is the lifecycle of a media session.
type SessionState string

const (
	SessionInitialized SessionState = "initialized"
	SessionPreparing   SessionState = "preparing"
	SessionRequesting  SessionState = "requesting"
	SessionAccepting   SessionState = "accepting"
	SessionOpen        SessionState = "open"
	SessionEnded       SessionState = "ended"
	SessionCanceled    SessionState = "canceled"
	SessionRejected    SessionState = "rejected"
	SessionTimeout     SessionState = "timeout"
	SessionFailed      SessionState = "failed"
	SessionClosed      SessionState = "closed"
)

// Finishing reports whether the session has left negotiation for good.
func (s SessionState) Finishing() bool {
	switch s {
	case SessionEnded, SessionCanceled, SessionRejected, SessionTimeout, SessionFailed, SessionClosed:
		return true
	}
	return false
}
