package ports

import (
	"context"
	"time"

	"hubcom/internal/core/domain"
)

// GeoLocator resolves a client IP to a coarse location.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (domain.GeoInfo, error)
}

// RelayMetrics receives relay routing events.
type RelayMetrics interface {
	PeerRegistered(hub string)
	PeerDeregistered(hub string)
	MessageReceived(msgType string)
	MessageRouted(mode string)
	HandlerError(msgType string)
	ObserveHandling(msgType string, d time.Duration)
}

// RelayRouter brokers registration and delivery between relay sockets.
type RelayRouter interface {
	// HandleMessage processes one inbound frame. Failures are contained:
	// the returned error is informational and the socket stays usable.
	HandleMessage(ctx context.Context, sock domain.Socket, payload []byte) error
	// HandleClose deregisters the socket and tells its hub it left.
	HandleClose(ctx context.Context, sock domain.Socket)
}

// SignalingTransport is the client's connection to the relay.
//
// Callbacks are invoked on the engine loop with the engine lock held.
// Methods other than Connect never block on the network for longer than a
// single write.
type SignalingTransport interface {
	Connect(ctx context.Context) error
	Send(data any, msgType, to string) bool
	Close()
	ID() string
	State() domain.TransportState
	OnMessage(func(env *domain.Envelope))
	OnStateChange(func(state domain.TransportState))
	OnError(func(err error))
}

// TransportConfig parametrizes one transport instance.
type TransportConfig struct {
	Peer    string
	Hub     string
	Servers []string
	Support domain.Support
}

// TransportFactory creates transports for the facade.
type TransportFactory interface {
	NewTransport(cfg TransportConfig) SignalingTransport
}
