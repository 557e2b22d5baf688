package domain

import "errors"

var (
	ErrPeerNotFound    = errors.New("peer not found")
	ErrSessionNotFound = errors.New("media session not found")
	ErrNotStarted      = errors.New("not started")
	ErrNotConnected    = errors.New("transport not connected")
	ErrChannelNotOpen  = errors.New("direct channel not open")
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrNotImplemented  = errors.New("not implemented")
	ErrNoMedia         = errors.New("media capture unavailable")
	ErrNegotiation     = errors.New("connectivity negotiation failed")
)
