package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportCanSend(t *testing.T) {
	assert.True(t, TransportConnected.CanSend())
	assert.True(t, TransportRegistered.CanSend())
	assert.False(t, TransportConnecting.CanSend())
	assert.False(t, TransportDisconnected.CanSend())
	assert.False(t, TransportStopped.CanSend())
}

func TestSessionFinishing(t *testing.T) {
	for _, s := range []SessionState{SessionInitialized, SessionPreparing, SessionRequesting, SessionAccepting, SessionOpen} {
		assert.False(t, s.Finishing(), s)
	}
	for _, s := range []SessionState{SessionEnded, SessionCanceled, SessionRejected, SessionTimeout, SessionFailed, SessionClosed} {
		assert.True(t, s.Finishing(), s)
	}
}
