package services

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// channelHarness wires two direct channels, A and B, on one engine. Their
// sdp messages go through a JSON round trip instead of a relay.
type channelHarness struct {
	eng *engine.Engine
	net *fakeNet
	a   *DirectChannel
	b   *DirectChannel

	mu       sync.Mutex
	states   map[string][]domain.ChannelState
	messages map[string][]*domain.Envelope
	errs     []error
	sdps     map[string][]domain.SDPData
}

func newChannelHarness(t *testing.T) *channelHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	h := &channelHarness{
		eng:      engine.New(logger),
		net:      newFakeNet(),
		states:   make(map[string][]domain.ChannelState),
		messages: make(map[string][]*domain.Envelope),
		sdps:     make(map[string][]domain.SDPData),
	}
	t.Cleanup(h.eng.Close)
	now := h.eng.Clock().WallMillis()
	h.eng.Clock().Calibrate(now, now)

	h.a = newDirectChannel("B", h.deps("A", func() *DirectChannel { return h.b }, logger))
	h.b = newDirectChannel("A", h.deps("B", func() *DirectChannel { return h.a }, logger))
	return h
}

func (h *channelHarness) deps(self string, other func() *DirectChannel, logger *zap.SugaredLogger) channelDeps {
	return channelDeps{
		eng:     h.eng,
		pcs:     h.net,
		support: domain.Support{Audio: 1, Video: 1},
		self:    func() string { return self },
		relay: func(data any, msgType, to string) bool {
			raw, err := json.Marshal(data)
			if err != nil {
				return false
			}
			var sdp domain.SDPData
			if err := json.Unmarshal(raw, &sdp); err != nil {
				return false
			}
			h.mu.Lock()
			h.sdps[self] = append(h.sdps[self], sdp)
			h.mu.Unlock()
			h.eng.Post(func() { _ = other().Open(&sdp) })
			return true
		},
		quiet: 50 * time.Millisecond,
		log:   logger,
		onState: func(peer string, s domain.ChannelState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states[self] = append(h.states[self], s)
		},
		onMessage: func(env *domain.Envelope) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.messages[self] = append(h.messages[self], env)
		},
		onError: func(peer string, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errs = append(h.errs, err)
		},
	}
}

func (h *channelHarness) locked(fn func()) {
	h.eng.Lock()
	defer h.eng.Unlock()
	fn()
}

func (h *channelHarness) statesOf(side string) []domain.ChannelState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ChannelState(nil), h.states[side]...)
}

func (h *channelHarness) sdpsOf(side string) []domain.SDPData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SDPData(nil), h.sdps[side]...)
}

func (h *channelHarness) message(side, msgType string) *domain.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, env := range h.messages[side] {
		if env.Type == msgType {
			return env
		}
	}
	return nil
}

func (h *channelHarness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *channelHarness) open(t *testing.T) {
	t.Helper()
	h.locked(func() { require.NoError(t, h.a.Open(nil)) })
	require.Eventually(t, func() bool {
		return len(h.statesOf("A")) == 1 && len(h.statesOf("B")) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDirectChannel_NegotiatesWithOneBatchPerSide(t *testing.T) {
	h := newChannelHarness(t)
	h.open(t)

	assert.Equal(t, []domain.ChannelState{domain.ChannelOpen}, h.statesOf("A"))
	assert.Equal(t, []domain.ChannelState{domain.ChannelOpen}, h.statesOf("B"))

	// let any stray debounce fire before counting
	time.Sleep(100 * time.Millisecond)

	offers := h.sdpsOf("A")
	require.Len(t, offers, 1)
	require.NotNil(t, offers[0].SDP)
	assert.Equal(t, "offer", offers[0].SDP.Type.String())
	assert.Len(t, offers[0].Conn, 1)
	require.NotNil(t, offers[0].Support)
	assert.Equal(t, 1, offers[0].Support.Video)

	answers := h.sdpsOf("B")
	require.Len(t, answers, 1)
	assert.Equal(t, "answer", answers[0].SDP.Type.String())

	h.locked(func() {
		assert.Equal(t, domain.ChannelOpen, h.a.State())
		assert.Equal(t, domain.ChannelOpen, h.b.State())
	})
}

func TestDirectChannel_SendAndInlinePing(t *testing.T) {
	h := newChannelHarness(t)

	h.locked(func() { assert.False(t, h.a.Send("early", "chat")) })
	h.open(t)

	h.locked(func() { assert.True(t, h.a.Send(map[string]string{"text": "hello"}, "chat")) })
	require.Eventually(t, func() bool { return h.message("B", "chat") != nil }, 2*time.Second, 10*time.Millisecond)
	chat := h.message("B", "chat")
	assert.Equal(t, "A", chat.From)
	assert.Equal(t, domain.ViaDirect, chat.Via)
	assert.NotZero(t, chat.TS)
	var body map[string]string
	require.NoError(t, json.Unmarshal(chat.Data, &body))
	assert.Equal(t, "hello", body["text"])

	h.locked(func() { assert.True(t, h.a.Send("", domain.TypePing)) })
	require.Eventually(t, func() bool { return h.message("A", domain.TypePong) != nil }, 2*time.Second, 10*time.Millisecond)
	pong := h.message("A", domain.TypePong)
	assert.Equal(t, "B", pong.From)
	assert.Equal(t, domain.ViaDirect, pong.Via)
	var pd domain.PongData
	require.NoError(t, pong.DecodeData(&pd))
	assert.NotZero(t, pd.TsArv)
	assert.GreaterOrEqual(t, pd.Delay, int64(0))
	assert.Nil(t, h.message("B", domain.TypePing))
}

func TestDirectChannel_RemoteCloseReported(t *testing.T) {
	h := newChannelHarness(t)
	h.open(t)

	h.locked(func() {
		h.a.Close()
		h.a.Close()
		assert.False(t, h.a.Send("late", "chat"))
	})

	require.Eventually(t, func() bool { return len(h.statesOf("B")) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.ChannelState{domain.ChannelOpen, domain.ChannelClose}, h.statesOf("B"))
	assert.Equal(t, []domain.ChannelState{domain.ChannelOpen}, h.statesOf("A"))
}

func TestDirectChannel_ICEFailureStaysClosed(t *testing.T) {
	h := newChannelHarness(t)
	h.net.setFailICE(true)

	h.locked(func() { require.NoError(t, h.a.Open(nil)) })
	require.Eventually(t, func() bool { return len(h.errors()) == 2 }, 3*time.Second, 10*time.Millisecond)

	for _, err := range h.errors() {
		assert.ErrorIs(t, err, domain.ErrNegotiation)
	}
	assert.Empty(t, h.statesOf("A"))
	assert.Empty(t, h.statesOf("B"))
	h.locked(func() {
		assert.Equal(t, domain.ChannelClose, h.a.State())
		assert.False(t, h.a.Send("x", "chat"))
	})
}

func TestDirectChannel_PeerConnectionUnavailable(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	eng := engine.New(logger)
	t.Cleanup(eng.Close)
	net := newFakeNet()
	net.failNew = true

	ch := newDirectChannel("B", channelDeps{eng: eng, pcs: net, log: logger})
	eng.Lock()
	defer eng.Unlock()
	assert.ErrorIs(t, ch.Open(nil), domain.ErrNegotiation)
	ch.Close()
	assert.ErrorIs(t, ch.Open(nil), domain.ErrInvalidState)
}
