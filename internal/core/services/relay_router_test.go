package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/infrastructure/repositories/memory"
	"hubcom/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockRelayMetrics struct {
	mock.Mock
}

func (m *MockRelayMetrics) PeerRegistered(hub string)   { m.Called(hub) }
func (m *MockRelayMetrics) PeerDeregistered(hub string) { m.Called(hub) }
func (m *MockRelayMetrics) MessageReceived(t string)    { m.Called(t) }
func (m *MockRelayMetrics) MessageRouted(mode string)   { m.Called(mode) }
func (m *MockRelayMetrics) HandlerError(t string)       { m.Called(t) }
func (m *MockRelayMetrics) ObserveHandling(t string, d time.Duration) {
	m.Called(t, d)
}

func newMockRelayMetrics() *MockRelayMetrics {
	m := &MockRelayMetrics{}
	m.On("PeerRegistered", mock.Anything).Maybe()
	m.On("PeerDeregistered", mock.Anything).Maybe()
	m.On("MessageReceived", mock.Anything).Maybe()
	m.On("MessageRouted", mock.Anything).Maybe()
	m.On("HandlerError", mock.Anything).Maybe()
	m.On("ObserveHandling", mock.Anything, mock.Anything).Maybe()
	return m
}

type MockGeoLocator struct {
	mock.Mock
}

func (m *MockGeoLocator) Lookup(ctx context.Context, ip string) (domain.GeoInfo, error) {
	args := m.Called(ctx, ip)
	return args.Get(0).(domain.GeoInfo), args.Error(1)
}

type fakeSocket struct {
	id   string
	addr string

	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func newFakeSocket(id, addr string) *fakeSocket {
	return &fakeSocket{id: id, addr: addr}
}

func (s *fakeSocket) ID() string         { return s.id }
func (s *fakeSocket) RemoteAddr() string { return s.addr }

func (s *fakeSocket) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("socket closed")
	}
	s.sent = append(s.sent, append([]byte(nil), payload...))
	return nil
}

func (s *fakeSocket) envelopes(t *testing.T) []*domain.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Envelope, 0, len(s.sent))
	for _, raw := range s.sent {
		env, err := domain.ParseEnvelope(raw)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *fakeSocket) raw() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *fakeSocket) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

type routerFixture struct {
	router  *relayRouter
	metrics *MockRelayMetrics
}

func newRouterFixture(t *testing.T) *routerFixture {
	metrics := newMockRelayMetrics()
	r := NewRelayRouter(
		memory.NewMemoryHubRegistry(),
		nil,
		metrics,
		logger.NewContextLogger(zaptest.NewLogger(t)),
		time.Second,
	).(*relayRouter)
	r.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return &routerFixture{router: r, metrics: metrics}
}

func (f *routerFixture) send(t *testing.T, sock *fakeSocket, msg string) {
	t.Helper()
	require.NoError(t, f.router.HandleMessage(context.Background(), sock, []byte(msg)))
}

func (f *routerFixture) hi(t *testing.T, sock *fakeSocket, hub, peer string) {
	t.Helper()
	f.send(t, sock, `{"hub":"`+hub+`","type":"hi","data":{"peer":"`+peer+`","ts":1699999999900},"ts":0}`)
}

func TestRelayRouter_HelloRepliesHo(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "127.0.0.1:8080")

	f.hi(t, alice, "lobby", "alice")

	got := alice.envelopes(t)
	require.Len(t, got, 1)
	ho := got[0]
	assert.Equal(t, domain.TypeHo, ho.Type)
	assert.Equal(t, "7F0000011F90", ho.From)
	assert.Equal(t, "lobby", ho.Hub)
	assert.Equal(t, int64(1_700_000_000_000), ho.TS)

	var data domain.HelloData
	require.NoError(t, ho.DecodeData(&data))
	assert.Equal(t, domain.ResultSuccess, data.Result)
	assert.Equal(t, int64(1699999999900), data.TS)
	assert.Equal(t, "alice", data.Peer)

	assert.Equal(t, 1, f.router.registry.Count())
	f.metrics.AssertCalled(t, "PeerRegistered", "lobby")
}

func TestRelayRouter_RegistrationIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "127.0.0.1:8080")

	f.hi(t, alice, "lobby", "alice")
	f.hi(t, alice, "lobby", "alice")

	assert.Equal(t, 1, f.router.registry.Count())
	f.metrics.AssertNumberOfCalls(t, "PeerRegistered", 2)
	f.metrics.AssertNumberOfCalls(t, "PeerDeregistered", 1)
}

func TestRelayRouter_BroadcastExcludesSenderAndStaysInHub(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	carol := newFakeSocket("s-carol", "10.0.0.3:1000")
	dave := newFakeSocket("s-dave", "10.0.0.4:1000")

	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	f.hi(t, carol, "lobby", "carol")
	f.hi(t, dave, "other", "dave")
	for _, s := range []*fakeSocket{alice, bob, carol, dave} {
		s.reset()
	}

	msg := `{"hub":"lobby","from":"0A00000103E8","type":"chat","data":{"text":"hi all"},"ts":42,"extra":true}`
	f.send(t, alice, msg)

	assert.Empty(t, alice.raw())
	assert.Empty(t, dave.raw())
	for _, s := range []*fakeSocket{bob, carol} {
		raw := s.raw()
		require.Len(t, raw, 1)
		// forwarded verbatim, unknown fields included
		assert.Equal(t, msg, string(raw[0]))
	}
	f.metrics.AssertCalled(t, "MessageRouted", RouteBroadcast)
}

func TestRelayRouter_HelloIsForwardedWithConnID(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")

	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")

	got := alice.envelopes(t)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TypeHo, got[0].Type)
	assert.Equal(t, domain.TypeHi, got[1].Type)
	assert.Equal(t, "0A00000203E8", got[1].From)
}

func TestRelayRouter_Unicast(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	carol := newFakeSocket("s-carol", "10.0.0.3:1000")
	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	f.hi(t, carol, "lobby", "carol")
	alice.reset()
	bob.reset()
	carol.reset()

	f.send(t, alice, `{"hub":"lobby","to":"0A00000203E8","type":"sdp","data":{},"ts":1}`)
	assert.Len(t, bob.raw(), 1)
	assert.Empty(t, carol.raw())

	// unknown target: dropped without error
	f.send(t, alice, `{"hub":"lobby","to":"FFFFFFFFFFFF","type":"sdp","data":{},"ts":1}`)
	assert.Len(t, bob.raw(), 1)
	assert.Empty(t, carol.raw())
	assert.Empty(t, alice.raw())
	f.metrics.AssertCalled(t, "MessageRouted", RouteDropped)
}

func TestRelayRouter_QueryRepliesAndIsNotForwarded(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	alice.reset()
	bob.reset()

	f.send(t, alice, `{"hub":"lobby","type":"query","data":{"hub":"lobby"},"ts":1}`)
	f.send(t, alice, `{"hub":"lobby","type":"query","data":{"hub":"nowhere"},"ts":1}`)

	got := alice.envelopes(t)
	require.Len(t, got, 2)
	var q domain.QueryData
	require.NoError(t, got[0].DecodeData(&q))
	assert.Equal(t, domain.TypeReply, got[0].Type)
	assert.Equal(t, "true", q.Reply)
	require.NoError(t, got[1].DecodeData(&q))
	assert.Equal(t, "false", q.Reply)
	assert.Empty(t, bob.raw())
}

func TestRelayRouter_BeaconIsNotForwarded(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	alice.reset()
	bob.reset()

	f.send(t, alice, `{"hub":"lobby","to":"0A00000103E8","type":"beacon","data":{},"ts":1}`)
	assert.Empty(t, alice.raw())
	assert.Empty(t, bob.raw())
}

func TestRelayRouter_ByeRemovesAndForwards(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	bob.reset()

	f.send(t, alice, `{"hub":"lobby","from":"0A00000103E8","type":"bye","ts":1}`)

	assert.Equal(t, 1, f.router.registry.Count())
	got := bob.envelopes(t)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeBye, got[0].Type)

	// closing after bye does not announce twice
	f.router.HandleClose(context.Background(), alice)
	assert.Len(t, bob.raw(), 1)
}

func TestRelayRouter_CloseAnnouncesBye(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	bob := newFakeSocket("s-bob", "10.0.0.2:1000")
	dave := newFakeSocket("s-dave", "10.0.0.4:1000")
	f.hi(t, alice, "lobby", "alice")
	f.hi(t, bob, "lobby", "bob")
	f.hi(t, dave, "other", "dave")
	bob.reset()
	dave.reset()

	f.router.HandleClose(context.Background(), alice)

	got := bob.envelopes(t)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeBye, got[0].Type)
	assert.Equal(t, "0A00000103E8", got[0].From)
	assert.Equal(t, "lobby", got[0].Hub)
	assert.Empty(t, dave.raw())
	assert.Equal(t, 2, f.router.registry.Count())
	f.metrics.AssertCalled(t, "PeerDeregistered", "lobby")
}

func TestRelayRouter_MalformedInputIsContained(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	f.hi(t, alice, "lobby", "alice")

	err := f.router.HandleMessage(context.Background(), alice, []byte(`{not json`))
	assert.Error(t, err)
	f.metrics.AssertCalled(t, "HandlerError", "invalid")

	// a query with a non-object payload fails but the socket stays registered
	err = f.router.HandleMessage(context.Background(), alice, []byte(`{"hub":"lobby","type":"query","data":"x","ts":1}`))
	assert.Error(t, err)

	assert.NoError(t, f.router.HandleMessage(context.Background(), alice, nil))
	assert.Equal(t, 1, f.router.registry.Count())
}

type panickingSocket struct{ *fakeSocket }

func (p panickingSocket) RemoteAddr() string { panic("peername unavailable") }

func TestRelayRouter_PanicIsRecovered(t *testing.T) {
	f := newRouterFixture(t)
	sock := panickingSocket{newFakeSocket("s-x", "")}

	var err error
	assert.NotPanics(t, func() {
		err = f.router.HandleMessage(context.Background(), sock, []byte(`{"hub":"lobby","type":"hi","ts":1}`))
	})
	assert.Error(t, err)
	f.metrics.AssertCalled(t, "HandlerError", "hi")
}

func TestRelayRouter_GeoLookupUpdatesRecord(t *testing.T) {
	f := newRouterFixture(t)
	geo := &MockGeoLocator{}
	geo.On("Lookup", mock.Anything, "10.0.0.1").Return(domain.GeoInfo{City: "Porto", Country: "Portugal"}, nil)
	f.router.geo = geo

	alice := newFakeSocket("s-alice", "10.0.0.1:1000")
	f.hi(t, alice, "lobby", "alice")

	require.Eventually(t, func() bool {
		rec, err := f.router.registry.GetBySocket(context.Background(), "s-alice")
		return err == nil && rec.City == "Porto"
	}, time.Second, 5*time.Millisecond)
	geo.AssertExpectations(t)
}

func TestRelayRouter_HoForNonObjectPayload(t *testing.T) {
	f := newRouterFixture(t)
	alice := newFakeSocket("s-alice", "10.0.0.1:1000")

	f.send(t, alice, `{"hub":"lobby","type":"hi","data":"hello","ts":1}`)

	got := alice.envelopes(t)
	require.Len(t, got, 1)
	var data map[string]any
	require.NoError(t, json.Unmarshal(got[0].Data, &data))
	assert.Equal(t, domain.ResultSuccess, data["result"])
}
