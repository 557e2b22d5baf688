package services

import (
	"testing"

	"hubcom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
	state domain.ChannelState
}

func (m *mockChannel) Open(remote *domain.SDPData) error {
	return m.Called(remote).Error(0)
}

func (m *mockChannel) Send(data any, msgType string) bool {
	return m.Called(data, msgType).Bool(0)
}

func (m *mockChannel) State() domain.ChannelState { return m.state }

func (m *mockChannel) Close() { m.Called() }

type directoryFixture struct {
	dir       *PeerDirectory
	channels  map[string]*mockChannel
	snapshots [][]domain.PeerInfo
}

func newDirectoryFixture() *directoryFixture {
	f := &directoryFixture{channels: make(map[string]*mockChannel)}
	f.dir = NewPeerDirectory(func(id string) peerChannel {
		ch := &mockChannel{state: domain.ChannelClose}
		ch.On("Close").Return()
		f.channels[id] = ch
		return ch
	}, func(peers []domain.PeerInfo) {
		f.snapshots = append(f.snapshots, peers)
	})
	return f
}

func TestPeerDirectory_AddRemoveSnapshots(t *testing.T) {
	f := newDirectoryFixture()

	assert.True(t, f.dir.Add("B", "bob", domain.Support{Audio: 1}))
	assert.True(t, f.dir.Add("A", "alice", domain.Support{}))
	assert.False(t, f.dir.Add("A", "again", domain.Support{}))

	require.Len(t, f.snapshots, 2)
	last := f.snapshots[1]
	require.Len(t, last, 2)
	assert.Equal(t, "A", last[0].ID)
	assert.Equal(t, "alice", last[0].Name)
	assert.Equal(t, domain.ChannelClose, last[0].Channel)
	assert.Equal(t, []string{"A", "B"}, f.dir.IDs())

	assert.True(t, f.dir.Remove("B"))
	assert.False(t, f.dir.Remove("B"))
	f.channels["B"].AssertNumberOfCalls(t, "Close", 1)
	require.Len(t, f.snapshots, 3)
	assert.Len(t, f.snapshots[2], 1)
	assert.False(t, f.dir.Has("B"))
}

func TestPeerDirectory_EvictsOnFourthMiss(t *testing.T) {
	f := newDirectoryFixture()
	f.dir.Add("A", "alice", domain.Support{})
	f.dir.Add("B", "bob", domain.Support{})

	for i := 0; i < maxOverdue; i++ {
		assert.Empty(t, f.dir.Tick())
		f.dir.Pong("B", 12)
	}
	info, ok := f.dir.Get("A")
	require.True(t, ok)
	assert.Equal(t, maxOverdue, info.Overdue)

	evicted := f.dir.Tick()
	assert.Equal(t, []string{"A"}, evicted)
	assert.False(t, f.dir.Has("A"))
	f.channels["A"].AssertCalled(t, "Close")

	info, ok = f.dir.Get("B")
	require.True(t, ok)
	assert.Equal(t, 1, info.Overdue)
	assert.Equal(t, int64(12), info.RTDelay)
}

func TestPeerDirectory_ChannelCloseRemovesPeer(t *testing.T) {
	f := newDirectoryFixture()
	f.dir.Add("A", "alice", domain.Support{})

	f.dir.ChannelState("A", domain.ChannelOpen)
	info, _ := f.dir.Get("A")
	assert.Equal(t, domain.ChannelOpen, info.Channel)

	f.dir.ChannelState("A", domain.ChannelClose)
	assert.False(t, f.dir.Has("A"))
	assert.Equal(t, 0, f.dir.Len())

	// unknown peers are ignored
	f.dir.ChannelState("Z", domain.ChannelClose)
}

func TestPeerDirectory_Clear(t *testing.T) {
	f := newDirectoryFixture()
	f.dir.Add("A", "alice", domain.Support{})
	f.dir.Add("B", "bob", domain.Support{})

	f.dir.Clear()
	assert.Equal(t, 0, f.dir.Len())
	assert.Empty(t, f.dir.Snapshot())
	f.channels["A"].AssertNumberOfCalls(t, "Close", 1)
	f.channels["B"].AssertNumberOfCalls(t, "Close", 1)
}
