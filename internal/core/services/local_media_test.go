package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalMedia_ReleasesOnLastOwner(t *testing.T) {
	m := NewLocalMedia()
	assert.Nil(t, m.Acquire("s1"))

	stream := newFakeStream(1, 0)
	m.Adopt(stream, "s1")
	assert.Same(t, stream, m.Current())

	got := m.Acquire("s2")
	assert.Same(t, stream, got)
	assert.Equal(t, 2, m.Refs(stream))

	m.Release("s1", stream)
	assert.Equal(t, int32(0), stream.stops.Load())
	assert.Same(t, stream, m.Current())

	m.Release("s2", stream)
	assert.Equal(t, int32(1), stream.stops.Load())
	assert.Nil(t, m.Current())

	// releasing again must not stop twice
	m.Release("s2", stream)
	m.Release("s1", stream)
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestLocalMedia_SecondCaptureDoesNotReplaceShared(t *testing.T) {
	m := NewLocalMedia()
	first := newFakeStream(1, 0)
	second := newFakeStream(1, 0)

	m.Adopt(first, "s1")
	m.Adopt(second, "s2")
	assert.Same(t, first, m.Current())

	m.Release("s2", second)
	assert.Equal(t, int32(1), second.stops.Load())
	assert.Equal(t, int32(0), first.stops.Load())
}

func TestLocalMedia_PinnedSurvivesSessions(t *testing.T) {
	m := NewLocalMedia()
	stream := newFakeStream(1, 1)

	m.Pin(stream)
	assert.True(t, m.Pinned())
	assert.Same(t, stream, m.Acquire("s1"))

	m.Release("s1", stream)
	assert.Equal(t, int32(0), stream.stops.Load())
	assert.Same(t, stream, m.Current())

	m.Unpin()
	assert.False(t, m.Pinned())
	assert.Equal(t, int32(1), stream.stops.Load())
	assert.Nil(t, m.Current())
}

func TestLocalMedia_UnpinWaitsForSessions(t *testing.T) {
	m := NewLocalMedia()
	stream := newFakeStream(1, 0)

	m.Pin(stream)
	m.Acquire("s1")
	m.Unpin()
	assert.Equal(t, int32(0), stream.stops.Load())

	m.Release("s1", stream)
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestLocalMedia_PinReplacesUnusedStream(t *testing.T) {
	m := NewLocalMedia()
	old := newFakeStream(1, 0)
	fresh := newFakeStream(1, 0)

	m.Pin(old)
	m.Pin(fresh)
	assert.Equal(t, int32(1), old.stops.Load())
	assert.Same(t, fresh, m.Current())
}
