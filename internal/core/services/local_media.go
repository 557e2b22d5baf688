package services

import (
	"sync"

	"hubcom/internal/core/ports"
)

type mediaRef struct {
	stream ports.MediaStream
	owners map[string]struct{}
}

// LocalMedia is the process-wide local capture shared by media sessions.
// Each stream is reference counted by owner (a session id) and stopped
// exactly once, when its last owner lets go and it is not pinned.
type LocalMedia struct {
	mu      sync.Mutex
	refs    map[string]*mediaRef
	current ports.MediaStream
	pinned  bool
}

func NewLocalMedia() *LocalMedia {
	return &LocalMedia{refs: make(map[string]*mediaRef)}
}

// Current returns the shared stream, nil when nothing is captured.
func (m *LocalMedia) Current() ports.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Pinned reports whether the shared stream is held by the application.
func (m *LocalMedia) Pinned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned
}

// Acquire registers owner on the shared stream and returns it, or returns
// nil when there is no shared stream yet.
func (m *LocalMedia) Acquire(owner string) ports.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	m.refLocked(m.current).owners[owner] = struct{}{}
	return m.current
}

// Adopt registers owner on a freshly captured stream. The stream becomes
// the shared one if none exists.
func (m *LocalMedia) Adopt(stream ports.MediaStream, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refLocked(stream).owners[owner] = struct{}{}
	if m.current == nil {
		m.current = stream
	}
}

// Release drops owner's reference to stream.
func (m *LocalMedia) Release(owner string, stream ports.MediaStream) {
	if stream == nil {
		return
	}
	m.mu.Lock()
	ref, ok := m.refs[stream.ID()]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(ref.owners, owner)
	stop := m.collectLocked(ref)
	m.mu.Unlock()

	if stop != nil {
		stop.Stop()
	}
}

// Pin makes stream the shared one and keeps it alive without owners. A
// previously shared stream nobody uses any more is stopped.
func (m *LocalMedia) Pin(stream ports.MediaStream) {
	m.mu.Lock()
	prev := m.current
	m.current = stream
	m.pinned = true
	m.refLocked(stream)

	var stop ports.MediaStream
	if prev != nil && prev.ID() != stream.ID() {
		if ref, ok := m.refs[prev.ID()]; ok {
			stop = m.collectLocked(ref)
		}
	}
	m.mu.Unlock()

	if stop != nil {
		stop.Stop()
	}
}

// Unpin lets the shared stream go once no session holds it.
func (m *LocalMedia) Unpin() {
	m.mu.Lock()
	m.pinned = false
	var stop ports.MediaStream
	if m.current != nil {
		if ref, ok := m.refs[m.current.ID()]; ok {
			stop = m.collectLocked(ref)
		}
	}
	m.mu.Unlock()

	if stop != nil {
		stop.Stop()
	}
}

// Refs returns the number of owners of stream.
func (m *LocalMedia) Refs(stream ports.MediaStream) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[stream.ID()]; ok {
		return len(ref.owners)
	}
	return 0
}

func (m *LocalMedia) refLocked(stream ports.MediaStream) *mediaRef {
	ref, ok := m.refs[stream.ID()]
	if !ok {
		ref = &mediaRef{stream: stream, owners: make(map[string]struct{})}
		m.refs[stream.ID()] = ref
	}
	return ref
}

// collectLocked forgets ref when it is unused and returns the stream the
// caller must stop outside the lock.
func (m *LocalMedia) collectLocked(ref *mediaRef) ports.MediaStream {
	if len(ref.owners) > 0 {
		return nil
	}
	isCurrent := m.current != nil && m.current.ID() == ref.stream.ID()
	if isCurrent && m.pinned {
		return nil
	}
	delete(m.refs, ref.stream.ID())
	if isCurrent {
		m.current = nil
	}
	return ref.stream
}
