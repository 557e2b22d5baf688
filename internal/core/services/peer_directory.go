package services

import (
	"sort"

	"hubcom/internal/core/domain"
)

// maxOverdue is the number of unanswered pings a peer may accumulate.
// The next miss evicts it.
const maxOverdue = 3

type peerChannel interface {
	Open(remote *domain.SDPData) error
	Send(data any, msgType string) bool
	State() domain.ChannelState
	Close()
}

type peerEntry struct {
	info    domain.PeerInfo
	channel peerChannel
}

// PeerDirectory is the table of peers known in the hub. It is driven from
// the engine loop and holds no lock of its own.
type PeerDirectory struct {
	peers      map[string]*peerEntry
	newChannel func(id string) peerChannel
	onChange   func(peers []domain.PeerInfo)
}

func NewPeerDirectory(newChannel func(id string) peerChannel, onChange func([]domain.PeerInfo)) *PeerDirectory {
	if onChange == nil {
		onChange = func([]domain.PeerInfo) {}
	}
	return &PeerDirectory{
		peers:      make(map[string]*peerEntry),
		newChannel: newChannel,
		onChange:   onChange,
	}
}

// Add inserts a peer with a fresh channel. It returns false and leaves the
// table untouched if the id is already known.
func (d *PeerDirectory) Add(id, name string, support domain.Support) bool {
	if _, ok := d.peers[id]; ok {
		return false
	}
	d.peers[id] = &peerEntry{
		info: domain.PeerInfo{
			ID:      id,
			Name:    name,
			Support: support,
			Channel: domain.ChannelClose,
		},
		channel: d.newChannel(id),
	}
	d.onChange(d.Snapshot())
	return true
}

// Remove closes the peer's channel and drops it.
func (d *PeerDirectory) Remove(id string) bool {
	entry, ok := d.peers[id]
	if !ok {
		return false
	}
	delete(d.peers, id)
	entry.channel.Close()
	d.onChange(d.Snapshot())
	return true
}

// Tick counts one more unanswered ping for every peer and evicts the ones
// past maxOverdue. It returns the evicted ids.
func (d *PeerDirectory) Tick() []string {
	var evicted []string
	for _, id := range d.IDs() {
		entry := d.peers[id]
		entry.info.Overdue++
		if entry.info.Overdue > maxOverdue {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		d.Remove(id)
	}
	return evicted
}

// Pong records a liveness answer.
func (d *PeerDirectory) Pong(id string, delay int64) {
	if entry, ok := d.peers[id]; ok {
		entry.info.Overdue = 0
		entry.info.RTDelay = delay
	}
}

// ChannelState records a channel transition. A channel that closes takes
// its peer with it.
func (d *PeerDirectory) ChannelState(id string, state domain.ChannelState) {
	entry, ok := d.peers[id]
	if !ok {
		return
	}
	entry.info.Channel = state
	if state == domain.ChannelClose {
		d.Remove(id)
	}
}

func (d *PeerDirectory) Channel(id string) (peerChannel, bool) {
	entry, ok := d.peers[id]
	if !ok {
		return nil, false
	}
	return entry.channel, true
}

func (d *PeerDirectory) Has(id string) bool {
	_, ok := d.peers[id]
	return ok
}

func (d *PeerDirectory) Len() int { return len(d.peers) }

// IDs returns the known ids in sorted order.
func (d *PeerDirectory) IDs() []string {
	ids := make([]string, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *PeerDirectory) Get(id string) (domain.PeerInfo, bool) {
	entry, ok := d.peers[id]
	if !ok {
		return domain.PeerInfo{}, false
	}
	return entry.info, true
}

// Snapshot copies the whole table.
func (d *PeerDirectory) Snapshot() []domain.PeerInfo {
	out := make([]domain.PeerInfo, 0, len(d.peers))
	for _, id := range d.IDs() {
		out = append(out, d.peers[id].info)
	}
	return out
}

// Clear removes every peer.
func (d *PeerDirectory) Clear() {
	for _, id := range d.IDs() {
		d.Remove(id)
	}
}
