package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"
)

// MemoryHubRegistry keeps relay registrations indexed by socket and by
// connection id. One record per live socket.
type MemoryHubRegistry struct {
	bySocket map[string]*domain.PeerRecord
	byConn   map[string]string
	hubs     map[string]int
	mu       sync.RWMutex
}

func NewMemoryHubRegistry() ports.HubRegistry {
	return &MemoryHubRegistry{
		bySocket: make(map[string]*domain.PeerRecord),
		byConn:   make(map[string]string),
		hubs:     make(map[string]int),
	}
}

func (r *MemoryHubRegistry) Register(ctx context.Context, rec *domain.PeerRecord) (*domain.PeerRecord, error) {
	if rec == nil || rec.Socket == nil {
		return nil, fmt.Errorf("register: record without socket")
	}
	socketID := rec.Socket.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	retired := r.removeLocked(socketID)

	r.bySocket[socketID] = rec
	r.byConn[rec.ConnID] = socketID
	r.hubs[rec.Hub]++
	return retired, nil
}

func (r *MemoryHubRegistry) RemoveBySocket(ctx context.Context, socketID string) (*domain.PeerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.removeLocked(socketID)
	if rec == nil {
		return nil, domain.ErrPeerNotFound
	}
	return rec, nil
}

func (r *MemoryHubRegistry) removeLocked(socketID string) *domain.PeerRecord {
	rec, exists := r.bySocket[socketID]
	if !exists {
		return nil
	}
	delete(r.bySocket, socketID)
	if r.byConn[rec.ConnID] == socketID {
		delete(r.byConn, rec.ConnID)
	}
	if r.hubs[rec.Hub]--; r.hubs[rec.Hub] <= 0 {
		delete(r.hubs, rec.Hub)
	}
	return rec
}

func (r *MemoryHubRegistry) GetBySocket(ctx context.Context, socketID string) (*domain.PeerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.bySocket[socketID]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	return rec, nil
}

func (r *MemoryHubRegistry) GetByConn(ctx context.Context, connID string) (*domain.PeerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	socketID, exists := r.byConn[connID]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	return r.bySocket[socketID], nil
}

// FindByHub returns a snapshot of the hub's records, oldest first.
func (r *MemoryHubRegistry) FindByHub(ctx context.Context, hub string) ([]*domain.PeerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.PeerRecord
	for _, rec := range r.bySocket {
		if rec.Hub == hub {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RegisteredAt.Before(records[j].RegisteredAt)
	})
	return records, nil
}

func (r *MemoryHubRegistry) HubExists(ctx context.Context, hub string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hubs[hub] > 0
}

func (r *MemoryHubRegistry) UpdateGeo(ctx context.Context, socketID string, geo domain.GeoInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.bySocket[socketID]
	if !exists {
		return domain.ErrPeerNotFound
	}
	// Records handed out are never mutated; swap in an updated copy.
	updated := *rec
	updated.City = geo.City
	updated.Country = geo.Country
	r.bySocket[socketID] = &updated
	return nil
}

func (r *MemoryHubRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySocket)
}

func (r *MemoryHubRegistry) HubCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hubs)
}
