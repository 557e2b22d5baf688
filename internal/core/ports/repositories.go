package ports

import (
	"context"

	"hubcom/internal/core/domain"
)

// HubRegistry is the relay's live table of registered sockets.
// Every method is atomic with respect to the others.
type HubRegistry interface {
	// Register inserts rec, first retiring any record held by the same socket.
	Register(ctx context.Context, rec *domain.PeerRecord) (retired *domain.PeerRecord, err error)
	RemoveBySocket(ctx context.Context, socketID string) (*domain.PeerRecord, error)
	GetBySocket(ctx context.Context, socketID string) (*domain.PeerRecord, error)
	GetByConn(ctx context.Context, connID string) (*domain.PeerRecord, error)
	FindByHub(ctx context.Context, hub string) ([]*domain.PeerRecord, error)
	HubExists(ctx context.Context, hub string) bool
	UpdateGeo(ctx context.Context, socketID string, geo domain.GeoInfo) error
	Count() int
	HubCount() int
}
