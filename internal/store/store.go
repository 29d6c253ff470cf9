// Package store owns persistence of owners, registered resources and
// settlement records. The gateway only reads resources by generated
// endpoint and writes back revenue increments; everything else is serving
// the registration API.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique constraint is violated,
	// e.g. a generated endpoint collides.
	ErrConflict = errors.New("store: conflict")
)

// Resource kinds for settlement records.
const (
	KindCall   = "call"
	KindStream = "stream"
)

// Settlement statuses. Delivery already happened by the time a record is
// written; the status says whether billing caught up.
const (
	SettlementOK     = "ok"
	SettlementFailed = "failed"
)

// User is an owner identity keyed by wallet public key.
type User struct {
	ID        uuid.UUID
	PublicKey string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallResource is a registered upstream HTTP endpoint priced per request.
type CallResource struct {
	ID                uuid.UUID
	Name              string
	Description       string
	GeneratedEndpoint string
	ServiceURL        string
	Method            string
	PricePerRequest   float64
	AmountGenerated   float64
	OwnerID           uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StreamResource is a registered upstream websocket endpoint billed once
// per session.
type StreamResource struct {
	ID                uuid.UUID
	Name              string
	GeneratedEndpoint string
	ServiceURL        string
	OwnerID           uuid.UUID
	PricePerMinute    float64
	BillingMode       string
	SessionTTLSeconds int
	AmountGenerated   float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SettlementRecord is the reconciliation trail for delivered traffic:
// one row per settlement attempt, successful or not.
type SettlementRecord struct {
	ID           uuid.UUID
	ResourceKind string
	ResourceID   uuid.UUID
	Amount       float64
	Status       string
	Receipt      string
	Payer        string
	CreatedAt    time.Time
}

// Store is the record store consulted by the gateways and the registration
// API. Revenue increments must be atomic under concurrent settlements for
// the same resource.
type Store interface {
	UpsertUser(ctx context.Context, publicKey string) (*User, error)
	GetUserByPublicKey(ctx context.Context, publicKey string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	CreateCallResource(ctx context.Context, res *CallResource) error
	GetCallResource(ctx context.Context, generatedEndpoint string) (*CallResource, error)
	RecentCallResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]CallResource, error)
	AddCallRevenue(ctx context.Context, id uuid.UUID, amount float64) error

	CreateStreamResource(ctx context.Context, res *StreamResource) error
	GetStreamResource(ctx context.Context, generatedEndpoint string) (*StreamResource, error)
	RecentStreamResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]StreamResource, error)
	AddStreamRevenue(ctx context.Context, id uuid.UUID, amount float64) error

	RecordSettlement(ctx context.Context, rec *SettlementRecord) error
}
