package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used for local development and tests.
type Memory struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*User
	calls       map[uuid.UUID]*CallResource
	streams     map[uuid.UUID]*StreamResource
	settlements []SettlementRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[uuid.UUID]*User),
		calls:   make(map[uuid.UUID]*CallResource),
		streams: make(map[uuid.UUID]*StreamResource),
	}
}

func (m *Memory) UpsertUser(ctx context.Context, publicKey string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.PublicKey == publicKey {
			out := *u
			return &out, nil
		}
	}

	now := time.Now()
	u := &User{ID: uuid.New(), PublicKey: publicKey, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	out := *u
	return &out, nil
}

func (m *Memory) GetUserByPublicKey(ctx context.Context, publicKey string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.PublicKey == publicKey {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) CreateCallResource(ctx context.Context, res *CallResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.calls {
		if existing.GeneratedEndpoint == res.GeneratedEndpoint {
			return ErrConflict
		}
	}

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now

	stored := *res
	m.calls[res.ID] = &stored
	return nil
}

func (m *Memory) GetCallResource(ctx context.Context, generatedEndpoint string) (*CallResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, res := range m.calls {
		if res.GeneratedEndpoint == generatedEndpoint {
			out := *res
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) RecentCallResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]CallResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CallResource
	for _, res := range m.calls {
		if res.OwnerID == ownerID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AddCallRevenue(ctx context.Context, id uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	res.AmountGenerated += amount
	res.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) CreateStreamResource(ctx context.Context, res *StreamResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.streams {
		if existing.GeneratedEndpoint == res.GeneratedEndpoint {
			return ErrConflict
		}
	}

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now

	stored := *res
	m.streams[res.ID] = &stored
	return nil
}

func (m *Memory) GetStreamResource(ctx context.Context, generatedEndpoint string) (*StreamResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, res := range m.streams {
		if res.GeneratedEndpoint == generatedEndpoint {
			out := *res
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) RecentStreamResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]StreamResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StreamResource
	for _, res := range m.streams {
		if res.OwnerID == ownerID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AddStreamRevenue(ctx context.Context, id uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.streams[id]
	if !ok {
		return ErrNotFound
	}
	res.AmountGenerated += amount
	res.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) RecordSettlement(ctx context.Context, rec *SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.settlements = append(m.settlements, *rec)
	return nil
}

// Settlements returns a copy of all recorded settlements, newest last.
// Exposed for tests and local inspection.
func (m *Memory) Settlements() []SettlementRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SettlementRecord, len(m.settlements))
	copy(out, m.settlements)
	return out
}
