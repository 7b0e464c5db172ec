package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/roadside-dispatch/internal/models"
)

var (
	ErrNotFound        = errors.New("storage: request not found")
	ErrAlreadyExists   = errors.New("storage: request already exists")
	ErrVersionConflict = errors.New("storage: version conflict")
)

// RequestStore is the sole write path for service requests. All state
// changes go through CompareAndSwap keyed on the version the caller last
// read; a write against a stale version fails and changes nothing.
type RequestStore interface {
	Get(ctx context.Context, id string) (models.ServiceRequest, error)
	Create(ctx context.Context, r models.ServiceRequest) error
	// CompareAndSwap stores r only if the current record still carries
	// expectedVersion. Returns ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, expectedVersion int64, r models.ServiceRequest) error
	ListByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error)
	ListByProvider(ctx context.Context, providerID string) ([]models.ServiceRequest, error)
	ListPending(ctx context.Context) ([]models.ServiceRequest, error)
}

// MemoryStore keeps requests in a mutex-guarded map. The map lock makes the
// compare-and-swap atomic, which is all the single-process deployment needs.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.ServiceRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]models.ServiceRequest)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.ServiceRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Create(ctx context.Context, r models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return ErrAlreadyExists
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, expectedVersion int64, r models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	return m.list(func(r models.ServiceRequest) bool { return r.CustomerID == customerID }), nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string) ([]models.ServiceRequest, error) {
	return m.list(func(r models.ServiceRequest) bool { return r.ProviderID == providerID }), nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]models.ServiceRequest, error) {
	return m.list(func(r models.ServiceRequest) bool { return r.Status == models.StatusPending }), nil
}

func (m *MemoryStore) list(keep func(models.ServiceRequest) bool) []models.ServiceRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ServiceRequest, 0)
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
