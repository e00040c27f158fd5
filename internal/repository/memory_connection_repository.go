package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
)

// MemoryConnectionRepository keeps connections in process memory.
// Suitable for development and tests only.
type MemoryConnectionRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Connection
}

// NewMemoryConnectionRepository creates an empty in-memory repository
func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{items: make(map[string]*domain.Connection)}
}

func memoryKey(merchantID, provider string) string {
	return merchantID + "\x00" + provider
}

func (r *MemoryConnectionRepository) Get(_ context.Context, merchantID, provider string) (*domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.items[memoryKey(merchantID, provider)]
	if !ok {
		return nil, fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
	}
	return conn.Clone(), nil
}

func (r *MemoryConnectionRepository) Upsert(_ context.Context, conn *domain.Connection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[memoryKey(conn.MerchantID, conn.Provider)] = conn.Clone()
	return nil
}

func (r *MemoryConnectionRepository) Delete(_ context.Context, merchantID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey(merchantID, provider)
	if _, ok := r.items[key]; !ok {
		return fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
	}
	delete(r.items, key)
	return nil
}

func (r *MemoryConnectionRepository) Ping(context.Context) error {
	return nil
}
