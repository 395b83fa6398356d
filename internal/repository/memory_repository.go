package repository

import (
	"context"
	"sync"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
)

// MemoryRepository implements BasketRepository with in-memory storage.
// Stored baskets are deep copies; nothing handed out aliases internal state.
type MemoryRepository struct {
	mu      sync.RWMutex
	baskets map[string]domain.Basket
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{
		baskets: make(map[string]domain.Basket),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryRepository) GetBasket(_ context.Context, id string) (*domain.Basket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	basket, ok := m.baskets[id]
	if !ok || m.expired(basket) {
		return nil, domain.ErrBasketNotFound
	}
	out := basket.Clone()
	return &out, nil
}

func (m *MemoryRepository) CreateBasket(_ context.Context, basket *domain.Basket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.baskets[basket.ID]; ok && !m.expired(existing) {
		return ErrBasketExists
	}

	now := m.now()
	basket.CreatedAt = now
	basket.UpdatedAt = now
	basket.Version = 0
	m.baskets[basket.ID] = basket.Clone()
	return nil
}

func (m *MemoryRepository) SaveBasket(_ context.Context, basket *domain.Basket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.baskets[basket.ID]
	if !ok || m.expired(current) {
		return domain.ErrBasketNotFound
	}
	if current.Version != basket.Version {
		return ErrVersionConflict
	}

	next := basket.Clone()
	next.Version++
	next.UpdatedAt = m.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = current.CreatedAt
	}
	m.baskets[basket.ID] = next
	*basket = next.Clone()
	return nil
}

// Expire drops baskets idle for longer than the TTL and reports how many went.
func (m *MemoryRepository) Expire() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, b := range m.baskets {
		if m.expired(b) {
			delete(m.baskets, id)
			n++
		}
	}
	return n
}

func (m *MemoryRepository) expired(b domain.Basket) bool {
	return m.ttl > 0 && m.now().Sub(b.UpdatedAt) > m.ttl
}
