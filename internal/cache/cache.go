package cache

import (
	"context"
	"sync"
	"time"

	"cafepos/backend/internal/domain"
)

// CatalogCache holds the product list between catalog fetches. A miss is
// reported with ok=false and a nil error.
type CatalogCache interface {
	GetProducts(ctx context.Context) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetProducts(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProducts(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context) error {
	return nil
}

// MemoryCatalogCache is a process-local cache used when Redis is not configured.
type MemoryCatalogCache struct {
	mu        sync.RWMutex
	products  []domain.Product
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryCatalogCache() *MemoryCatalogCache {
	return &MemoryCatalogCache{now: time.Now}
}

func (c *MemoryCatalogCache) GetProducts(_ context.Context) ([]domain.Product, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.products == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	return append([]domain.Product(nil), c.products...), true, nil
}

func (c *MemoryCatalogCache) SetProducts(_ context.Context, products []domain.Product, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = append(make([]domain.Product, 0, len(products)), products...)
	c.expiresAt = c.now().Add(ttl)
	return nil
}

func (c *MemoryCatalogCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = nil
	c.expiresAt = time.Time{}
	return nil
}
