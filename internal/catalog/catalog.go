package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cafepos/backend/internal/cache"
	"cafepos/backend/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrAddOnNotFound   = errors.New("add-on not found")
)

// Source is the product and add-on read API.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListAddOns(ctx context.Context) ([]domain.AddOn, error)
}

var DefaultSizeEligible = []string{"coffee", "tea", "cold drinks"}

// DefaultAddOns is served when the add-on API cannot be reached.
var DefaultAddOns = []domain.AddOn{
	{ID: "addon-extra-shot", Name: "Extra shot", Category: "coffee", AdditionalPrice: 500},
	{ID: "addon-oat-milk", Name: "Oat milk", Category: "coffee", AdditionalPrice: 700},
	{ID: "addon-vanilla", Name: "Vanilla syrup", Category: "coffee", AdditionalPrice: 400},
	{ID: "addon-honey", Name: "Honey", Category: "tea", AdditionalPrice: 300},
	{ID: "addon-butter", Name: "Butter", Category: "bakery", AdditionalPrice: 200},
}

type Options struct {
	Cache          cache.CatalogCache
	TTL            time.Duration
	SizeEligible   []string
	FallbackAddOns []domain.AddOn
	Logger         *zap.Logger
}

// Catalog is the read side of products and add-ons. Products are served
// from the snapshot cache when warm; RefreshProducts always asks the source
// and writes the fresh snapshot through.
type Catalog struct {
	source       Source
	cache        cache.CatalogCache
	ttl          time.Duration
	sizeEligible map[string]struct{}
	fallback     []domain.AddOn
	logger       *zap.Logger

	mu         sync.RWMutex
	lastAddOns []domain.AddOn
}

func New(source Source, opts Options) *Catalog {
	if opts.Cache == nil {
		opts.Cache = cache.NoopCatalogCache{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SizeEligible == nil {
		opts.SizeEligible = DefaultSizeEligible
	}
	if opts.FallbackAddOns == nil {
		opts.FallbackAddOns = DefaultAddOns
	}

	eligible := make(map[string]struct{}, len(opts.SizeEligible))
	for _, category := range opts.SizeEligible {
		eligible[normalizeCategory(category)] = struct{}{}
	}

	return &Catalog{
		source:       source,
		cache:        opts.Cache,
		ttl:          opts.TTL,
		sizeEligible: eligible,
		fallback:     append([]domain.AddOn(nil), opts.FallbackAddOns...),
		logger:       opts.Logger.Named("catalog"),
	}
}

func (c *Catalog) Products(ctx context.Context) ([]domain.Product, error) {
	products, ok, err := c.cache.GetProducts(ctx)
	if err != nil {
		c.logger.Warn("catalog cache read failed", zap.Error(err))
	}
	if ok {
		return products, nil
	}
	return c.RefreshProducts(ctx)
}

func (c *Catalog) RefreshProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := c.source.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if err := c.cache.SetProducts(ctx, products, c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", zap.Error(err))
	}
	return products, nil
}

func (c *Catalog) Product(ctx context.Context, productID string) (domain.Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range products {
		if p.ID == productID {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
}

// AddOns never fails: when the source is down it serves the last list it
// saw, or the built-in list, and reports degraded.
func (c *Catalog) AddOns(ctx context.Context) ([]domain.AddOn, bool) {
	addOns, err := c.source.ListAddOns(ctx)
	if err == nil {
		c.mu.Lock()
		c.lastAddOns = append([]domain.AddOn(nil), addOns...)
		c.mu.Unlock()
		return addOns, false
	}

	c.mu.RLock()
	last := append([]domain.AddOn(nil), c.lastAddOns...)
	c.mu.RUnlock()

	c.logger.Warn("add-on source unavailable, serving fallback list",
		zap.Bool("from_last_fetch", len(last) > 0),
		zap.Error(err),
	)
	if len(last) > 0 {
		return last, true
	}
	return append([]domain.AddOn(nil), c.fallback...), true
}

func (c *Catalog) AddOn(ctx context.Context, addOnID string) (domain.AddOn, error) {
	addOns, _ := c.AddOns(ctx)
	for _, a := range addOns {
		if a.ID == addOnID {
			return a, nil
		}
	}
	return domain.AddOn{}, fmt.Errorf("%w: %s", ErrAddOnNotFound, addOnID)
}

// Suggestions lists the add-ons offered for a product category.
func (c *Catalog) Suggestions(ctx context.Context, category string) ([]domain.AddOn, bool) {
	addOns, degraded := c.AddOns(ctx)
	want := normalizeCategory(category)
	out := make([]domain.AddOn, 0, len(addOns))
	for _, a := range addOns {
		if normalizeCategory(a.Category) == want {
			out = append(out, a)
		}
	}
	return out, degraded
}

func (c *Catalog) SizeEligible(category string) bool {
	_, ok := c.sizeEligible[normalizeCategory(category)]
	return ok
}

func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.cache.Invalidate(ctx)
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
