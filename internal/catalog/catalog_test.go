package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/backend/internal/cache"
	"cafepos/backend/internal/domain"
)

type stubSource struct {
	products     []domain.Product
	addOns       []domain.AddOn
	productCalls int
	addOnErr     error
}

func (s *stubSource) ListProducts(context.Context) ([]domain.Product, error) {
	s.productCalls++
	return append([]domain.Product(nil), s.products...), nil
}

func (s *stubSource) ListAddOns(context.Context) ([]domain.AddOn, error) {
	if s.addOnErr != nil {
		return nil, s.addOnErr
	}
	return s.addOns, nil
}

func newStub() *stubSource {
	return &stubSource{
		products: []domain.Product{
			{ID: "p-latte", Name: "Latte", Category: "coffee", Price: 2500, Stock: 3, Active: true},
			{ID: "p-croissant", Name: "Croissant", Category: "bakery", Price: 1800, Stock: 10, Active: true},
		},
		addOns: []domain.AddOn{
			{ID: "a-shot", Name: "Extra shot", Category: "coffee", AdditionalPrice: 500},
			{ID: "a-jam", Name: "Jam", Category: "bakery", AdditionalPrice: 250},
		},
	}
}

func TestProductsUsesCacheUntilRefresh(t *testing.T) {
	ctx := context.Background()
	src := newStub()
	c := New(src, Options{Cache: cache.NewMemoryCatalogCache(), TTL: time.Minute})

	_, err := c.Products(ctx)
	require.NoError(t, err)
	_, err = c.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.productCalls)

	src.products[0].Stock = 1
	fresh, err := c.RefreshProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.productCalls)
	assert.Equal(t, 1, fresh[0].Stock)

	cached, err := c.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached[0].Stock)
	assert.Equal(t, 2, src.productCalls)
}

func TestProductLookup(t *testing.T) {
	c := New(newStub(), Options{})
	p, err := c.Product(context.Background(), "p-croissant")
	require.NoError(t, err)
	assert.Equal(t, "Croissant", p.Name)

	_, err = c.Product(context.Background(), "p-missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestAddOnsFallBackWhenSourceFails(t *testing.T) {
	ctx := context.Background()
	src := newStub()
	src.addOnErr = errors.New("connection refused")
	c := New(src, Options{})

	addOns, degraded := c.AddOns(ctx)
	assert.True(t, degraded)
	assert.Equal(t, DefaultAddOns, addOns)
}

func TestAddOnsFallBackToLastFetch(t *testing.T) {
	ctx := context.Background()
	src := newStub()
	c := New(src, Options{})

	_, degraded := c.AddOns(ctx)
	require.False(t, degraded)

	src.addOnErr = errors.New("timeout")
	addOns, degraded := c.AddOns(ctx)
	assert.True(t, degraded)
	assert.Equal(t, src.addOns, addOns)
}

func TestSuggestionsFilterByCategory(t *testing.T) {
	c := New(newStub(), Options{})
	got, degraded := c.Suggestions(context.Background(), " Coffee ")
	assert.False(t, degraded)
	require.Len(t, got, 1)
	assert.Equal(t, "a-shot", got[0].ID)

	_, err := c.AddOn(context.Background(), "a-unknown")
	assert.ErrorIs(t, err, ErrAddOnNotFound)
}

func TestSizeEligibleCategories(t *testing.T) {
	c := New(newStub(), Options{SizeEligible: []string{"Coffee", "smoothies"}})
	assert.True(t, c.SizeEligible("coffee"))
	assert.True(t, c.SizeEligible("SMOOTHIES"))
	assert.False(t, c.SizeEligible("bakery"))

	defaults := New(newStub(), Options{})
	assert.True(t, defaults.SizeEligible("tea"))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products":
			_ = json.NewEncoder(w).Encode([]domain.Product{{ID: "p-1", Name: "Mocha", Category: "coffee", Price: 3000, Stock: 2, Active: true}})
		case "/api/addons":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(srv.URL+"/", srv.Client())
	products, err := src.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Mocha", products[0].Name)

	_, err = src.ListAddOns(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	c := New(src, Options{})
	addOns, degraded := c.AddOns(context.Background())
	assert.True(t, degraded)
	assert.NotEmpty(t, addOns)
}
