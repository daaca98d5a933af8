package sale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
)

type memoryRepo struct {
	records []domain.SaleRecord
	fail    error
}

func (r *memoryRepo) CreateSale(_ context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	r.records = append(r.records, record)
	return &record, nil
}

func (r *memoryRepo) FindSaleByIdempotency(_ context.Context, key string) (*domain.SaleRecord, error) {
	for _, rec := range r.records {
		if rec.Sale.IdempotencyKey == key {
			return &rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func sampleSale(key string) domain.Sale {
	return domain.Sale{
		OperatorID:     "op-1",
		PaymentMethod:  domain.PaymentCash,
		Total:          2500,
		Lines:          []domain.SaleLine{{ProductID: "p-latte", Quantity: 1, Subtotal: 2500, AddOns: []domain.SaleAddOn{}}},
		IdempotencyKey: key,
	}
}

func TestLocalGatewayDeduplicatesByKey(t *testing.T) {
	repo := &memoryRepo{}
	gw := NewLocalGateway(repo)

	first, err := gw.CreateSale(context.Background(), sampleSale("idem-1"))
	require.NoError(t, err)
	require.True(t, first.Success)

	again, err := gw.CreateSale(context.Background(), sampleSale("idem-1"))
	require.NoError(t, err)
	assert.Equal(t, first.SaleID, again.SaleID)
	assert.Len(t, repo.records, 1)
}

func TestLocalGatewayReportsStockRejection(t *testing.T) {
	repo := &memoryRepo{fail: fmt.Errorf("%w: p-latte", store.ErrInsufficientStock)}
	receipt, err := NewLocalGateway(repo).CreateSale(context.Background(), sampleSale(""))
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Contains(t, receipt.Error, "insufficient stock")
}

func TestHTTPGatewayPostsSale(t *testing.T) {
	var got domain.Sale
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/sales", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(domain.SaleReceipt{Success: true, SaleID: "remote-42"})
	}))
	t.Cleanup(srv.Close)

	receipt, err := NewHTTPGateway(srv.URL, srv.Client()).CreateSale(context.Background(), sampleSale("idem-9"))
	require.NoError(t, err)
	assert.Equal(t, "remote-42", receipt.SaleID)
	assert.Equal(t, "idem-9", key)
	assert.Equal(t, int64(2500), got.Total)
	assert.Nil(t, got.CustomerID)
}

func TestHTTPGatewayStatuses(t *testing.T) {
	status := http.StatusUnprocessableEntity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(domain.SaleReceipt{Success: false, Error: "operator unknown"})
	}))
	t.Cleanup(srv.Close)
	gw := NewHTTPGateway(srv.URL, srv.Client())

	receipt, err := gw.CreateSale(context.Background(), sampleSale(""))
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "operator unknown", receipt.Error)

	status = http.StatusBadGateway
	_, err = gw.CreateSale(context.Background(), sampleSale(""))
	assert.Error(t, err)
}
