package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
)

func integrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CAFEPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAFEPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestCreateSaleDecrementsStockIdempotently(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	key := fmt.Sprintf("idem-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE idempotency_key = $1`, key)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: productID, Name: "IT Mocha", Category: "coffee", Price: 3000, Stock: 3, Active: true}))

	sale := domain.SaleRecord{Sale: domain.Sale{
		OperatorID:     "cashier",
		PaymentMethod:  domain.PaymentCash,
		Total:          6000,
		Lines:          []domain.SaleLine{{ProductID: productID, Quantity: 2, Subtotal: 6000, AddOns: []domain.SaleAddOn{}}},
		IdempotencyKey: key,
	}}

	first, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	again, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == productID {
			assert.Equal(t, 1, p.Stock)
		}
	}

	sale.Sale.IdempotencyKey = ""
	_, err = s.CreateSale(ctx, sale)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestDrawerSnapshotUpsert(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	registerID := fmt.Sprintf("reg-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM drawer_sessions WHERE register_id = $1`, registerID)
	})

	snap := domain.DrawerSnapshot{RegisterID: registerID, BusinessDay: "2026-03-02", State: domain.DrawerOpen, OpeningFloat: 5000, CurrentCashBalance: 5000}
	require.NoError(t, s.SaveDrawer(ctx, snap))
	snap.CurrentCashBalance = 7500
	require.NoError(t, s.SaveDrawer(ctx, snap))

	loaded, err := s.LoadDrawer(ctx, registerID, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), loaded.CurrentCashBalance)

	_, err = s.LoadDrawer(ctx, registerID, "2026-03-03")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
