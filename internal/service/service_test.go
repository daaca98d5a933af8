package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/backend/internal/cache"
	"cafepos/backend/internal/cart"
	"cafepos/backend/internal/catalog"
	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/drawer"
	"cafepos/backend/internal/events"
	"cafepos/backend/internal/sale"
	"cafepos/backend/internal/store/memory"
)

type fixture struct {
	svc    *Service
	repo   *memory.Store
	events []events.Event
	mu     sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	repo.PutProduct(domain.Product{ID: "p-latte", Name: "Latte", Category: "coffee", Price: 2500, Stock: 3, Active: true})
	repo.PutProduct(domain.Product{ID: "p-croissant", Name: "Croissant", Category: "bakery", Price: 1800, Stock: 20, Active: true})
	repo.PutAddOn(domain.AddOn{ID: "a-shot", Name: "Extra shot", Category: "coffee", AdditionalPrice: 500})
	repo.PutAddOn(domain.AddOn{ID: "a-butter", Name: "Butter", Category: "bakery", AdditionalPrice: 200})

	f := &fixture{repo: repo}
	bus := events.NewBus(nil)
	bus.SubscribeAll(func(e events.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	f.svc = New(Options{
		Catalog:     catalog.New(repo, catalog.Options{Cache: cache.NewMemoryCatalogCache(), TTL: time.Minute}),
		Gateway:     sale.NewLocalGateway(repo),
		DrawerStore: repo,
		Audit:       repo,
		Bus:         bus,
	})
	return f
}

func (f *fixture) eventTypes() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func cashier() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func TestStockCeilingAcrossAdds(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	for i := 0; i < 3; i++ {
		_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
		require.NoError(t, err)
	}
	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
	assert.ErrorIs(t, err, cart.ErrOutOfStock)

	resp, err := f.svc.Cart(ctx, "bar-1")
	require.NoError(t, err)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, 3, resp.Lines[0].Quantity)
	assert.Equal(t, domain.SizeMedium, resp.Lines[0].Variant)
	assert.Contains(t, f.eventTypes(), events.LowStock)
}

func TestRegistersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-croissant"})
	require.NoError(t, err)
	other, err := f.svc.Cart(ctx, "bar-2")
	require.NoError(t, err)
	assert.Empty(t, other.Lines)
	assert.Equal(t, []string{"bar-1", "bar-2"}, f.svc.Registers())

	_, err = f.svc.Cart(ctx, "../etc")
	assert.ErrorIs(t, err, ErrInvalidRegister)
}

func TestLineUpdatesAndAddOns(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	resp, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte", Variant: domain.SizeSmall})
	require.NoError(t, err)
	lineID := resp.Lines[0].ID
	assert.Equal(t, int64(2125), resp.Total)

	large := domain.SizeLarge
	two := 2
	resp, err = f.svc.UpdateCartLine(ctx, "bar-1", lineID, domain.CartLineUpdateRequest{Variant: &large, Quantity: &two})
	require.NoError(t, err)
	assert.Equal(t, int64(2*3125), resp.Total)

	resp, err = f.svc.AttachAddOn(ctx, "bar-1", lineID, domain.CartAddOnRequest{AddOnID: "a-shot"})
	require.NoError(t, err)
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, domain.LineKindAddOn, resp.Lines[1].Kind)
	assert.Equal(t, lineID, resp.Lines[1].ParentLineID)

	resp, err = f.svc.RemoveCartLine(ctx, "bar-1", lineID)
	require.NoError(t, err)
	assert.Empty(t, resp.Lines)

	_, err = f.svc.UpdateCartLine(ctx, "bar-1", lineID, domain.CartLineUpdateRequest{})
	assert.ErrorIs(t, err, cart.ErrInvalidOperation)
	_, err = f.svc.AttachAddOn(ctx, "bar-1", "missing", domain.CartAddOnRequest{AddOnID: "a-nope"})
	assert.True(t, IsNotFound(err))
}

func TestRejectedLineUpdateLeavesLineUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	resp, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
	require.NoError(t, err)
	before := resp.Lines

	large := domain.SizeLarge
	ten := 10
	_, err = f.svc.UpdateCartLine(ctx, "bar-1", before[0].ID, domain.CartLineUpdateRequest{Variant: &large, Quantity: &ten})
	require.ErrorIs(t, err, cart.ErrOutOfStock)

	after, err := f.svc.Cart(ctx, "bar-1")
	require.NoError(t, err)
	assert.Equal(t, before, after.Lines)
	assert.Equal(t, domain.SizeMedium, after.Lines[0].Variant)
	assert.Equal(t, int64(2500), after.Total)
}

func TestCheckoutCashSaleCreditsDrawer(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	_, err := f.svc.OpenDrawer(ctx, "bar-1", domain.DrawerOpenRequest{OpeningFloat: 10000})
	require.NoError(t, err)
	resp, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte", Variant: domain.SizeLarge})
	require.NoError(t, err)
	_, err = f.svc.AttachAddOn(ctx, "bar-1", resp.Lines[0].ID, domain.CartAddOnRequest{AddOnID: "a-shot"})
	require.NoError(t, err)

	out, err := f.svc.Checkout(ctx, "bar-1", domain.CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", out.Status)
	assert.Equal(t, int64(3625), out.Total)
	assert.True(t, out.DrawerCredited)
	assert.NotEmpty(t, out.SaleID)

	snap, err := f.svc.Drawer(ctx, "bar-1")
	require.NoError(t, err)
	assert.Equal(t, int64(13625), snap.CurrentCashBalance)

	cartAfter, err := f.svc.Cart(ctx, "bar-1")
	require.NoError(t, err)
	assert.Empty(t, cartAfter.Lines)
	assert.Equal(t, "confirmed", cartAfter.Submission)

	products, err := f.svc.ListProducts(ctx)
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == "p-latte" {
			assert.Equal(t, 2, p.Stock)
		}
	}

	types := f.eventTypes()
	assert.Contains(t, types, events.SaleCompleted)
	assert.Contains(t, types, events.StockChanged)
	assert.Contains(t, types, events.DrawerChanged)

	logs, err := f.svc.AuditLogs(ctx, "bar-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"drawer.open", "sale.confirmed"}, actions)
	assert.Equal(t, "cashier", logs[0].ActorUsername)
}

func TestCheckoutWithoutOperatorIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-croissant"})
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, "bar-1", domain.CheckoutRequest{PaymentMethod: domain.PaymentCash})
	assert.ErrorIs(t, err, sale.ErrValidation)
}

func TestCheckoutOversoldElsewhereKeepsCart(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()
	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
	require.NoError(t, err)
	require.NoError(t, f.repo.SetStock(ctx, "p-latte", 0))

	out, err := f.svc.Checkout(ctx, "bar-1", domain.CheckoutRequest{PaymentMethod: domain.PaymentCard})
	require.ErrorIs(t, err, cart.ErrOutOfStock)
	assert.Equal(t, "failed", out.Status)
	require.Len(t, out.Shortfalls, 1)

	resp, err := f.svc.Cart(ctx, "bar-1")
	require.NoError(t, err)
	assert.Len(t, resp.Lines, 1)
	assert.Equal(t, "failed", resp.Submission)
}

func TestClosedDrawerSaleStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()
	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-croissant"})
	require.NoError(t, err)

	out, err := f.svc.Checkout(ctx, "bar-1", domain.CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	assert.False(t, out.DrawerCredited)
	assert.NotEmpty(t, out.Warnings)
}

func TestDrawerLifecycleAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()

	_, err := f.svc.OpenDrawer(ctx, "bar-1", domain.DrawerOpenRequest{OpeningFloat: 5000})
	require.NoError(t, err)
	_, err = f.svc.OpenDrawer(ctx, "bar-1", domain.DrawerOpenRequest{OpeningFloat: 5000})
	assert.ErrorIs(t, err, drawer.ErrInvalidState)

	snap, err := f.svc.AdjustDrawer(ctx, "bar-1", domain.DrawerAdjustmentRequest{Description: "change run", Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), snap.CurrentCashBalance)

	restarted := New(Options{
		Catalog:     f.svc.catalog,
		Gateway:     f.svc.gateway,
		DrawerStore: f.repo,
		Audit:       f.repo,
	})
	restored, err := restarted.Drawer(ctx, "bar-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DrawerOpen, restored.State)
	assert.Equal(t, int64(7000), restored.CurrentCashBalance)

	closed, err := restarted.CloseDrawer(ctx, "bar-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), closed.Report.Variance)
	assert.Equal(t, domain.DrawerClosed, closed.Drawer.State)
}

func TestSetCartDetailsAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()
	customer := " cust-9 "
	card := domain.PaymentCard

	resp, err := f.svc.SetCartDetails(ctx, "bar-1", domain.CartDetailsRequest{CustomerID: &customer, PaymentMethod: &card})
	require.NoError(t, err)
	require.NotNil(t, resp.CustomerID)
	assert.Equal(t, "cust-9", *resp.CustomerID)
	assert.Equal(t, domain.PaymentCard, resp.PaymentMethod)

	bad := domain.PaymentMethod("voucher")
	_, err = f.svc.SetCartDetails(ctx, "bar-1", domain.CartDetailsRequest{PaymentMethod: &bad})
	assert.Error(t, err)

	resp, err = f.svc.ClearCart(ctx, "bar-1")
	require.NoError(t, err)
	assert.Nil(t, resp.CustomerID)
	assert.Equal(t, domain.PaymentCash, resp.PaymentMethod)
}

func TestRefreshCartStockReportsShortfalls(t *testing.T) {
	f := newFixture(t)
	ctx := cashier()
	_, err := f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, "bar-1", domain.CartAddRequest{ProductID: "p-latte"})
	require.NoError(t, err)
	require.NoError(t, f.repo.SetStock(ctx, "p-latte", 1))

	resp, err := f.svc.RefreshCartStock(ctx, "bar-1")
	require.NoError(t, err)
	require.Len(t, resp.Shortfalls, 1)
	assert.Equal(t, 2, resp.Shortfalls[0].InCart)
	assert.Equal(t, 1, resp.Shortfalls[0].Available)
	assert.Equal(t, 2, resp.Lines[0].Quantity)
}

func TestSuggestionsUseProductCategory(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Suggestions(context.Background(), "p-croissant")
	require.NoError(t, err)
	require.Len(t, resp.AddOns, 1)
	assert.Equal(t, "a-butter", resp.AddOns[0].ID)
	assert.False(t, resp.Degraded)

	addOns := f.svc.ListAddOns(context.Background())
	assert.Len(t, addOns.AddOns, 2)
}

type flakyDrawerStore struct {
	*memory.Store
	mu   sync.Mutex
	down bool
}

func (s *flakyDrawerStore) SaveDrawer(ctx context.Context, snapshot domain.DrawerSnapshot) error {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return errors.New("redis: connection refused")
	}
	return s.Store.SaveDrawer(ctx, snapshot)
}

func (s *flakyDrawerStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func TestFlushDrawersRetriesFailedWrites(t *testing.T) {
	repo := memory.New()
	flaky := &flakyDrawerStore{Store: repo, down: true}
	svc := New(Options{
		Catalog:     catalog.New(repo, catalog.Options{}),
		Gateway:     sale.NewLocalGateway(repo),
		DrawerStore: flaky,
	})
	ctx := cashier()

	snap, err := svc.OpenDrawer(ctx, "bar-1", domain.DrawerOpenRequest{OpeningFloat: 5000})
	require.NoError(t, err, "a persistence failure does not undo the open")
	assert.Equal(t, domain.DrawerOpen, snap.State)

	_, err = repo.LoadDrawer(ctx, "bar-1", snap.BusinessDay)
	require.Error(t, err)

	assert.Error(t, svc.FlushDrawers(ctx))

	flaky.setDown(false)
	require.NoError(t, svc.FlushDrawers(ctx))
	stored, err := repo.LoadDrawer(ctx, "bar-1", snap.BusinessDay)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stored.CurrentCashBalance)
}

type slowDrawerStore struct {
	*memory.Store
	slowRegister string
	entered      chan struct{}
	release      chan struct{}
}

func (s *slowDrawerStore) LoadDrawer(ctx context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error) {
	if registerID == s.slowRegister {
		close(s.entered)
		<-s.release
	}
	return s.Store.LoadDrawer(ctx, registerID, businessDay)
}

func TestSlowDrawerLoadDoesNotBlockOtherRegisters(t *testing.T) {
	repo := memory.New()
	slow := &slowDrawerStore{Store: repo, slowRegister: "bar-slow", entered: make(chan struct{}), release: make(chan struct{})}
	svc := New(Options{
		Catalog:     catalog.New(repo, catalog.Options{}),
		Gateway:     sale.NewLocalGateway(repo),
		DrawerStore: slow,
	})
	ctx := cashier()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Cart(ctx, "bar-slow")
		done <- err
	}()
	<-slow.entered

	finished := make(chan error, 1)
	go func() {
		_, err := svc.Cart(ctx, "bar-1")
		finished <- err
	}()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bar-1 waited on another register's drawer load")
	}

	close(slow.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"bar-1", "bar-slow"}, svc.Registers())
}
