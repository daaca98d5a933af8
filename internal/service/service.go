package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cafepos/backend/internal/cart"
	"cafepos/backend/internal/catalog"
	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/drawer"
	"cafepos/backend/internal/events"
	"cafepos/backend/internal/sale"
	"cafepos/backend/internal/store"
	"cafepos/backend/internal/xid"
)

var ErrInvalidRegister = errors.New("invalid register id")

var registerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// AuditStore is where register actions are recorded.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, registerID string, limit int) ([]domain.AuditLog, error)
}

type Options struct {
	Catalog           *catalog.Catalog
	Gateway           sale.Gateway
	DrawerStore       drawer.Store
	Audit             AuditStore
	Bus               *events.Bus
	Logger            *zap.Logger
	LowStockThreshold int
	Location          *time.Location
	Now               func() time.Time
}

// register is one terminal: its cart, its checkout and its drawer. mu
// serializes every cart mutation and the checkout bookkeeping.
type register struct {
	mu        sync.Mutex
	id        string
	cart      *cart.Cart
	submitter *sale.Submitter
	drawer    *drawer.Session
}

type Service struct {
	catalog     *catalog.Catalog
	gateway     sale.Gateway
	drawerStore drawer.Store
	audit       AuditStore
	bus         *events.Bus
	logger      *zap.Logger
	threshold   int
	location    *time.Location
	now         func() time.Time

	mu        sync.Mutex
	registers map[string]*register
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		catalog:     opts.Catalog,
		gateway:     opts.Gateway,
		drawerStore: opts.DrawerStore,
		audit:       opts.Audit,
		bus:         opts.Bus,
		logger:      opts.Logger.Named("service"),
		threshold:   opts.LowStockThreshold,
		location:    opts.Location,
		now:         opts.Now,
		registers:   make(map[string]*register),
	}
}

func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Registers lists the register ids that have been used since start.
func (s *Service) Registers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.registers))
	for id := range s.registers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) register(ctx context.Context, registerID string) (*register, error) {
	registerID = strings.TrimSpace(registerID)
	if !registerIDPattern.MatchString(registerID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRegister, registerID)
	}

	s.mu.Lock()
	reg, ok := s.registers[registerID]
	s.mu.Unlock()
	if ok {
		return reg, nil
	}

	// Restore does store I/O without s.mu held. A racing first use of the
	// same register keeps the earlier insert.
	session, err := drawer.Restore(ctx, registerID, drawer.Options{
		Store:    s.drawerStore,
		Logger:   s.logger,
		Now:      s.now,
		Location: s.location,
		OnChange: func(snap domain.DrawerSnapshot) {
			s.bus.Publish(context.Background(), events.Event{
				Type:       events.DrawerChanged,
				RegisterID: snap.RegisterID,
				Detail:     snap,
			})
		},
	})
	if err != nil {
		return nil, err
	}

	reg = &register{
		id: registerID,
		cart: cart.New(cart.Options{
			SizeEligible:      s.catalog.SizeEligible,
			LowStockThreshold: s.threshold,
			NewLineID:         func() string { return xid.New("line") },
		}),
		drawer: session,
	}
	reg.submitter = sale.NewSubmitter(sale.Options{
		RegisterID: registerID,
		Gateway:    s.gateway,
		Stock:      s.catalog,
		Drawer:     session,
		Bus:        s.bus,
		Logger:     s.logger,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.registers[registerID]; ok {
		return existing, nil
	}
	s.registers[registerID] = reg
	return reg, nil
}

// withCart runs fn with the register's cart locked. Mutations are refused
// while a checkout is in flight.
func (s *Service) withCart(ctx context.Context, registerID string, mutate bool, fn func(reg *register) ([]string, error)) (domain.CartResponse, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.CartResponse{}, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if mutate && reg.submitter.Busy() {
		return domain.CartResponse{}, sale.ErrBusy
	}
	warnings, err := fn(reg)
	if err != nil {
		return domain.CartResponse{}, err
	}
	resp := cartResponse(reg)
	resp.Warnings = warnings
	return resp, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.catalog.Products(ctx)
}

func (s *Service) ListAddOns(ctx context.Context) domain.AddOnListResponse {
	addOns, degraded := s.catalog.AddOns(ctx)
	return domain.AddOnListResponse{AddOns: addOns, Degraded: degraded}
}

// Suggestions lists the add-ons offered with a product.
func (s *Service) Suggestions(ctx context.Context, productID string) (domain.AddOnListResponse, error) {
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return domain.AddOnListResponse{}, err
	}
	addOns, degraded := s.catalog.Suggestions(ctx, product.Category)
	return domain.AddOnListResponse{AddOns: addOns, Degraded: degraded}, nil
}

func (s *Service) Cart(ctx context.Context, registerID string) (domain.CartResponse, error) {
	return s.withCart(ctx, registerID, false, func(*register) ([]string, error) { return nil, nil })
}

func (s *Service) AddToCart(ctx context.Context, registerID string, req domain.CartAddRequest) (domain.CartResponse, error) {
	product, err := s.catalog.Product(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.CartResponse{}, err
	}

	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		result, err := reg.cart.AddProduct(product, req.Variant)
		if err != nil {
			return nil, err
		}
		if !result.LowStock {
			return nil, nil
		}
		s.bus.Publish(ctx, events.Event{
			Type:       events.LowStock,
			RegisterID: reg.id,
			Detail: map[string]any{
				"productId": product.ID,
				"name":      product.Name,
				"remaining": result.Remaining,
			},
		})
		return []string{fmt.Sprintf("only %d %s left after this cart", result.Remaining, product.Name)}, nil
	})
}

// UpdateCartLine applies a variant change before a quantity change.
func (s *Service) UpdateCartLine(ctx context.Context, registerID string, lineID string, req domain.CartLineUpdateRequest) (domain.CartResponse, error) {
	if req.Quantity == nil && req.Variant == nil {
		return domain.CartResponse{}, fmt.Errorf("%w: nothing to update", cart.ErrInvalidOperation)
	}
	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		return nil, reg.cart.UpdateLine(lineID, req.Variant, req.Quantity)
	})
}

func (s *Service) RemoveCartLine(ctx context.Context, registerID string, lineID string) (domain.CartResponse, error) {
	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		return nil, reg.cart.RemoveLine(lineID)
	})
}

func (s *Service) AttachAddOn(ctx context.Context, registerID string, parentLineID string, req domain.CartAddOnRequest) (domain.CartResponse, error) {
	addOn, err := s.catalog.AddOn(ctx, strings.TrimSpace(req.AddOnID))
	if err != nil {
		return domain.CartResponse{}, err
	}
	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		_, err := reg.cart.AttachAddOn(parentLineID, addOn)
		return nil, err
	})
}

func (s *Service) SetCartDetails(ctx context.Context, registerID string, req domain.CartDetailsRequest) (domain.CartResponse, error) {
	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		if req.PaymentMethod != nil {
			if err := reg.cart.SetPaymentMethod(*req.PaymentMethod); err != nil {
				return nil, err
			}
		}
		if req.CustomerID != nil {
			customerID := strings.TrimSpace(*req.CustomerID)
			if customerID == "" {
				reg.cart.SetCustomer(nil)
			} else {
				reg.cart.SetCustomer(&customerID)
			}
		}
		return nil, nil
	})
}

func (s *Service) ClearCart(ctx context.Context, registerID string) (domain.CartResponse, error) {
	return s.withCart(ctx, registerID, true, func(reg *register) ([]string, error) {
		reg.cart.Clear()
		return nil, nil
	})
}

// RefreshCartStock pulls a fresh stock list and reports the lines it no
// longer covers. The cart itself is left for the operator to fix.
func (s *Service) RefreshCartStock(ctx context.Context, registerID string) (domain.CartResponse, error) {
	products, err := s.catalog.RefreshProducts(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}

	var shortfalls []domain.StockShortfall
	resp, err := s.withCart(ctx, registerID, false, func(reg *register) ([]string, error) {
		shortfalls = reg.cart.RefreshStock(products)
		return nil, nil
	})
	if err != nil {
		return domain.CartResponse{}, err
	}
	resp.Shortfalls = shortfalls
	for _, sf := range shortfalls {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %d in cart, %d available", sf.Name, sf.InCart, sf.Available))
	}
	s.bus.Publish(ctx, events.Event{Type: events.StockChanged, RegisterID: resp.RegisterID})
	return resp, nil
}

// Checkout submits the register's cart. The register lock is released
// while the gateway is called; the submitter's busy state keeps the cart
// frozen meanwhile.
func (s *Service) Checkout(ctx context.Context, registerID string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	actor, _ := ActorFromContext(ctx)

	reg.mu.Lock()
	pending, err := reg.submitter.Begin(reg.cart, sale.Request{
		OperatorID:    actor.Username,
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Observations:  req.Observations,
	})
	reg.mu.Unlock()
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	receipt, sendErr := reg.submitter.Send(ctx, pending)

	reg.mu.Lock()
	result, err := reg.submitter.Complete(ctx, reg.cart, pending, receipt, sendErr)
	reg.mu.Unlock()

	resp := domain.CheckoutResponse{
		SaleID:         result.SaleID,
		Status:         string(result.Status),
		Total:          result.Total,
		PaymentMethod:  result.PaymentMethod,
		LineCount:      result.LineCount,
		DrawerCredited: result.DrawerCredited,
		Warnings:       result.Warnings,
		Shortfalls:     result.Shortfalls,
	}
	if err != nil {
		s.logAudit(ctx, reg.id, "sale.failed", "sale", pending.Sale.IdempotencyKey, err.Error())
		return resp, err
	}

	if err := s.catalog.Invalidate(ctx); err != nil {
		s.logger.Warn("catalog cache not invalidated after sale", zap.String("sale_id", result.SaleID), zap.Error(err))
	}
	s.logAudit(ctx, reg.id, "sale.confirmed", "sale", result.SaleID,
		fmt.Sprintf("total=%d,method=%s,lines=%d,drawer_credited=%t", result.Total, result.PaymentMethod, result.LineCount, result.DrawerCredited))
	return resp, nil
}

func (s *Service) Drawer(ctx context.Context, registerID string) (domain.DrawerSnapshot, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	return reg.drawer.Snapshot(), nil
}

func (s *Service) OpenDrawer(ctx context.Context, registerID string, req domain.DrawerOpenRequest) (domain.DrawerSnapshot, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	snap, err := reg.drawer.Open(ctx, req.OpeningFloat)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	s.logAudit(ctx, reg.id, "drawer.open", "drawer", snap.BusinessDay, fmt.Sprintf("opening_float=%d", req.OpeningFloat))
	return snap, nil
}

func (s *Service) AdjustDrawer(ctx context.Context, registerID string, req domain.DrawerAdjustmentRequest) (domain.DrawerSnapshot, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	snap, err := reg.drawer.RecordAdjustment(ctx, req.Description, req.Amount)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	s.logAudit(ctx, reg.id, "drawer.adjust", "drawer", snap.BusinessDay, fmt.Sprintf("amount=%d,description=%s", req.Amount, strings.TrimSpace(req.Description)))
	return snap, nil
}

func (s *Service) CloseDrawer(ctx context.Context, registerID string) (domain.DrawerCloseResponse, error) {
	reg, err := s.register(ctx, registerID)
	if err != nil {
		return domain.DrawerCloseResponse{}, err
	}
	report, err := reg.drawer.Close(ctx)
	if err != nil {
		return domain.DrawerCloseResponse{}, err
	}
	snap := reg.drawer.Snapshot()
	s.logAudit(ctx, reg.id, "drawer.close", "drawer", snap.BusinessDay,
		fmt.Sprintf("expected=%d,counted=%d,variance=%d", report.ExpectedCash, report.CurrentCashBalance, report.Variance))
	return domain.DrawerCloseResponse{Report: report, Drawer: snap}, nil
}

// FlushDrawers retries persisting every drawer whose last write failed.
func (s *Service) FlushDrawers(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*drawer.Session, 0, len(s.registers))
	for _, reg := range s.registers {
		sessions = append(sessions, reg.drawer)
	}
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if dirty, _ := session.Dirty(); !dirty {
			continue
		}
		if err := session.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) AuditLogs(ctx context.Context, registerID string, limit int) ([]domain.AuditLog, error) {
	if s.audit == nil {
		return []domain.AuditLog{}, nil
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.audit.ListAuditLogs(ctx, strings.TrimSpace(registerID), limit)
}

func (s *Service) logAudit(ctx context.Context, registerID string, action string, entityType string, entityID string, detail string) {
	if s.audit == nil {
		return
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.audit.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		RegisterID:    registerID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func cartResponse(reg *register) domain.CartResponse {
	lines := reg.cart.Lines()
	views := make([]domain.CartLineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, cart.View(line))
	}
	return domain.CartResponse{
		RegisterID:    reg.id,
		Lines:         views,
		Total:         reg.cart.Total(),
		ItemCount:     reg.cart.ItemCount(),
		CustomerID:    reg.cart.CustomerID(),
		PaymentMethod: reg.cart.PaymentMethod(),
		Submission:    string(reg.submitter.State()),
	}
}

// IsNotFound reports errors that mean the requested entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, catalog.ErrProductNotFound) ||
		errors.Is(err, catalog.ErrAddOnNotFound) ||
		errors.Is(err, cart.ErrLineNotFound)
}
