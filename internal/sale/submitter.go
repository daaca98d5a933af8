package sale

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cafepos/backend/internal/cart"
	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/events"
	"cafepos/backend/internal/xid"
)

var (
	ErrValidation  = errors.New("invalid sale")
	ErrOrphanAddOn = errors.New("orphan add-on")
	ErrBusy        = errors.New("a sale is already being submitted")
	ErrGateway     = errors.New("sale gateway error")
	ErrRejected    = errors.New("sale rejected")
)

// RejectionError is a sale the backend refused with a reason. The reason is
// shown to the operator as the backend wrote it.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Gateway records a sale. A receipt with Success=false is a business
// rejection; an error means the outcome is unknown.
type Gateway interface {
	CreateSale(ctx context.Context, sale domain.Sale) (domain.SaleReceipt, error)
}

// StockSource returns a fresh product list, bypassing any cache.
type StockSource interface {
	RefreshProducts(ctx context.Context) ([]domain.Product, error)
}

// Drawer is the part of a drawer session a sale credits.
type Drawer interface {
	IsOpen() bool
	CreditSale(ctx context.Context, amount int64, tender domain.PaymentMethod, description string) (domain.DrawerSnapshot, error)
}

type Options struct {
	RegisterID string
	Gateway    Gateway
	Stock      StockSource
	Drawer     Drawer
	Bus        *events.Bus
	Logger     *zap.Logger
	Tracer     trace.Tracer
	NewKey     func() string
}

type Result struct {
	SaleID         string               `json:"saleId,omitempty"`
	Status         State                `json:"status"`
	Total          int64                `json:"total"`
	PaymentMethod  domain.PaymentMethod `json:"paymentMethod"`
	LineCount      int                  `json:"lineCount"`
	DrawerCredited bool                 `json:"drawerCredited"`
	Warnings       []string             `json:"warnings,omitempty"`
	Shortfalls     []cart.Shortfall     `json:"shortfalls,omitempty"`
}

// Pending is a sale that has been built from a cart and is waiting for the
// gateway. It is produced by Begin and consumed by Send and Complete.
type Pending struct {
	Sale     domain.Sale
	Warnings []string
	products []domain.Product
}

// Submitter drives one register's checkout:
// idle -> submitting -> confirmed | failed, and back to submitting on the
// next attempt. Failed submissions are never retried automatically; a manual
// retry of an unchanged cart reuses the idempotency key.
type Submitter struct {
	registerID string
	gateway    Gateway
	stock      StockSource
	drawer     Drawer
	bus        *events.Bus
	logger     *zap.Logger
	tracer     trace.Tracer
	newKey     func() string

	mu          sync.Mutex
	state       State
	lastErr     error
	lastSaleID  string
	retryKey    string
	fingerprint string
}

func NewSubmitter(opts Options) *Submitter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("cafepos/sale")
	}
	if opts.NewKey == nil {
		opts.NewKey = func() string { return xid.New("idem") }
	}
	return &Submitter{
		registerID: opts.RegisterID,
		gateway:    opts.Gateway,
		stock:      opts.Stock,
		drawer:     opts.Drawer,
		bus:        opts.Bus,
		logger:     opts.Logger.Named("sale").With(zap.String("register_id", opts.RegisterID)),
		tracer:     opts.Tracer,
		newKey:     opts.NewKey,
		state:      StateIdle,
	}
}

func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Submitter) Busy() bool {
	return s.State() == StateSubmitting
}

// Submit runs a whole checkout against a cart the caller owns exclusively.
func (s *Submitter) Submit(ctx context.Context, c *cart.Cart, req Request) (Result, error) {
	pending, err := s.Begin(c, req)
	if err != nil {
		return Result{Status: s.State()}, err
	}
	receipt, sendErr := s.Send(ctx, pending)
	return s.Complete(ctx, c, pending, receipt, sendErr)
}

// Begin validates the cart and moves to submitting. Nothing is sent and the
// state is unchanged when validation fails.
func (s *Submitter) Begin(c *cart.Cart, req Request) (*Pending, error) {
	if req.CustomerID == nil {
		req.CustomerID = c.CustomerID()
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = c.PaymentMethod()
	}
	sale, warnings := BuildSale(c.Lines(), req)
	for _, w := range warnings {
		s.logger.Warn("add-on dropped from sale", zap.String("detail", w))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return nil, ErrBusy
	}
	if err := validate(sale); err != nil {
		return nil, err
	}

	fp := fingerprint(sale)
	if s.state != StateFailed || s.retryKey == "" || fp != s.fingerprint {
		s.retryKey = s.newKey()
		s.fingerprint = fp
	}
	sale.IdempotencyKey = s.retryKey
	s.state = StateSubmitting

	return &Pending{Sale: sale, Warnings: warnings}, nil
}

// Send re-validates stock against a fresh product list and calls the
// gateway. It touches no cart state and may run without the caller's lock.
func (s *Submitter) Send(ctx context.Context, p *Pending) (domain.SaleReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "sale.submit", trace.WithAttributes(
		attribute.String("register.id", s.registerID),
		attribute.String("sale.payment_method", string(p.Sale.PaymentMethod)),
		attribute.Int64("sale.total", p.Sale.Total),
		attribute.Int("sale.lines", len(p.Sale.Lines)),
	))
	defer span.End()

	if s.stock != nil {
		products, err := s.stock.RefreshProducts(ctx)
		if err != nil {
			err = fmt.Errorf("%w: stock check failed: %v", ErrGateway, err)
			span.SetStatus(codes.Error, err.Error())
			return domain.SaleReceipt{}, err
		}
		p.products = products
		if missing := shortfalls(p.Sale, products); len(missing) > 0 {
			err := fmt.Errorf("%w: %d product(s) exceed current stock", cart.ErrOutOfStock, len(missing))
			span.SetStatus(codes.Error, err.Error())
			return domain.SaleReceipt{}, &StockError{Shortfalls: missing, err: err}
		}
	}

	if s.gateway == nil {
		return domain.SaleReceipt{}, fmt.Errorf("%w: no gateway configured", ErrGateway)
	}
	receipt, err := s.gateway.CreateSale(ctx, p.Sale)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrGateway, err)
		span.SetStatus(codes.Error, err.Error())
		return domain.SaleReceipt{}, err
	}
	if !receipt.Success {
		reason := strings.TrimSpace(receipt.Error)
		if reason == "" {
			reason = "sale rejected by the backend without a reason"
		}
		rejected := &RejectionError{Reason: reason}
		span.SetStatus(codes.Error, reason)
		return receipt, rejected
	}
	span.SetAttributes(attribute.String("sale.id", receipt.SaleID))
	return receipt, nil
}

// Complete applies the gateway outcome. On failure the cart is left exactly
// as it was. On success the cart is cleared and the drawer credited when
// open; a closed drawer never blocks the sale.
func (s *Submitter) Complete(ctx context.Context, c *cart.Cart, p *Pending, receipt domain.SaleReceipt, sendErr error) (Result, error) {
	result := Result{
		Total:         p.Sale.Total,
		PaymentMethod: p.Sale.PaymentMethod,
		LineCount:     len(p.Sale.Lines),
		Warnings:      append([]string(nil), p.Warnings...),
	}
	if p.products != nil {
		c.RefreshStock(p.products)
	}

	if sendErr != nil {
		var stockErr *StockError
		if errors.As(sendErr, &stockErr) {
			result.Shortfalls = stockErr.Shortfalls
		}
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = sendErr
		s.mu.Unlock()

		s.logger.Warn("sale submission failed",
			zap.String("idempotency_key", p.Sale.IdempotencyKey),
			zap.Int64("total", p.Sale.Total),
			zap.Error(sendErr),
		)
		result.Status = StateFailed
		return result, sendErr
	}

	s.mu.Lock()
	s.state = StateConfirmed
	s.lastErr = nil
	s.lastSaleID = receipt.SaleID
	s.retryKey = ""
	s.fingerprint = ""
	s.mu.Unlock()

	c.Clear()
	result.Status = StateConfirmed
	result.SaleID = receipt.SaleID

	if p.Sale.PaymentMethod.CreditsDrawer() && p.Sale.Total > 0 {
		credited, warning := s.creditDrawer(ctx, receipt.SaleID, p.Sale)
		result.DrawerCredited = credited
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	s.logger.Info("sale confirmed",
		zap.String("sale_id", receipt.SaleID),
		zap.String("payment_method", string(p.Sale.PaymentMethod)),
		zap.Int64("total", p.Sale.Total),
		zap.Bool("drawer_credited", result.DrawerCredited),
	)
	s.publish(ctx, receipt.SaleID, p.Sale)
	return result, nil
}

func (s *Submitter) creditDrawer(ctx context.Context, saleID string, sale domain.Sale) (bool, string) {
	if s.drawer == nil || !s.drawer.IsOpen() {
		warning := fmt.Sprintf("drawer is closed: %s sale %s of %d was not credited", sale.PaymentMethod, saleID, sale.Total)
		s.logger.Warn("sale not credited to drawer",
			zap.String("sale_id", saleID),
			zap.String("reason", "drawer closed"),
		)
		return false, warning
	}
	if _, err := s.drawer.CreditSale(ctx, sale.Total, sale.PaymentMethod, "sale "+saleID); err != nil {
		s.logger.Warn("sale not credited to drawer", zap.String("sale_id", saleID), zap.Error(err))
		return false, fmt.Sprintf("drawer not credited for sale %s: %v", saleID, err)
	}
	return true, ""
}

func (s *Submitter) publish(ctx context.Context, saleID string, sale domain.Sale) {
	if s.bus == nil {
		return
	}
	productIDs := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	s.bus.Publish(ctx, events.Event{
		Type:       events.SaleCompleted,
		RegisterID: s.registerID,
		Detail: map[string]any{
			"saleId":        saleID,
			"total":         sale.Total,
			"paymentMethod": sale.PaymentMethod,
		},
	})
	s.bus.Publish(ctx, events.Event{
		Type:       events.StockChanged,
		RegisterID: s.registerID,
		Detail:     map[string]any{"productIds": productIDs},
	})
}

// StockError lists the products a fresh stock check could not cover.
type StockError struct {
	Shortfalls []cart.Shortfall
	err        error
}

func (e *StockError) Error() string { return e.err.Error() }
func (e *StockError) Unwrap() error { return e.err }

func fingerprint(sale domain.Sale) string {
	sale.IdempotencyKey = ""
	payload, _ := json.Marshal(sale)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
