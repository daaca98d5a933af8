package drawer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
)

var (
	ErrInvalidState = errors.New("invalid drawer state")
	ErrValidation   = errors.New("invalid drawer input")
)

// Store persists drawer snapshots keyed by register and business day.
type Store interface {
	LoadDrawer(ctx context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error)
	SaveDrawer(ctx context.Context, snapshot domain.DrawerSnapshot) error
}

type Options struct {
	Store    Store
	Logger   *zap.Logger
	Now      func() time.Time
	Location *time.Location
	// OnChange receives a copy of the snapshot after every transition.
	OnChange func(domain.DrawerSnapshot)
}

// Session is the cash drawer of one register for one business day. All
// mutation goes through its operations; the persisted copy is written after
// each transition and never read back to compute new state.
type Session struct {
	mu         sync.Mutex
	snap       domain.DrawerSnapshot
	store      Store
	logger     *zap.Logger
	now        func() time.Time
	location   *time.Location
	onChange   func(domain.DrawerSnapshot)
	dirty      bool
	persistErr error
}

func NewSession(registerID string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	s := &Session{
		store:    opts.Store,
		logger:   opts.Logger.Named("drawer").With(zap.String("register_id", registerID)),
		now:      opts.Now,
		location: opts.Location,
		onChange: opts.OnChange,
	}
	s.snap = domain.DrawerSnapshot{
		RegisterID:  registerID,
		BusinessDay: s.businessDay(s.now()),
		State:       domain.DrawerClosed,
	}
	return s
}

// Restore loads the register's drawer for the current business day. A
// missing record yields a fresh closed session.
func Restore(ctx context.Context, registerID string, opts Options) (*Session, error) {
	s := NewSession(registerID, opts)
	if s.store == nil {
		return s, nil
	}

	saved, err := s.store.LoadDrawer(ctx, registerID, s.snap.BusinessDay)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("load drawer %s/%s: %w", registerID, s.snap.BusinessDay, err)
	}
	if saved.State != domain.DrawerOpen && saved.State != domain.DrawerClosed {
		return nil, fmt.Errorf("load drawer %s/%s: unknown state %q", registerID, s.snap.BusinessDay, saved.State)
	}
	s.snap = cloneSnapshot(*saved)
	return s, nil
}

func (s *Session) Open(ctx context.Context, openingFloat int64) (domain.DrawerSnapshot, error) {
	s.mu.Lock()
	if s.snap.State == domain.DrawerOpen {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: drawer for register %s is already open", ErrInvalidState, s.snap.RegisterID)
	}
	if openingFloat < 0 {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: opening float cannot be negative (got %d)", ErrValidation, openingFloat)
	}

	now := s.now()
	s.snap = domain.DrawerSnapshot{
		RegisterID:         s.snap.RegisterID,
		BusinessDay:        s.businessDay(now),
		State:              domain.DrawerOpen,
		OpenedAt:           &now,
		OpeningFloat:       openingFloat,
		CurrentCashBalance: openingFloat,
		Ledger: []domain.Movement{{
			Kind:        domain.MovementOpening,
			Description: "opening float",
			Amount:      openingFloat,
			Timestamp:   now,
		}},
		LastClose: s.snap.LastClose,
	}
	snapshot := s.commitLocked(ctx, now)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// CreditSale records a completed sale. Cash raises the cash balance; card
// only counts toward card sales.
func (s *Session) CreditSale(ctx context.Context, amount int64, tender domain.PaymentMethod, description string) (domain.DrawerSnapshot, error) {
	s.mu.Lock()
	if s.snap.State != domain.DrawerOpen {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: drawer for register %s is closed", ErrInvalidState, s.snap.RegisterID)
	}
	if amount <= 0 {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: sale amount must be positive (got %d)", ErrValidation, amount)
	}

	switch tender {
	case domain.PaymentCash:
		s.snap.CurrentCashBalance += amount
		s.snap.CumulativeCashSales += amount
	case domain.PaymentCard:
		s.snap.CumulativeCardSales += amount
	default:
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: %q sales are not recorded on the drawer", ErrValidation, tender)
	}
	s.snap.CumulativeSales += amount

	now := s.now()
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("%s sale", tender)
	}
	s.snap.Ledger = append(s.snap.Ledger, domain.Movement{
		Kind:        domain.MovementSale,
		Description: description,
		Amount:      amount,
		Tender:      tender,
		Timestamp:   now,
	})
	snapshot := s.commitLocked(ctx, now)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// RecordAdjustment moves cash in (positive) or out (negative) of the drawer.
func (s *Session) RecordAdjustment(ctx context.Context, description string, amount int64) (domain.DrawerSnapshot, error) {
	description = strings.TrimSpace(description)

	s.mu.Lock()
	if s.snap.State != domain.DrawerOpen {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: drawer for register %s is closed", ErrInvalidState, s.snap.RegisterID)
	}
	if description == "" {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: adjustment needs a description", ErrValidation)
	}
	if amount == 0 {
		s.mu.Unlock()
		return domain.DrawerSnapshot{}, fmt.Errorf("%w: adjustment amount cannot be zero", ErrValidation)
	}

	now := s.now()
	s.snap.CurrentCashBalance += amount
	s.snap.Ledger = append(s.snap.Ledger, domain.Movement{
		Kind:        domain.MovementManualAdjustment,
		Description: description,
		Amount:      amount,
		Timestamp:   now,
	})
	snapshot := s.commitLocked(ctx, now)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Close reconciles the drawer. Expected cash is the opening float plus cash
// sales; the variance is what manual adjustments moved on top of that.
func (s *Session) Close(ctx context.Context) (domain.DrawerCloseReport, error) {
	s.mu.Lock()
	if s.snap.State != domain.DrawerOpen {
		s.mu.Unlock()
		return domain.DrawerCloseReport{}, fmt.Errorf("%w: drawer for register %s is already closed", ErrInvalidState, s.snap.RegisterID)
	}

	now := s.now()
	expected := s.snap.OpeningFloat + s.snap.CumulativeCashSales
	variance := s.snap.CurrentCashBalance - expected

	s.snap.Ledger = append(s.snap.Ledger, domain.Movement{
		Kind:        domain.MovementClosing,
		Description: "drawer closed",
		Amount:      variance,
		Timestamp:   now,
	})

	report := domain.DrawerCloseReport{
		OpeningFloat:       s.snap.OpeningFloat,
		CashSales:          s.snap.CumulativeCashSales,
		CardSales:          s.snap.CumulativeCardSales,
		TotalSales:         s.snap.CumulativeSales,
		ExpectedCash:       expected,
		CurrentCashBalance: s.snap.CurrentCashBalance,
		Variance:           variance,
		OpenedAt:           s.snap.OpenedAt,
		ClosedAt:           now,
		Ledger:             cloneLedger(s.snap.Ledger),
	}

	s.snap.State = domain.DrawerClosed
	s.snap.ClosedAt = &now
	s.snap.OpeningFloat = 0
	s.snap.CurrentCashBalance = 0
	s.snap.CumulativeCashSales = 0
	s.snap.CumulativeCardSales = 0
	s.snap.CumulativeSales = 0
	s.snap.LastClose = &report

	snapshot := s.commitLocked(ctx, now)
	s.mu.Unlock()

	s.notify(snapshot)
	return cloneReport(report), nil
}

func (s *Session) Snapshot() domain.DrawerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap)
}

func (s *Session) State() domain.DrawerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State
}

func (s *Session) IsOpen() bool {
	return s.State() == domain.DrawerOpen
}

// Dirty reports whether the last persistence attempt failed.
func (s *Session) Dirty() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty, s.persistErr
}

// Flush retries persisting the current snapshot.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked(ctx, s.now())
	return s.persistErr
}

// commitLocked stamps and persists the snapshot. A failed write leaves the
// in-memory state as is and marks the session dirty; the next transition
// writes the full snapshot again.
func (s *Session) commitLocked(ctx context.Context, now time.Time) domain.DrawerSnapshot {
	s.snap.UpdatedAt = now
	snapshot := cloneSnapshot(s.snap)
	if s.store == nil {
		return snapshot
	}

	if err := s.store.SaveDrawer(ctx, snapshot); err != nil {
		s.dirty = true
		s.persistErr = err
		s.logger.Warn("drawer snapshot not persisted",
			zap.String("state", string(snapshot.State)),
			zap.String("business_day", snapshot.BusinessDay),
			zap.Error(err),
		)
		return snapshot
	}
	s.dirty = false
	s.persistErr = nil
	return snapshot
}

func (s *Session) notify(snapshot domain.DrawerSnapshot) {
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

func (s *Session) businessDay(t time.Time) string {
	return t.In(s.location).Format(time.DateOnly)
}

// CashAffecting reports whether a movement changes the cash held in the drawer.
func CashAffecting(m domain.Movement) bool {
	switch m.Kind {
	case domain.MovementManualAdjustment:
		return true
	case domain.MovementSale:
		return m.Tender == domain.PaymentCash
	default:
		return false
	}
}

// LedgerBalance recomputes the cash balance of an open session from its ledger.
func LedgerBalance(snapshot domain.DrawerSnapshot) int64 {
	balance := snapshot.OpeningFloat
	for _, m := range snapshot.Ledger {
		if CashAffecting(m) {
			balance += m.Amount
		}
	}
	return balance
}

func cloneSnapshot(in domain.DrawerSnapshot) domain.DrawerSnapshot {
	out := in
	out.Ledger = cloneLedger(in.Ledger)
	if in.OpenedAt != nil {
		t := *in.OpenedAt
		out.OpenedAt = &t
	}
	if in.ClosedAt != nil {
		t := *in.ClosedAt
		out.ClosedAt = &t
	}
	if in.LastClose != nil {
		report := cloneReport(*in.LastClose)
		out.LastClose = &report
	}
	return out
}

func cloneReport(in domain.DrawerCloseReport) domain.DrawerCloseReport {
	out := in
	out.Ledger = cloneLedger(in.Ledger)
	if in.OpenedAt != nil {
		t := *in.OpenedAt
		out.OpenedAt = &t
	}
	return out
}

func cloneLedger(in []domain.Movement) []domain.Movement {
	if in == nil {
		return nil
	}
	out := make([]domain.Movement, len(in))
	copy(out, in)
	return out
}
