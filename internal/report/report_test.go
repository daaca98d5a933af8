package report_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/report"
)

func closedSnapshot() domain.DrawerSnapshot {
	opened := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	closed := opened.Add(9 * time.Hour)
	ledger := []domain.Movement{
		{Kind: domain.MovementOpening, Description: "Opening float", Amount: 10000, Timestamp: opened},
		{Kind: domain.MovementSale, Description: "Sale s-1", Amount: 2500, Tender: domain.PaymentCash, Timestamp: opened.Add(time.Hour)},
		{Kind: domain.MovementSale, Description: "Sale s-2", Amount: 3500, Tender: domain.PaymentCard, Timestamp: opened.Add(2 * time.Hour)},
		{Kind: domain.MovementManualAdjustment, Description: "Paid milk supplier", Amount: -1000, Timestamp: opened.Add(3 * time.Hour)},
		{Kind: domain.MovementClosing, Description: "Closing", Amount: 11500, Timestamp: closed},
	}
	return domain.DrawerSnapshot{
		RegisterID:  "bar-1",
		BusinessDay: "2026-03-02",
		State:       domain.DrawerClosed,
		OpenedAt:    &opened,
		ClosedAt:    &closed,
		Ledger:      ledger,
		LastClose: &domain.DrawerCloseReport{
			OpeningFloat:       10000,
			CashSales:          2500,
			CardSales:          3500,
			TotalSales:         6000,
			ExpectedCash:       12500,
			CurrentCashBalance: 11500,
			Variance:           -1000,
			OpenedAt:           &opened,
			ClosedAt:           closed,
			Ledger:             ledger,
		},
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0", report.Money(0))
	assert.Equal(t, "950", report.Money(950))
	assert.Equal(t, "12,500", report.Money(12500))
	assert.Equal(t, "-1,000", report.Money(-1000))
	assert.Equal(t, "1,234,567", report.Money(1234567))
}

func TestRenderDrawerShowsReconciliation(t *testing.T) {
	out := report.RenderDrawer(closedSnapshot())

	assert.Contains(t, out, "Register bar-1")
	assert.Contains(t, out, "2026-03-02")
	assert.Contains(t, out, "Paid milk supplier")
	assert.Contains(t, out, "12,500")
	assert.Contains(t, out, "11,500")
	assert.Contains(t, out, "variance -1,000")
}

func TestRenderCloseBalanced(t *testing.T) {
	snap := closedSnapshot()
	snap.LastClose.Variance = 0
	assert.Contains(t, report.RenderClose(*snap.LastClose), "balanced")
}

func TestRenderLedgerEmpty(t *testing.T) {
	assert.Contains(t, report.RenderLedger(nil), "no movements")
}
