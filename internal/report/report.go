package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/drawer"
)

var (
	accent  = lipgloss.Color("#B45309")
	dim     = lipgloss.Color("#6B7280")
	success = lipgloss.Color("#16A34A")
	danger  = lipgloss.Color("#DC2626")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2).
			Width(60)
	labelStyle    = lipgloss.NewStyle().Foreground(dim).Width(24)
	valueStyle    = lipgloss.NewStyle().Bold(true).Align(lipgloss.Right).Width(14)
	balancedStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	varianceStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(dim)
	separatorLine = dimStyle.Render(strings.Repeat("─", 56))
)

// Money formats whole currency units with thousands separators.
func Money(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// RenderDrawer renders a drawer session: its balances, its ledger and, once
// closed, the reconciliation of the last close.
func RenderDrawer(snap domain.DrawerSnapshot) string {
	var b strings.Builder

	title := headerStyle.Render(fmt.Sprintf("Register %s", snap.RegisterID))
	subtitle := dimStyle.Render(fmt.Sprintf("Business day %s · %s", snap.BusinessDay, snap.State))

	rows := []string{
		row("Opening float", snap.OpeningFloat),
		row("Cash sales", snap.CumulativeCashSales),
		row("Card sales", snap.CumulativeCardSales),
		row("Total sales", snap.CumulativeSales),
		row("Cash in drawer", snap.CurrentCashBalance),
	}
	b.WriteString(boxStyle.Render(title + "\n" + subtitle + "\n\n" + strings.Join(rows, "\n")))
	b.WriteString("\n\n")

	ledger := snap.Ledger
	if snap.LastClose != nil && len(ledger) == 0 {
		ledger = snap.LastClose.Ledger
	}
	b.WriteString(RenderLedger(ledger))

	if snap.LastClose != nil {
		b.WriteString("\n")
		b.WriteString(RenderClose(*snap.LastClose))
	}
	return b.String()
}

func RenderLedger(ledger []domain.Movement) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Ledger"))
	b.WriteString("\n")
	b.WriteString(separatorLine)
	b.WriteString("\n")
	if len(ledger) == 0 {
		b.WriteString(dimStyle.Render("  no movements"))
		b.WriteString("\n")
		return b.String()
	}
	for _, m := range ledger {
		amount := Money(m.Amount)
		if !drawer.CashAffecting(m) && m.Kind != domain.MovementOpening && m.Kind != domain.MovementClosing {
			amount = dimStyle.Render(amount + " (" + string(m.Tender) + ")")
		}
		fmt.Fprintf(&b, "  %s  %-10s %-28s %s\n",
			dimStyle.Render(m.Timestamp.Format(time.TimeOnly)),
			m.Kind,
			truncate(m.Description, 28),
			amount,
		)
	}
	return b.String()
}

func RenderClose(report domain.DrawerCloseReport) string {
	varianceLine := balancedStyle.Render("balanced")
	if report.Variance != 0 {
		varianceLine = varianceStyle.Render(fmt.Sprintf("variance %s", Money(report.Variance)))
	}
	rows := []string{
		row("Expected cash", report.ExpectedCash),
		row("Counted balance", report.CurrentCashBalance),
		row("Variance", report.Variance),
	}
	title := headerStyle.Render("Close " + report.ClosedAt.Format(time.DateTime))
	return boxStyle.Render(title + "\n\n" + strings.Join(rows, "\n") + "\n\n" + varianceLine)
}

func row(label string, amount int64) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(Money(amount)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
