package sale

import (
	"fmt"
	"strings"

	"cafepos/backend/internal/cart"
	"cafepos/backend/internal/domain"
)

type Request struct {
	OperatorID    string
	CustomerID    *string
	PaymentMethod domain.PaymentMethod
	Observations  string
}

// BuildSale folds the cart lines into a sale payload. Add-on lines are
// attached to their parent's add-on list; an add-on whose parent is not in
// the lines is dropped and reported as a warning. The total is the sum of
// what is actually sent.
func BuildSale(lines []cart.Line, req Request) (domain.Sale, []string) {
	sale := domain.Sale{
		OperatorID:    strings.TrimSpace(req.OperatorID),
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Observations:  strings.TrimSpace(req.Observations),
		Lines:         []domain.SaleLine{},
	}

	parents := make(map[string]int, len(lines))
	for _, line := range lines {
		p, ok := line.(cart.ProductLine)
		if !ok {
			continue
		}
		parents[p.ID] = len(sale.Lines)
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ProductID: p.ProductID,
			Quantity:  p.Quantity,
			Subtotal:  p.Subtotal(),
			AddOns:    []domain.SaleAddOn{},
		})
		sale.Total += p.Subtotal()
	}

	var warnings []string
	for _, line := range lines {
		a, ok := line.(cart.AddOnLine)
		if !ok {
			continue
		}
		idx, found := parents[a.ParentID]
		if !found {
			warnings = append(warnings, fmt.Sprintf("%v: %s (line %s) has no parent %q and was left out", ErrOrphanAddOn, a.Name, a.ID, a.ParentID))
			continue
		}
		sale.Lines[idx].AddOns = append(sale.Lines[idx].AddOns, domain.SaleAddOn{
			AddOnID:         a.AddOnID,
			AdditionalPrice: a.Price,
			Quantity:        a.Quantity,
		})
		sale.Total += a.Subtotal()
	}

	return sale, warnings
}

// validate checks a built sale before anything leaves the process.
func validate(sale domain.Sale) error {
	if len(sale.Lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	if sale.OperatorID == "" {
		return fmt.Errorf("%w: operator is required", ErrValidation)
	}
	if !sale.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, sale.PaymentMethod)
	}
	for _, line := range sale.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: product %s has quantity %d", ErrValidation, line.ProductID, line.Quantity)
		}
	}
	return nil
}

// shortfalls compares the sale's product quantities with a fresh stock list.
func shortfalls(sale domain.Sale, products []domain.Product) []cart.Shortfall {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	wanted := make(map[string]int)
	order := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if _, seen := wanted[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		wanted[line.ProductID] += line.Quantity
	}

	var out []cart.Shortfall
	for _, id := range order {
		p, ok := byID[id]
		available := p.Stock
		if !ok || !p.Active {
			available = 0
		}
		if wanted[id] > available {
			out = append(out, cart.Shortfall{ProductID: id, Name: p.Name, InCart: wanted[id], Available: available})
		}
	}
	return out
}
