package cart

import "cafepos/backend/internal/domain"

// Line is one entry of a cart: either a ProductLine or an AddOnLine bound to
// a product line of the same cart.
type Line interface {
	LineID() string
	Qty() int
	Subtotal() int64
	isLine()
}

type ProductLine struct {
	ID        string
	ProductID string
	Name      string
	Category  string
	Variant   domain.SizeVariant
	// BasePrice is the catalog price before size scaling. UnitPrice is always
	// derived from it.
	BasePrice int64
	UnitPrice int64
	Quantity  int
}

func (l ProductLine) LineID() string  { return l.ID }
func (l ProductLine) Qty() int        { return l.Quantity }
func (l ProductLine) Subtotal() int64 { return l.UnitPrice * int64(l.Quantity) }
func (ProductLine) isLine()           {}

type AddOnLine struct {
	ID       string
	AddOnID  string
	Name     string
	Price    int64
	Quantity int
	ParentID string
}

func (l AddOnLine) LineID() string  { return l.ID }
func (l AddOnLine) Qty() int        { return l.Quantity }
func (l AddOnLine) Subtotal() int64 { return l.Price * int64(l.Quantity) }
func (AddOnLine) isLine()           {}

// View flattens a line for JSON responses.
func View(line Line) domain.CartLineView {
	switch l := line.(type) {
	case ProductLine:
		return domain.CartLineView{
			ID:        l.ID,
			Kind:      domain.LineKindProduct,
			ProductID: l.ProductID,
			Name:      l.Name,
			Category:  l.Category,
			Variant:   l.Variant,
			Quantity:  l.Quantity,
			BasePrice: l.BasePrice,
			UnitPrice: l.UnitPrice,
			Subtotal:  l.Subtotal(),
		}
	case AddOnLine:
		return domain.CartLineView{
			ID:           l.ID,
			Kind:         domain.LineKindAddOn,
			AddOnID:      l.AddOnID,
			ParentLineID: l.ParentID,
			Name:         l.Name,
			Quantity:     l.Quantity,
			BasePrice:    l.Price,
			UnitPrice:    l.Price,
			Subtotal:     l.Subtotal(),
		}
	default:
		return domain.CartLineView{}
	}
}
