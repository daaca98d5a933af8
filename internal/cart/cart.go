package cart

import (
	"errors"
	"fmt"
	"strings"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/pricing"
	"cafepos/backend/internal/xid"
)

var (
	ErrOutOfStock       = errors.New("out of stock")
	ErrInvalidOperation = errors.New("invalid cart operation")
	ErrLineNotFound     = errors.New("cart line not found")
)

const DefaultLowStockThreshold = 5

type Options struct {
	// SizeEligible reports whether products of a category are sold in S/M/L.
	SizeEligible      func(category string) bool
	LowStockThreshold int
	NewLineID         func() string
}

// AddResult describes the line touched by AddProduct. LowStock is advisory
// and never blocks the operation.
type AddResult struct {
	Line      ProductLine
	Remaining int
	LowStock  bool
}

// Shortfall is a product whose cart quantity exceeds the latest stock snapshot.
type Shortfall = domain.StockShortfall

// Cart holds the lines of one register's in-progress sale. It is not safe
// for concurrent use; callers serialize access per register.
type Cart struct {
	lines         []Line
	stock         map[string]int
	customerID    *string
	paymentMethod domain.PaymentMethod
	opts          Options
}

func New(opts Options) *Cart {
	if opts.SizeEligible == nil {
		opts.SizeEligible = func(string) bool { return false }
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.NewLineID == nil {
		opts.NewLineID = func() string { return xid.New("line") }
	}

	return &Cart{
		stock:         make(map[string]int),
		paymentMethod: domain.PaymentCash,
		opts:          opts,
	}
}

func (c *Cart) AddProduct(product domain.Product, variant domain.SizeVariant) (AddResult, error) {
	if !product.Active {
		return AddResult{}, fmt.Errorf("%w: %s is not available for sale", ErrInvalidOperation, product.Name)
	}

	variant, err := c.resolveVariant(product.Category, variant)
	if err != nil {
		return AddResult{}, err
	}

	available := max(product.Stock, 0)
	c.stock[product.ID] = available

	inCart := c.productQty(product.ID)
	if inCart >= available {
		return AddResult{}, fmt.Errorf("%w: only %d of %s available and %d already in cart", ErrOutOfStock, available, product.Name, inCart)
	}

	var touched ProductLine
	if idx := c.findProductLine(product.ID, variant); idx >= 0 {
		line := c.lines[idx].(ProductLine)
		line.Quantity++
		c.lines[idx] = line
		touched = line
	} else {
		unitPrice, err := pricing.PriceForVariant(product.Price, variant)
		if err != nil {
			return AddResult{}, err
		}
		touched = ProductLine{
			ID:        c.opts.NewLineID(),
			ProductID: product.ID,
			Name:      product.Name,
			Category:  product.Category,
			Variant:   variant,
			BasePrice: product.Price,
			UnitPrice: unitPrice,
			Quantity:  1,
		}
		c.lines = append(c.lines, touched)
	}

	remaining := available - (inCart + 1)
	return AddResult{
		Line:      touched,
		Remaining: remaining,
		LowStock:  remaining > 0 && remaining <= c.opts.LowStockThreshold,
	}, nil
}

// SetQuantity updates a line in place. A quantity of zero or less removes the
// line together with any add-ons bound to it.
func (c *Cart) SetQuantity(lineID string, qty int) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if qty <= 0 {
		c.removeAt(idx)
		return nil
	}

	switch line := c.lines[idx].(type) {
	case ProductLine:
		available := c.stock[line.ProductID]
		others := c.productQty(line.ProductID) - line.Quantity
		if others+qty > available {
			return fmt.Errorf("%w: only %d of %s available, requested %d", ErrOutOfStock, available, line.Name, others+qty)
		}
		line.Quantity = qty
		c.lines[idx] = line
	case AddOnLine:
		line.Quantity = qty
		c.lines[idx] = line
	}
	return nil
}

func (c *Cart) SetVariant(lineID string, variant domain.SizeVariant) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}

	line, ok := c.lines[idx].(ProductLine)
	if !ok {
		return fmt.Errorf("%w: add-ons have no size", ErrInvalidOperation)
	}
	if !c.opts.SizeEligible(line.Category) {
		return fmt.Errorf("%w: %s is not sold by size", ErrInvalidOperation, line.Name)
	}
	if !variant.Scaled() {
		return fmt.Errorf("%w: size %q is not one of S, M, L", ErrInvalidOperation, variant)
	}

	unitPrice, err := pricing.PriceForVariant(line.BasePrice, variant)
	if err != nil {
		return err
	}
	line.Variant = variant
	line.UnitPrice = unitPrice
	c.lines[idx] = line
	return nil
}

// UpdateLine applies a size change and then a quantity change to one line.
// If either step is rejected the cart keeps the lines it had before.
func (c *Cart) UpdateLine(lineID string, variant *domain.SizeVariant, qty *int) error {
	saved := c.Lines()
	if variant != nil {
		if err := c.SetVariant(lineID, *variant); err != nil {
			return err
		}
	}
	if qty != nil {
		if err := c.SetQuantity(lineID, *qty); err != nil {
			c.lines = saved
			return err
		}
	}
	return nil
}

func (c *Cart) AttachAddOn(parentLineID string, addOn domain.AddOn) (AddOnLine, error) {
	idx := c.indexOf(parentLineID)
	if idx < 0 {
		return AddOnLine{}, fmt.Errorf("%w: parent line %s does not exist", ErrInvalidOperation, parentLineID)
	}
	if _, ok := c.lines[idx].(ProductLine); !ok {
		return AddOnLine{}, fmt.Errorf("%w: add-ons can only be attached to a product line", ErrInvalidOperation)
	}
	if addOn.AdditionalPrice < 0 {
		return AddOnLine{}, fmt.Errorf("%w: add-on %s has a negative price", pricing.ErrInvalidPrice, addOn.Name)
	}
	for _, line := range c.lines {
		if a, ok := line.(AddOnLine); ok && a.ParentID == parentLineID && a.AddOnID == addOn.ID {
			return AddOnLine{}, fmt.Errorf("%w: %s is already attached to this item", ErrInvalidOperation, addOn.Name)
		}
	}

	line := AddOnLine{
		ID:       c.opts.NewLineID(),
		AddOnID:  addOn.ID,
		Name:     addOn.Name,
		Price:    addOn.AdditionalPrice,
		Quantity: 1,
		ParentID: parentLineID,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

func (c *Cart) RemoveLine(lineID string) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	c.removeAt(idx)
	return nil
}

func (c *Cart) Total() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.Subtotal()
	}
	return total
}

func (c *Cart) Clear() {
	c.lines = nil
	c.customerID = nil
	c.paymentMethod = domain.PaymentCash
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// ItemCount is the number of product units in the cart, add-ons excluded.
func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		if p, ok := line.(ProductLine); ok {
			count += p.Quantity
		}
	}
	return count
}

// Lines returns a copy of the lines in display order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// RefreshStock replaces the known stock snapshot and reports products whose
// cart quantity now exceeds what is available. The cart itself is untouched
// so the operator decides how to resolve each shortfall.
func (c *Cart) RefreshStock(products []domain.Product) []Shortfall {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var shortfalls []Shortfall
	seen := make(map[string]struct{})
	for _, line := range c.lines {
		pl, ok := line.(ProductLine)
		if !ok {
			continue
		}
		if _, done := seen[pl.ProductID]; done {
			continue
		}
		seen[pl.ProductID] = struct{}{}

		available := 0
		if p, exists := byID[pl.ProductID]; exists && p.Active {
			available = max(p.Stock, 0)
		}
		c.stock[pl.ProductID] = available

		if inCart := c.productQty(pl.ProductID); inCart > available {
			shortfalls = append(shortfalls, Shortfall{
				ProductID: pl.ProductID,
				Name:      pl.Name,
				InCart:    inCart,
				Available: available,
			})
		}
	}
	return shortfalls
}

func (c *Cart) CustomerID() *string {
	if c.customerID == nil {
		return nil
	}
	id := *c.customerID
	return &id
}

func (c *Cart) SetCustomer(customerID *string) {
	if customerID == nil || strings.TrimSpace(*customerID) == "" {
		c.customerID = nil
		return
	}
	id := strings.TrimSpace(*customerID)
	c.customerID = &id
}

func (c *Cart) PaymentMethod() domain.PaymentMethod {
	return c.paymentMethod
}

func (c *Cart) SetPaymentMethod(method domain.PaymentMethod) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidOperation, method)
	}
	c.paymentMethod = method
	return nil
}

func (c *Cart) resolveVariant(category string, variant domain.SizeVariant) (domain.SizeVariant, error) {
	eligible := c.opts.SizeEligible(category)
	switch {
	case variant == "" && eligible:
		return domain.SizeMedium, nil
	case variant == "":
		return domain.SizeSingle, nil
	case !variant.Valid():
		return "", fmt.Errorf("%w: unknown size %q", ErrInvalidOperation, variant)
	case eligible && !variant.Scaled():
		return "", fmt.Errorf("%w: %s products are sold in S, M or L", ErrInvalidOperation, category)
	case !eligible && variant != domain.SizeSingle:
		return "", fmt.Errorf("%w: %s products are not sold by size", ErrInvalidOperation, category)
	}
	return variant, nil
}

func (c *Cart) productQty(productID string) int {
	total := 0
	for _, line := range c.lines {
		if p, ok := line.(ProductLine); ok && p.ProductID == productID {
			total += p.Quantity
		}
	}
	return total
}

func (c *Cart) findProductLine(productID string, variant domain.SizeVariant) int {
	for i, line := range c.lines {
		if p, ok := line.(ProductLine); ok && p.ProductID == productID && p.Variant == variant {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOf(lineID string) int {
	for i, line := range c.lines {
		if line.LineID() == lineID {
			return i
		}
	}
	return -1
}

// removeAt drops the line at idx and, for product lines, every add-on bound to it.
func (c *Cart) removeAt(idx int) {
	removed := c.lines[idx]
	_, isParent := removed.(ProductLine)

	kept := c.lines[:0:0]
	for i, line := range c.lines {
		if i == idx {
			continue
		}
		if a, ok := line.(AddOnLine); ok && isParent && a.ParentID == removed.LineID() {
			continue
		}
		kept = append(kept, line)
	}
	c.lines = kept
}
