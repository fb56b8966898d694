// Package cart holds the session-local cart a sale is built in. Nothing
// here touches the store; checkout freezes a cart into an order.
package cart

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/example/pos-checkout/internal/domain/catalog"
)

var (
	ErrOutOfStock      = errors.New("not enough stock")
	ErrStockClamped    = errors.New("quantity limited to available stock")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("product is not in the cart")
	ErrInvalidSaleType = errors.New("sale type must be local or delivery")
)

type SaleType string

const (
	SaleLocal    SaleType = "local"
	SaleDelivery SaleType = "delivery"
)

func (t SaleType) Valid() bool {
	return t == SaleLocal || t == SaleDelivery
}

// Line is a snapshot of a product taken when it was added.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Quantity  int             `json:"quantity"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) TotalCost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Delivery decimal.Decimal `json:"delivery"`
	Total    decimal.Decimal `json:"total"`
}

// Cart is not safe for concurrent use; Registry serializes access per
// session.
type Cart struct {
	lines       []Line
	discount    decimal.Decimal
	deliveryFee decimal.Decimal
	saleType    SaleType
}

func New() *Cart {
	return &Cart{saleType: SaleLocal}
}

func (c *Cart) indexOf(productID string) int {
	return slices.IndexFunc(c.lines, func(l Line) bool { return l.ProductID == productID })
}

// AddLine adds qty units of p, or increments its existing line. It fails
// with ErrOutOfStock if the resulting quantity would exceed p.Stock.
func (c *Cart) AddLine(p catalog.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if p.Stock < 1 {
		return fmt.Errorf("%w: %s is sold out", ErrOutOfStock, p.Name)
	}

	if i := c.indexOf(p.ID); i >= 0 {
		if c.lines[i].Quantity+qty > p.Stock {
			return fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, p.Stock, p.Name)
		}
		c.lines[i].Quantity += qty
		return nil
	}

	if qty > p.Stock {
		return fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, p.Stock, p.Name)
	}
	c.lines = append(c.lines, Line{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		UnitCost:  p.Cost,
		Quantity:  qty,
	})
	return nil
}

// ChangeQuantity adds delta to a line. A result of zero or less removes the
// line. A result above currentStock is clamped to it and ErrStockClamped is
// returned; the clamped change is kept.
func (c *Cart) ChangeQuantity(productID string, delta, currentStock int) error {
	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}

	next := c.lines[i].Quantity + delta
	switch {
	case next <= 0 || currentStock <= 0:
		c.lines = slices.Delete(c.lines, i, i+1)
		if next > 0 {
			return ErrStockClamped
		}
	case next > currentStock:
		c.lines[i].Quantity = currentStock
		return ErrStockClamped
	default:
		c.lines[i].Quantity = next
	}
	return nil
}

// RemoveLine drops a product from the cart and reports whether it was there.
func (c *Cart) RemoveLine(productID string) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	return true
}

// SetDiscount sets the discount amount. Negative amounts are clamped to 0;
// the cap at the subtotal is applied by Totals.
func (c *Cart) SetDiscount(amount decimal.Decimal) {
	c.discount = nonNegative(amount)
}

// SetDeliveryFee sets the delivery fee, clamped to >= 0. It only counts
// towards the total for delivery sales.
func (c *Cart) SetDeliveryFee(amount decimal.Decimal) {
	c.deliveryFee = nonNegative(amount)
}

func (c *Cart) SetSaleType(t SaleType) error {
	if !t.Valid() {
		return ErrInvalidSaleType
	}
	c.saleType = t
	return nil
}

func (c *Cart) Lines() []Line {
	return slices.Clone(c.lines)
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// ItemCount is the total number of units across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) SaleType() SaleType {
	return c.saleType
}

func (c *Cart) Discount() decimal.Decimal {
	return c.discount
}

func (c *Cart) DeliveryFee() decimal.Decimal {
	return c.deliveryFee
}

func (c *Cart) Totals() Totals {
	subtotal := decimal.Zero
	for _, l := range c.lines {
		subtotal = subtotal.Add(l.Total())
	}

	discount := decimal.Min(c.discount, subtotal)
	delivery := decimal.Zero
	if c.saleType == SaleDelivery {
		delivery = c.deliveryFee
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Delivery: delivery,
		Total:    subtotal.Sub(discount).Add(delivery),
	}
}

// TotalCost is the sum of unit cost times quantity.
func (c *Cart) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.TotalCost())
	}
	return total
}

// Clear empties the cart and resets discount and delivery fee. The sale
// type is kept.
func (c *Cart) Clear() {
	c.lines = nil
	c.discount = decimal.Zero
	c.deliveryFee = decimal.Zero
}

// Clone returns an independent copy.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.lines = slices.Clone(c.lines)
	return &cp
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
