// Package order defines the immutable sale record written at checkout and
// the ledger that stores it.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/infrastructure/store"
)

const (
	Collection = "orders"

	StatusCompleted = "Completed"

	// DefaultCustomerName is used when the operator leaves the name blank.
	DefaultCustomerName = "Consumidor Final"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrInvalidCustomer = errors.New("invalid customer details")

	ErrAddressRequired      = fmt.Errorf("%w: address is required for delivery", ErrInvalidCustomer)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: payment method must be cash, card or transfer", ErrInvalidCustomer)
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

// CustomerInfo is what the operator enters at checkout.
type CustomerInfo struct {
	Name          string        `json:"name" validate:"max=120"`
	Phone         string        `json:"phone,omitempty" validate:"max=40"`
	Address       string        `json:"address,omitempty" validate:"max=240"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"omitempty,oneof=cash card transfer"`
}

var validate = validator.New()

// Normalize trims fields and fills in defaults.
func (c CustomerInfo) Normalize() CustomerInfo {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	if c.Name == "" {
		c.Name = DefaultCustomerName
	}
	if c.PaymentMethod == "" {
		c.PaymentMethod = PaymentCash
	}
	return c
}

// Validate checks the customer block for a sale of the given type. The
// address is required only for delivery sales.
func (c CustomerInfo) Validate(saleType cart.SaleType) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "PaymentMethod" {
			return ErrInvalidPaymentMethod
		}
		return fmt.Errorf("%w: %w", ErrInvalidCustomer, err)
	}
	if saleType == cart.SaleDelivery && strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	return nil
}

type Order struct {
	ID              string          `json:"id"`
	Items           []cart.Line     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Delivery        decimal.Decimal `json:"delivery"`
	FinalTotal      decimal.Decimal `json:"final_total"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	SaleType        cart.SaleType   `json:"sale_type"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
}

// Profit is the final total minus the cost of the goods sold.
func (o Order) Profit() decimal.Decimal {
	return o.FinalTotal.Sub(o.TotalCost)
}

// NewFromCart freezes a cart into an order. The ID is left empty for the
// ledger to assign. info should already be normalized and validated.
func NewFromCart(c *cart.Cart, info CustomerInfo, createdBy string, now time.Time) Order {
	totals := c.Totals()
	o := Order{
		Items:         c.Lines(),
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		Delivery:      totals.Delivery,
		FinalTotal:    totals.Total,
		TotalCost:     c.TotalCost(),
		CustomerName:  info.Name,
		CustomerPhone: info.Phone,
		PaymentMethod: info.PaymentMethod,
		SaleType:      c.SaleType(),
		Status:        StatusCompleted,
		CreatedAt:     now.UTC(),
		CreatedBy:     createdBy,
	}
	if o.SaleType == cart.SaleDelivery {
		o.CustomerAddress = info.Address
	}
	return o
}

// Path returns the store path of an order document.
func Path(id string) string {
	return store.Join(Collection, id)
}

func decode(key string, raw json.RawMessage) (Order, error) {
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, fmt.Errorf("malformed order %s: %w", key, err)
	}
	o.ID = key
	return o, nil
}
