// Package invoice renders orders for display, printing and sharing.
package invoice

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/order"
)

const dateLayout = "02/01/2006 15:04"

type Line struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

// Customer is the customer block. Phone and address are only shown for
// delivery sales.
type Customer struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	SaleType string `json:"sale_type"`
}

// View is everything an invoice displays. Discount and Delivery are empty
// when the order had none.
type View struct {
	OrderID       string   `json:"order_id"`
	Number        string   `json:"number"`
	Date          string   `json:"date"`
	Customer      Customer `json:"customer"`
	Lines         []Line   `json:"lines"`
	Subtotal      string   `json:"subtotal"`
	Discount      string   `json:"discount,omitempty"`
	Delivery      string   `json:"delivery,omitempty"`
	Total         string   `json:"total"`
	PaymentMethod string   `json:"payment_method"`
	Status        string   `json:"status"`
}

// Render projects an order into its invoice. It does no I/O and always
// returns the same view for the same order.
func Render(o order.Order) View {
	v := View{
		OrderID:       o.ID,
		Number:        "ORDEN #" + ShortNumber(o.ID),
		Date:          o.CreatedAt.UTC().Format(dateLayout),
		Customer:      customerOf(o),
		Lines:         make([]Line, 0, len(o.Items)),
		Subtotal:      Money(o.Subtotal),
		Total:         Money(o.FinalTotal),
		PaymentMethod: string(o.PaymentMethod),
		Status:        o.Status,
	}
	for _, l := range o.Items {
		v.Lines = append(v.Lines, Line{
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: Money(l.UnitPrice),
			Total:     Money(l.Total()),
		})
	}
	if o.Discount.IsPositive() {
		v.Discount = "-" + Money(o.Discount)
	}
	if o.Delivery.IsPositive() {
		v.Delivery = "+" + Money(o.Delivery)
	}
	return v
}

func customerOf(o order.Order) Customer {
	c := Customer{Name: o.CustomerName, SaleType: "Local"}
	if c.Name == "" {
		c.Name = order.DefaultCustomerName
	}
	if o.SaleType == cart.SaleDelivery {
		c.SaleType = "Delivery"
		c.Phone = o.CustomerPhone
		c.Address = o.CustomerAddress
	}
	return c
}

// ShortNumber is the last eight characters of an order id, upper-cased.
func ShortNumber(id string) string {
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return strings.ToUpper(id)
}

// Money formats an amount as "$12.50".
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// ShareLink returns the public link that opens an order's invoice.
func ShareLink(baseURL, orderID string) string {
	return strings.TrimRight(baseURL, "/") + "/invoice?orderId=" + url.QueryEscape(orderID)
}
