// Package catalog manages the products a point of sale can sell.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/example/pos-checkout/internal/infrastructure/store"
)

const (
	Collection = "products"

	// LowStockThreshold flags products with fewer units than this.
	LowStockThreshold = 5
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrStockChanged    = errors.New("stock changed since the product was loaded")

	ErrInvalidName     = fmt.Errorf("%w: name is required", ErrInvalidProduct)
	ErrInvalidCategory = fmt.Errorf("%w: category is too long", ErrInvalidProduct)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be a non-negative amount", ErrInvalidProduct)
	ErrInvalidCost     = fmt.Errorf("%w: cost must be a non-negative amount", ErrInvalidProduct)
	ErrInvalidStock    = fmt.Errorf("%w: stock must be a non-negative whole number", ErrInvalidProduct)
	ErrInvalidImageURL = fmt.Errorf("%w: image URL is not a valid URL", ErrInvalidProduct)
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Stock     int             `json:"stock"`
	ImageURL  string          `json:"image_url,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LowStock reports whether the product needs restocking.
func (p Product) LowStock() bool {
	return p.Stock < LowStockThreshold
}

// Path returns the store path of a product document.
func Path(id string) string {
	return store.Join(Collection, id)
}

// StockPath returns the store path of a product's stock counter.
func StockPath(id string) string {
	return store.Join(Collection, id, "stock")
}

func decode(key string, raw json.RawMessage) (Product, error) {
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, fmt.Errorf("malformed product %s: %w", key, err)
	}
	p.ID = key
	return p, nil
}

// Input is a validated product form. On update, StockSeen is the stock the
// form was loaded with; Stock is applied relative to it, and a nil
// StockSeen leaves the stock alone.
type Input struct {
	Name      string          `validate:"required,max=120"`
	Category  string          `validate:"max=60"`
	Price     decimal.Decimal `validate:"-"`
	Cost      decimal.Decimal `validate:"-"`
	Stock     int             `validate:"gte=0"`
	StockSeen *int            `validate:"omitempty,gte=0"`
	ImageURL  string          `validate:"omitempty,url"`
}

var validate = validator.New()

var fieldErrors = map[string]error{
	"Name":      ErrInvalidName,
	"Category":  ErrInvalidCategory,
	"Stock":     ErrInvalidStock,
	"StockSeen": ErrInvalidStock,
	"ImageURL":  ErrInvalidImageURL,
}

// Validate checks field constraints.
func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			if mapped, ok := fieldErrors[verrs[0].Field()]; ok {
				return mapped
			}
		}
		return fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}
	if in.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if in.Cost.IsNegative() {
		return ErrInvalidCost
	}
	return nil
}

// ParseProductForm turns untyped form fields into an Input. Numeric fields
// must parse completely: "12abc" is rejected, not truncated. Blank cost and
// stock default to zero; price is required. stock_seen is optional.
func ParseProductForm(form map[string]string) (Input, error) {
	field := func(name string) string { return strings.TrimSpace(form[name]) }

	in := Input{
		Name:     field("name"),
		Category: field("category"),
		ImageURL: field("image_url"),
	}

	price, err := decimal.NewFromString(field("price"))
	if err != nil {
		return Input{}, ErrInvalidPrice
	}
	in.Price = price

	if raw := field("cost"); raw != "" {
		cost, err := decimal.NewFromString(raw)
		if err != nil {
			return Input{}, ErrInvalidCost
		}
		in.Cost = cost
	}

	if raw := field("stock"); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return Input{}, ErrInvalidStock
		}
		in.Stock = stock
	}

	if raw := field("stock_seen"); raw != "" {
		seen, err := strconv.Atoi(raw)
		if err != nil {
			return Input{}, ErrInvalidStock
		}
		in.StockSeen = &seen
	}

	if err := in.Validate(); err != nil {
		return Input{}, err
	}
	return in, nil
}
