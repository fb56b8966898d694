package api

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/example/pos-checkout/internal/api/middleware"
	"github.com/example/pos-checkout/internal/checkout"
	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/catalog"
	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/invoice"
	"github.com/example/pos-checkout/internal/logging"
)

type Handlers struct {
	catalog  *catalog.Service
	carts    *cart.Registry
	checkout *checkout.Coordinator
	orders   *order.Ledger
	invoices *invoice.Service
	logger   zerolog.Logger
}

func NewHandlers(catalogSvc *catalog.Service, carts *cart.Registry, coordinator *checkout.Coordinator, ledger *order.Ledger, invoices *invoice.Service) *Handlers {
	return &Handlers{
		catalog:  catalogSvc,
		carts:    carts,
		checkout: coordinator,
		orders:   ledger,
		invoices: invoices,
		logger:   logging.For("api"),
	}
}

// Product Handlers

type productResponse struct {
	catalog.Product
	LowStock bool `json:"low_stock"`
}

func toProductResponse(p catalog.Product) productResponse {
	return productResponse{Product: p, LowStock: p.LowStock()}
}

type productRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Stock     int             `json:"stock"`
	StockSeen *int            `json:"stock_seen,omitempty"`
	ImageURL  string          `json:"image_url"`
}

// readProductInput accepts either a JSON body or a submitted form.
func (h *Handlers) readProductInput(w http.ResponseWriter, r *http.Request) (catalog.Input, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req productRequest
		if !decodeJSON(w, r, &req) {
			return catalog.Input{}, false
		}
		in := catalog.Input{
			Name:      req.Name,
			Category:  req.Category,
			Price:     req.Price,
			Cost:      req.Cost,
			Stock:     req.Stock,
			StockSeen: req.StockSeen,
			ImageURL:  req.ImageURL,
		}
		if err := in.Validate(); err != nil {
			respondError(w, h.logger, err)
			return catalog.Input{}, false
		}
		return in, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respondJSONError(w, "Invalid form", http.StatusBadRequest)
		return catalog.Input{}, false
	}
	form := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		form[key] = r.PostForm.Get(key)
	}
	in, err := catalog.ParseProductForm(form)
	if err != nil {
		respondError(w, h.logger, err)
		return catalog.Input{}, false
	}
	return in, true
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readProductInput(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.Create(r.Context(), in)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, toProductResponse(*product))
}

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(*product))
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readProductInput(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.Update(r.Context(), chi.URLParam(r, "productID"), in)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(*product))
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "productID")); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	level, err := h.catalog.AdjustStock(r.Context(), chi.URLParam(r, "productID"), req.Delta)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"stock": level})
}

func (h *Handlers) StreamProducts(w http.ResponseWriter, r *http.Request) {
	updates, err := h.catalog.Watch(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	streamEvents(w, r, "products", updates, func(products []catalog.Product) any {
		out := make([]productResponse, 0, len(products))
		for _, p := range products {
			out = append(out, toProductResponse(p))
		}
		return out
	})
}

// Cart Handlers

type cartLineResponse struct {
	cart.Line
	Total decimal.Decimal `json:"total"`
}

type cartResponse struct {
	Lines          []cartLineResponse `json:"lines"`
	ItemCount      int                `json:"item_count"`
	SaleType       cart.SaleType      `json:"sale_type"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	DeliveryFee    decimal.Decimal    `json:"delivery_fee"`
	Totals         cart.Totals        `json:"totals"`
	Warning        string             `json:"warning,omitempty"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	lines := c.Lines()
	out := cartResponse{
		Lines:          make([]cartLineResponse, 0, len(lines)),
		ItemCount:      c.ItemCount(),
		SaleType:       c.SaleType(),
		DiscountAmount: c.Discount(),
		DeliveryFee:    c.DeliveryFee(),
		Totals:         c.Totals(),
	}
	for _, l := range lines {
		out.Lines = append(out.Lines, cartLineResponse{Line: l, Total: l.Total()})
	}
	return out
}

// session returns the cart session of the logged-in operator.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*cart.Session, bool) {
	id := middleware.SessionID(r)
	if id == "" {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return h.carts.Get(id), true
}

// mutateCart applies fn to the session's cart and responds with the result.
// ErrStockClamped is reported as a warning, not a failure.
func (h *Handlers) mutateCart(w http.ResponseWriter, r *http.Request, fn func(*cart.Cart) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var view cartResponse
	err := s.With(func(c *cart.Cart) error {
		err := fn(c)
		view = toCartResponse(c)
		return err
	})
	switch {
	case errors.Is(err, cart.ErrStockClamped):
		view.Warning = err.Error()
	case err != nil:
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(s.View()))
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	product, err := h.catalog.Get(r.Context(), req.ProductID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.mutateCart(w, r, func(c *cart.Cart) error {
		return c.AddLine(*product, req.Quantity)
	})
}

// ChangeQuantity re-reads the product so the line is checked against the
// current stock. A product deleted since it was added counts as no stock.
func (h *Handlers) ChangeQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	productID := chi.URLParam(r, "productID")

	stock := 0
	product, err := h.catalog.Get(r.Context(), productID)
	switch {
	case err == nil:
		stock = product.Stock
	case !errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, h.logger, err)
		return
	}

	h.mutateCart(w, r, func(c *cart.Cart) error {
		return c.ChangeQuantity(productID, req.Delta, stock)
	})
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	h.mutateCart(w, r, func(c *cart.Cart) error {
		if !c.RemoveLine(productID) {
			return cart.ErrLineNotFound
		}
		return nil
	})
}

func (h *Handlers) UpdateCartAdjustments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Discount    *decimal.Decimal `json:"discount"`
		DeliveryFee *decimal.Decimal `json:"delivery_fee"`
		SaleType    *cart.SaleType   `json:"sale_type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	h.mutateCart(w, r, func(c *cart.Cart) error {
		if req.SaleType != nil {
			if err := c.SetSaleType(*req.SaleType); err != nil {
				return err
			}
		}
		if req.Discount != nil {
			c.SetDiscount(*req.Discount)
		}
		if req.DeliveryFee != nil {
			c.SetDeliveryFee(*req.DeliveryFee)
		}
		return nil
	})
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

// Checkout Handlers

type checkoutResponse struct {
	OrderID    string `json:"order_id"`
	InvoiceURL string `json:"invoice_url"`
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var info order.CustomerInfo
	if !decodeOptionalJSON(w, r, &info) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	orderID, err := h.checkout.CheckoutSession(r.Context(), s, info)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:    orderID,
		InvoiceURL: h.invoices.ShareLink(orderID),
	})
}

// Order Handlers

type orderSummary struct {
	ID            string              `json:"id"`
	Number        string              `json:"number"`
	CreatedAt     time.Time           `json:"created_at"`
	CustomerName  string              `json:"customer_name"`
	FinalTotal    decimal.Decimal     `json:"final_total"`
	SaleType      cart.SaleType       `json:"sale_type"`
	PaymentMethod order.PaymentMethod `json:"payment_method"`
}

func summarize(orders []order.Order) []orderSummary {
	out := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderSummary{
			ID:            o.ID,
			Number:        invoice.ShortNumber(o.ID),
			CreatedAt:     o.CreatedAt,
			CustomerName:  o.CustomerName,
			FinalTotal:    o.FinalTotal,
			SaleType:      o.SaleType,
			PaymentMethod: o.PaymentMethod,
		})
	}
	return out
}

type orderResponse struct {
	order.Order
	Profit decimal.Decimal `json:"profit"`
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(orders))
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, orderResponse{Order: *o, Profit: o.Profit()})
}

func (h *Handlers) StreamOrders(w http.ResponseWriter, r *http.Request) {
	updates, err := h.orders.Watch(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	streamEvents(w, r, "orders", updates, func(orders []order.Order) any {
		return summarize(orders)
	})
}

// Invoice Handlers

type invoiceResponse struct {
	Invoice   *invoice.View `json:"invoice"`
	ShareLink string        `json:"share_link"`
}

func (h *Handlers) GetOrderInvoice(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	view, err := h.invoices.Get(r.Context(), orderID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, invoiceResponse{Invoice: view, ShareLink: h.invoices.ShareLink(orderID)})
}

// PublicInvoice serves a shared invoice link. It needs no login: the order
// id is the only credential.
func (h *Handlers) PublicInvoice(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		respondJSONError(w, "orderId is required", http.StatusBadRequest)
		return
	}

	view, err := h.invoices.Get(r.Context(), orderID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
