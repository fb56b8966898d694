package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/api/middleware"
	"github.com/example/pos-checkout/internal/auth"
)

type RouterConfig struct {
	Handlers     *Handlers
	AuthHandlers *AuthHandlers
	JWTService   *auth.JWTService
	Logger       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h, a := cfg.Handlers, cfg.AuthHandlers
	requireAuth := middleware.AuthMiddleware(cfg.JWTService)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Shared invoice links work without a login.
	r.Get("/invoice", h.PublicInvoice)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.Register)
			r.Post("/login", a.Login)
			r.Post("/refresh", a.Refresh)
			r.With(middleware.OptionalAuthMiddleware(cfg.JWTService)).Post("/logout", a.Logout)
			r.With(requireAuth).Get("/me", a.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.GetProducts)
				r.Post("/", h.CreateProduct)
				r.Get("/stream", h.StreamProducts)
				r.Route("/{productID}", func(r chi.Router) {
					r.Get("/", h.GetProduct)
					r.Put("/", h.UpdateProduct)
					r.Delete("/", h.DeleteProduct)
					r.Post("/stock", h.AdjustStock)
				})
			})

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Put("/adjustments", h.UpdateCartAdjustments)
				r.Post("/items", h.AddToCart)
				r.Patch("/items/{productID}", h.ChangeQuantity)
				r.Delete("/items/{productID}", h.RemoveFromCart)
			})

			r.Post("/checkout", h.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.GetOrders)
				r.Get("/stream", h.StreamOrders)
				r.Get("/{orderID}", h.GetOrder)
				r.Get("/{orderID}/invoice", h.GetOrderInvoice)
			})
		})
	})

	return r
}
