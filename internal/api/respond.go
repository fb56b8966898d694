package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/auth"
	"github.com/example/pos-checkout/internal/checkout"
	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/catalog"
	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/infrastructure/store"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for bodies whose fields are all
// optional: an empty body leaves dst at its zero value.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if allowEmpty && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound

	case errors.Is(err, checkout.ErrInsufficientStock),
		errors.Is(err, catalog.ErrStockChanged),
		errors.Is(err, cart.ErrCheckoutInProgress),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict

	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidSaleType),
		errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, order.ErrInvalidCustomer),
		errors.Is(err, auth.ErrInvalidRegistration),
		errors.Is(err, auth.ErrPasswordTooShort):
		return http.StatusBadRequest

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized

	case errors.Is(err, checkout.ErrCheckoutFailed),
		errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, store.ErrWatchUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Unexpected errors are
// logged and reported without detail.
func respondError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("unhandled error")
		respondJSONError(w, "internal error", status)
		return
	}
	respondJSONError(w, err.Error(), status)
}
