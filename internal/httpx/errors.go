package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/ariefcatur/go-cart-reservations/internal/checkout"
	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"go.uber.org/zap"
)

type errorBody struct {
	Error    string   `json:"error"`
	Products []string `json:"products,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, lock.ErrTimeout),
		errors.Is(err, orders.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, orders.ErrNotFound),
		errors.Is(err, cart.ErrItemNotInCart):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidProduct),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrItemUnavailable),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrAlreadyTerminal),
		errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrInvalidAddress),
		errors.Is(err, checkout.ErrInvalidPayment),
		errors.Is(err, checkout.ErrInvalidShipping):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError maps a typed failure to a status and names the products that
// caused it.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := statusOf(err)
	body := errorBody{Error: err.Error(), Products: offendingProducts(err)}
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		body = errorBody{Error: "internal error"}
	}
	writeJSON(w, code, body)
}

func offendingProducts(err error) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		var id string
		switch e := err.(type) {
		case *inventory.StockError:
			id = e.ProductID
		case *checkout.ItemError:
			id = e.ProductID
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
