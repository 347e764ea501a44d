package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/customers"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orderflow"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors onto HTTP status codes; anything unknown is a 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, orderflow.ErrInvalidInput),
		errors.Is(err, orderflow.ErrAlreadyTerminal),
		errors.Is(err, orderflow.ErrPaymentNotVerified),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, customers.ErrInvalidInput),
		errors.Is(err, customers.ErrInvalidOTP),
		errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, customers.ErrInvalidCredentials),
		errors.Is(err, customers.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, orderflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, customers.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, redisx.ErrLocked),
		errors.Is(err, customers.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, customers.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Server errors get a generic message; the cause is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	body := map[string]any{"error": msg, "status": status}
	if id := middleware.GetReqID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "status": http.StatusBadRequest})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}
