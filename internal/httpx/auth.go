package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type Authenticator interface {
	Authenticate(token string) (string, error)
}

type customerKey struct{}

// RequireCustomer resolves the session cookie to a customer id or answers 401.
func RequireCustomer(auth Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "sign in required", "status": http.StatusUnauthorized})
				return
			}
			id, err := auth.Authenticate(c.Value)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), customerKey{}, id)))
		})
	}
}

func customerID(r *http.Request) string {
	id, _ := r.Context().Value(customerKey{}).(string)
	return id
}

// RequireAdminKey admits requests carrying the configured key in the X-Admin-Key header.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "admin key required", "status": http.StatusForbidden})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
