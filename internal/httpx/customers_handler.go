package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/customers"
)

type Accounts interface {
	SignUp(ctx context.Context, in customers.SignUpInput) (*customers.Customer, error)
	SignIn(ctx context.Context, email, password string) (customers.Session, error)
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*customers.Customer, error)
	ResetPassword(ctx context.Context, email, code, password string) error
	Confirm(ctx context.Context, customerID string) (*customers.Customer, error)
	Authenticate(token string) (string, error)
}

type CustomersHandler struct {
	Accounts   Accounts
	CookieName string
	Secure     bool
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Otp      string `json:"otp"`
}

// Register mounts the public auth routes. /confirm and /sign-out go through RequireCustomer.
func (h *CustomersHandler) Register(r chi.Router) {
	r.Post("/sign-up", h.signUp)
	r.Post("/sign-in", h.signIn)
	r.Post("/send-otp", h.sendOTP)
	r.Post("/verify-otp", h.verifyOTP)
	r.Post("/reset-password", h.resetPassword)
	r.Group(func(r chi.Router) {
		r.Use(RequireCustomer(h.Accounts, h.CookieName))
		r.Post("/confirm", h.confirm)
		r.Post("/sign-out", h.signOut)
	})
}

func (h *CustomersHandler) signUp(w http.ResponseWriter, r *http.Request) {
	var req customers.SignUpInput
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Accounts.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": c})
}

func (h *CustomersHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.Accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sess)
}

func (h *CustomersHandler) signOut(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Secure,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomersHandler) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Accounts.SendOTP(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (h *CustomersHandler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Accounts.VerifyOTP(r.Context(), req.Email, req.Otp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (h *CustomersHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Accounts.ResetPassword(r.Context(), req.Email, req.Otp, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *CustomersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	c, err := h.Accounts.Confirm(r.Context(), customerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}
