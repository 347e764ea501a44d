package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/customers"
	"github.com/ariefcatur/go-storefront-orders/internal/orderflow"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

const cookieName = "session"

type stubFlow struct {
	create  func(ctx context.Context, in orderflow.CreateOrderInput) (orderflow.CreateResult, error)
	confirm func(ctx context.Context, customerID, orderID string) (*orders.Order, error)
	cancel  func(ctx context.Context, customerID, orderID, reason string) (*orders.Order, error)
	get     func(ctx context.Context, customerID, orderID string) (*orders.Order, error)
}

func (s *stubFlow) CreateOrder(ctx context.Context, in orderflow.CreateOrderInput) (orderflow.CreateResult, error) {
	return s.create(ctx, in)
}

func (s *stubFlow) ConfirmPayment(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	return s.confirm(ctx, customerID, orderID)
}

func (s *stubFlow) PaymentFailed(_ context.Context, _, orderID string) (orderflow.CloseResult, error) {
	return orderflow.CloseResult{OrderID: orderID, Deleted: true}, nil
}

func (s *stubFlow) CancelOrder(ctx context.Context, customerID, orderID, reason string) (*orders.Order, error) {
	return s.cancel(ctx, customerID, orderID, reason)
}

func (s *stubFlow) UpdateOrder(context.Context, string, string, orderflow.UpdateOrderInput) (*orders.Order, error) {
	return nil, orders.ErrInvalidTransition
}

func (s *stubFlow) DeleteOrder(_ context.Context, _, orderID string) (orderflow.CloseResult, error) {
	return orderflow.CloseResult{OrderID: orderID, Deleted: true}, nil
}

func (s *stubFlow) GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	return s.get(ctx, customerID, orderID)
}

func (s *stubFlow) ListOrders(context.Context, string, int, int) ([]orders.Order, error) {
	return []orders.Order{}, nil
}

func (s *stubFlow) TrackOrder(context.Context, string, string) (shipping.Tracking, error) {
	return shipping.Tracking{AWBCode: "AWB1"}, nil
}

type stubAccounts struct {
	signIn func(ctx context.Context, email, password string) (customers.Session, error)
}

func (a *stubAccounts) SignUp(_ context.Context, in customers.SignUpInput) (*customers.Customer, error) {
	return &customers.Customer{ID: "c-new", Email: in.Email}, nil
}

func (a *stubAccounts) SignIn(ctx context.Context, email, password string) (customers.Session, error) {
	return a.signIn(ctx, email, password)
}

func (a *stubAccounts) SendOTP(context.Context, string) error { return nil }

func (a *stubAccounts) VerifyOTP(context.Context, string, string) (*customers.Customer, error) {
	return nil, customers.ErrInvalidOTP
}

func (a *stubAccounts) ResetPassword(context.Context, string, string, string) error { return nil }

func (a *stubAccounts) Confirm(_ context.Context, id string) (*customers.Customer, error) {
	return &customers.Customer{ID: id}, nil
}

// Authenticate accepts "token-<customer id>".
func (a *stubAccounts) Authenticate(token string) (string, error) {
	if id, ok := strings.CutPrefix(token, "token-"); ok {
		return id, nil
	}
	return "", customers.ErrInvalidToken
}

type stubCatalog struct{}

func (stubCatalog) Create(_ context.Context, p *catalog.Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", catalog.ErrInvalid)
	}
	p.ID = "p-1"
	return nil
}

func (stubCatalog) Get(_ context.Context, id string) (*catalog.Product, error) {
	if id != "p-1" {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Product{ID: id, Name: "Tee"}, nil
}

func (stubCatalog) List(context.Context, catalog.Query) ([]catalog.Product, error) {
	return []catalog.Product{{ID: "p-1", Name: "Tee"}}, nil
}

const adminKey = "admin-secret"

func newServer(t *testing.T, flow *stubFlow, acc *stubAccounts) *httptest.Server {
	t.Helper()
	return newServerWithKey(t, flow, acc, adminKey)
}

func newServerWithKey(t *testing.T, flow *stubFlow, acc *stubAccounts, key string) *httptest.Server {
	t.Helper()
	if acc == nil {
		acc = &stubAccounts{}
	}
	r := NewRouter(nil)
	Mount(r, Handlers{
		Orders:     &OrdersHandler{Flow: flow},
		Customers:  &CustomersHandler{Accounts: acc, CookieName: cookieName},
		Products:   &ProductsHandler{Catalog: stubCatalog{}},
		Auth:       acc,
		CookieName: cookieName,
		AdminKey:   key,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body, customer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if customer != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "token-" + customer})
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestOrderRoutesRequireSession(t *testing.T) {
	srv := newServer(t, &stubFlow{}, nil)
	resp, _ := call(t, srv, http.MethodGet, "/get-orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get-orders", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "garbage"})
	r2, err := srv.Client().Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r2.StatusCode)
}

func TestCreateOrderRoute(t *testing.T) {
	var got orderflow.CreateOrderInput
	flow := &stubFlow{create: func(_ context.Context, in orderflow.CreateOrderInput) (orderflow.CreateResult, error) {
		got = in
		o := &orders.Order{ID: "o-1", CustomerID: in.CustomerID, PaymentSessionID: "cs_1"}
		return orderflow.CreateResult{Order: o, Timeout: orderflow.Outcome{OK: true}, Payment: orderflow.Outcome{OK: true},
			Shipment: orderflow.Outcome{Error: "shiprocket down"}}, nil
	}}
	srv := newServer(t, flow, nil)

	body := `{"totalAmount": "350", "products": [{"id": "p", "price": 100, "quantity": "2", "color": "black", "size": "M"}],
		"address": {"name": "Asha", "pincode": "560001"}}`
	resp, out := call(t, srv, http.MethodPost, "/create-order", body, "c-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "cs_1", out["paymentSessionId"])
	assert.Equal(t, true, out["degraded"])

	assert.Equal(t, "c-1", got.CustomerID)
	assert.Equal(t, "Asha", got.BillingAddress.Name)
	total, ok := got.TotalAmount.Decimal()
	require.True(t, ok)
	assert.Equal(t, "350", total.String())
	require.Len(t, got.Items, 1)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{orderflow.ErrForbidden, http.StatusForbidden},
		{orderflow.ErrAlreadyTerminal, http.StatusBadRequest},
		{fmt.Errorf("%w: pending", orderflow.ErrPaymentNotVerified), http.StatusBadRequest},
		{orders.ErrNotFound, http.StatusNotFound},
		{&orders.InsufficientStockError{}, http.StatusConflict},
		{redisx.ErrLocked, http.StatusConflict},
		{customers.ErrInvalidCredentials, http.StatusUnauthorized},
		{customers.ErrTooManyAttempts, http.StatusTooManyRequests},
		{errors.New("pg: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			flow := &stubFlow{cancel: func(context.Context, string, string, string) (*orders.Order, error) { return nil, tc.err }}
			srv := newServer(t, flow, nil)
			resp, out := call(t, srv, http.MethodPost, "/cancel-order/o-1", `{"reason": "x"}`, "c-1")
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", out["error"])
			}
		})
	}
}

func TestCancelPassesOwnerAndReason(t *testing.T) {
	flow := &stubFlow{cancel: func(_ context.Context, customerID, orderID, reason string) (*orders.Order, error) {
		return &orders.Order{ID: orderID, CustomerID: customerID, CancellationReason: reason,
			FulfillmentStatus: orders.FulfillmentCancelled}, nil
	}}
	srv := newServer(t, flow, nil)
	resp, out := call(t, srv, http.MethodPost, "/cancel-order/o-9", `{"reason": "too slow"}`, "c-2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	o := out["order"].(map[string]any)
	assert.Equal(t, "o-9", o["id"])
	assert.Equal(t, "c-2", o["customer_id"])
	assert.Equal(t, "too slow", o["cancellation_reason"])
}

func TestConfirmOrderRequiresOrderID(t *testing.T) {
	srv := newServer(t, &stubFlow{}, nil)
	resp, _ := call(t, srv, http.MethodPost, "/confirm-order", `{}`, "c-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, "/confirm-order", `not json`, "c-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignInSetsHTTPOnlyCookie(t *testing.T) {
	acc := &stubAccounts{signIn: func(_ context.Context, email, password string) (customers.Session, error) {
		if password != "correct-horse" {
			return customers.Session{}, customers.ErrInvalidCredentials
		}
		return customers.Session{Token: "token-c-1", ExpiresAt: time.Now().Add(time.Hour), Customer: &customers.Customer{ID: "c-1", Email: email}}, nil
	}}
	srv := newServer(t, &stubFlow{}, acc)

	resp, _ := call(t, srv, http.MethodPost, "/sign-in", `{"email": "a@example.com", "password": "nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := call(t, srv, http.MethodPost, "/sign-in", `{"email": "a@example.com", "password": "correct-horse"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, "token-c-1", session.Value)
	assert.NotContains(t, out, "token")

	resp, out = call(t, srv, http.MethodPost, "/confirm", ``, "c-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c-1", out["customer"].(map[string]any)["id"])

	resp, _ = call(t, srv, http.MethodPost, "/verify-otp", `{"email": "a@example.com", "otp": "1"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProductRoutes(t *testing.T) {
	srv := newServer(t, &stubFlow{}, nil)

	resp, out := call(t, srv, http.MethodGet, "/products?q=tee", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["items"], 1)

	resp, _ = call(t, srv, http.MethodGet, "/products/p-2", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// a customer session is not enough to write the catalog
	resp, _ = call(t, srv, http.MethodPost, "/products", `{"name": "Cap"}`, "c-1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, http.StatusForbidden, postProduct(t, srv, `{"name": "Cap"}`, "wrong-key").StatusCode)
	assert.Equal(t, http.StatusBadRequest, postProduct(t, srv, `{"name": ""}`, adminKey).StatusCode)
	assert.Equal(t, http.StatusCreated, postProduct(t, srv, `{"name": "Cap"}`, adminKey).StatusCode)
}

func TestCatalogWritesUnmountedWithoutAdminKey(t *testing.T) {
	srv := newServerWithKey(t, &stubFlow{}, nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, postProduct(t, srv, `{"name": "Cap"}`, "").StatusCode)
}

func postProduct(t *testing.T, srv *httptest.Server, body, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/products", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, &stubFlow{}, nil)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
