package httpx

import "github.com/go-chi/chi/v5"

// Handlers bundles everything Mount wires onto the router.
type Handlers struct {
	Orders     *OrdersHandler
	Customers  *CustomersHandler
	Products   *ProductsHandler
	Auth       Authenticator
	CookieName string
	// AdminKey guards catalog writes; empty leaves them unmounted.
	AdminKey   string
}

func Mount(r chi.Router, h Handlers) {
	h.Customers.Register(r)
	h.Products.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(RequireCustomer(h.Auth, h.CookieName))
		h.Orders.Register(r)
	})
	if h.AdminKey != "" {
		r.Group(func(r chi.Router) {
			r.Use(RequireAdminKey(h.AdminKey))
			h.Products.RegisterWrite(r)
		})
	}
}
