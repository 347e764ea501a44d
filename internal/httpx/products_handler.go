package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

type Catalog interface {
	Create(ctx context.Context, p *catalog.Product) error
	Get(ctx context.Context, id string) (*catalog.Product, error)
	List(ctx context.Context, q catalog.Query) ([]catalog.Product, error)
}

type ProductsHandler struct {
	Catalog Catalog
}

// Register mounts the public read routes; RegisterWrite expects RequireAdminKey upstream.
func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *ProductsHandler) RegisterWrite(r chi.Router) {
	r.Post("/products", h.createProduct)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := catalog.Query{Q: r.URL.Query().Get("q")}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	ps, err := h.Catalog.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.ListResponse{Q: q.Q, Limit: q.Limit, Offset: q.Offset, Items: ps})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if !decode(w, r, &p) {
		return
	}
	if err := h.Catalog.Create(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
