package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/orderflow"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

type OrderFlow interface {
	CreateOrder(ctx context.Context, in orderflow.CreateOrderInput) (orderflow.CreateResult, error)
	ConfirmPayment(ctx context.Context, customerID, orderID string) (*orders.Order, error)
	PaymentFailed(ctx context.Context, customerID, orderID string) (orderflow.CloseResult, error)
	CancelOrder(ctx context.Context, customerID, orderID, reason string) (*orders.Order, error)
	UpdateOrder(ctx context.Context, customerID, orderID string, in orderflow.UpdateOrderInput) (*orders.Order, error)
	DeleteOrder(ctx context.Context, customerID, orderID string) (orderflow.CloseResult, error)
	GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error)
	ListOrders(ctx context.Context, customerID string, limit, offset int) ([]orders.Order, error)
	TrackOrder(ctx context.Context, customerID, orderID string) (shipping.Tracking, error)
}

type OrdersHandler struct {
	Flow OrderFlow
}

type CreateOrderReq struct {
	TotalAmount    orderflow.Number      `json:"totalAmount"`
	Products       []orderflow.ItemInput `json:"products"`
	Address        orders.Address        `json:"address"`
	BillingAddress *orders.Address       `json:"billingAddress"`
	ShippingInfo   orders.ShippingInfo   `json:"shippingInfo"`
	CustomerName   string                `json:"name"`
	CustomerEmail  string                `json:"email"`
}

type CreateOrderResp struct {
	Order            *orders.Order         `json:"order"`
	PaymentSessionID string                `json:"paymentSessionId,omitempty"`
	PaymentLink      string                `json:"paymentLink,omitempty"`
	Reservation      orders.ReserveOutcome `json:"reservation"`
	Shipment         orderflow.Outcome     `json:"shipment"`
	Payment          orderflow.Outcome     `json:"payment"`
	Timeout          orderflow.Outcome     `json:"timeout"`
	Degraded         bool                  `json:"degraded"`
}

type orderIDReq struct {
	OrderID string `json:"orderId"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Register mounts the order routes; they all expect RequireCustomer upstream.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/create-order", h.createOrder)
	r.Post("/confirm-order", h.confirmOrder)
	r.Post("/payment-failed", h.paymentFailed)
	r.Post("/cancel-order/{orderId}", h.cancelOrder)
	r.Put("/update-order/{orderId}", h.updateOrder)
	r.Delete("/delete-order/{orderId}", h.deleteOrder)
	r.Get("/get-orders", h.listOrders)
	r.Get("/get-order/{orderId}", h.getOrder)
	r.Get("/track/{orderId}", h.trackOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decode(w, r, &req) {
		return
	}
	billing := req.Address
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}
	res, err := h.Flow.CreateOrder(r.Context(), orderflow.CreateOrderInput{
		CustomerID:      customerID(r),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		TotalAmount:     req.TotalAmount,
		Items:           req.Products,
		ShippingAddress: req.Address,
		BillingAddress:  billing,
		ShippingInfo:    req.ShippingInfo,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{
		Order:            res.Order,
		PaymentSessionID: res.Order.PaymentSessionID,
		PaymentLink:      res.Order.PaymentLink,
		Reservation:      res.Reservation,
		Shipment:         res.Shipment,
		Payment:          res.Payment,
		Timeout:          res.Timeout,
		Degraded:         res.Degraded(),
	})
}

func (h *OrdersHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	var req orderIDReq
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		badRequest(w, "orderId is required")
		return
	}
	o, err := h.Flow.ConfirmPayment(r.Context(), customerID(r), req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) paymentFailed(w http.ResponseWriter, r *http.Request) {
	var req orderIDReq
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		badRequest(w, "orderId is required")
		return
	}
	res, err := h.Flow.PaymentFailed(r.Context(), customerID(r), req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := h.Flow.CancelOrder(r.Context(), customerID(r), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderflow.UpdateOrderInput
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Flow.UpdateOrder(r.Context(), customerID(r), chi.URLParam(r, "orderId"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Flow.DeleteOrder(r.Context(), customerID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.Flow.ListOrders(r.Context(), customerID(r), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Flow.GetOrder(r.Context(), customerID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) trackOrder(w http.ResponseWriter, r *http.Request) {
	t, err := h.Flow.TrackOrder(r.Context(), customerID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
