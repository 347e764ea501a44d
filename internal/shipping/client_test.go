package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type fakeShiprocket struct {
	logins atomic.Int32
	valid  atomic.Value // current accepted token
	mux    *http.ServeMux

	mu      sync.Mutex
	lastReq map[string]any
}

func (f *fakeShiprocket) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newFakeShiprocket(t *testing.T) (*fakeShiprocket, *httptest.Server) {
	f := &fakeShiprocket{mux: http.NewServeMux()}
	f.valid.Store("")
	f.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		tok := "tok-" + string(rune('0'+n))
		f.valid.Store(tok)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": tok})
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" && r.Header.Get("Authorization") != "Bearer "+f.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Token has expired"}`))
			return
		}
		if r.Method == http.MethodPost {
			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.lastReq = body
			f.mu.Unlock()
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		BaseURL:        srv.URL + "/",
		Email:          "ops@shop.example",
		Password:       "secret",
		PickupLocation: "Warehouse",
		DefaultLength:  10,
		DefaultBreadth: 10,
		DefaultHeight:  5,
		DefaultWeight:  0.5,
	})
}

func sampleOrder() *orders.Order {
	addr := orders.Address{Name: "Asha", Phone: "9999999999", Line1: "1 MG Road", City: "Pune", State: "MH", Pincode: "411001"}
	return &orders.Order{
		ID:              "5d3c5c7e-2b9a-4c1e-9e34-1b7a8c9d0e1f",
		Items:           []orders.LineItem{{ProductID: "p1", Name: "Tee", Price: decimal.NewFromInt(500), Quantity: 2, Color: "red", Size: "M"}},
		TotalAmount:     decimal.NewFromInt(1000),
		ShippingAddress: addr,
		CreatedAt:       time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/courier/generate/pickup", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pickup_status":1,"response":{"pickup_scheduled_date":"2026-02-02 10:00:00"}}`))
	})
	c := newTestClient(srv)

	for i := 0; i < 3; i++ {
		p, err := c.SchedulePickup(context.Background(), "42")
		require.NoError(t, err)
		assert.Equal(t, "2026-02-02 10:00:00", p.ScheduledDate)
	}
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestUnauthorizedTriggersSingleRelogin(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(srv)

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	f.valid.Store("rotated-elsewhere")

	err = c.Cancel(context.Background(), "123")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestTokenExpiresByAge(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(srv)
	c.clock = func() time.Time { return now }

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	now = now.Add(10 * 24 * time.Hour)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestMissingCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreateOrder(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_id":987,"shipment_id":654,"status":"NEW","courier_company_id":""}`))
	})
	c := newTestClient(srv)

	s, err := c.CreateOrder(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, Shipment{OrderID: "987", ShipmentID: "654", Status: "NEW"}, s)

	req := f.last()
	assert.Equal(t, "Warehouse", req["pickup_location"])
	assert.Equal(t, true, req["shipping_is_billing"])
	assert.Equal(t, "India", req["billing_country"])
	assert.Equal(t, 0.5, req["weight"])
	assert.Equal(t, "1000.00", req["sub_total"])
	items := req["order_items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "p1-red-M", items[0].(map[string]any)["sku"])
}

func TestProviderErrorIsReturned(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Invalid pincode"}`))
	})
	c := newTestClient(srv)

	_, err := c.CreateOrder(context.Background(), sampleOrder())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Invalid pincode")
}

func TestGenerateAWB(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"awb_assign_status":1,"response":{"data":{"awb_code":"AWB123","courier_company_id":10,"courier_name":"Delhivery"}}}`))
	})
	c := newTestClient(srv)

	awb, err := c.GenerateAWB(context.Background(), "654", "10")
	require.NoError(t, err)
	assert.Equal(t, AWB{Code: "AWB123", CourierID: "10", CourierName: "Delhivery"}, awb)
	assert.Equal(t, "10", f.last()["courier_id"])
}

func TestTrackAndCouriers(t *testing.T) {
	f, srv := newFakeShiprocket(t)
	f.mux.HandleFunc("/courier/track/awb/AWB123", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{"shipment_status":6,"track_url":"https://shiprocket.co/tracking/AWB123","etd":"2026-02-05",
			"shipment_track":[{"current_status":"In Transit"}],
			"shipment_track_activities":[{"date":"2026-02-02","activity":"Picked up","location":"Pune"}]}}`))
	})
	f.mux.HandleFunc("/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "411001", r.URL.Query().Get("delivery_postcode"))
		_, _ = w.Write([]byte(`{"data":{"available_courier_companies":[
			{"courier_company_id":10,"courier_name":"Delhivery","rate":80.5,"etd":"Feb 05"},
			{"courier_company_id":"12","courier_name":"Xpress","rate":60,"etd":"Feb 06"}]}}`))
	})
	c := newTestClient(srv)

	tr, err := c.Track(context.Background(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, "In Transit", tr.Status)
	assert.Equal(t, "https://shiprocket.co/tracking/AWB123", tr.TrackURL)
	assert.Len(t, tr.Activities, 1)

	cs, err := c.ListCouriers(context.Background(), "400001", "411001", 0)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	best, ok := Cheapest(cs)
	require.True(t, ok)
	assert.Equal(t, "12", best.ID)
	assert.True(t, decimal.NewFromInt(60).Equal(best.Rate))
}
