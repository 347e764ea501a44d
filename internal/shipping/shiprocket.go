package shipping

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type Shipment struct {
	OrderID    string
	ShipmentID string
	CourierID  string
	Status     string
}

type AWB struct {
	Code        string
	CourierID   string
	CourierName string
}

type Pickup struct {
	ScheduledDate string
	Token         string
}

type Courier struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	ETD    string          `json:"etd"`
	Rating float64         `json:"rating"`
}

type Tracking struct {
	AWBCode    string           `json:"awb_code"`
	Status     string           `json:"status"`
	TrackURL   string           `json:"track_url"`
	ETD        string           `json:"etd"`
	Activities []TrackingUpdate `json:"activities"`
}

type TrackingUpdate struct {
	Date     string `json:"date"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type createOrderRequest struct {
	OrderID              string      `json:"order_id"`
	OrderDate            string      `json:"order_date"`
	PickupLocation       string      `json:"pickup_location"`
	ChannelID            string      `json:"channel_id,omitempty"`
	BillingCustomerName  string      `json:"billing_customer_name"`
	BillingLastName      string      `json:"billing_last_name"`
	BillingAddress       string      `json:"billing_address"`
	BillingAddress2      string      `json:"billing_address_2,omitempty"`
	BillingCity          string      `json:"billing_city"`
	BillingPincode       string      `json:"billing_pincode"`
	BillingState         string      `json:"billing_state"`
	BillingCountry       string      `json:"billing_country"`
	BillingEmail         string      `json:"billing_email"`
	BillingPhone         string      `json:"billing_phone"`
	ShippingIsBilling    bool        `json:"shipping_is_billing"`
	ShippingCustomerName string      `json:"shipping_customer_name,omitempty"`
	ShippingAddress      string      `json:"shipping_address,omitempty"`
	ShippingAddress2     string      `json:"shipping_address_2,omitempty"`
	ShippingCity         string      `json:"shipping_city,omitempty"`
	ShippingPincode      string      `json:"shipping_pincode,omitempty"`
	ShippingState        string      `json:"shipping_state,omitempty"`
	ShippingCountry      string      `json:"shipping_country,omitempty"`
	ShippingEmail        string      `json:"shipping_email,omitempty"`
	ShippingPhone        string      `json:"shipping_phone,omitempty"`
	OrderItems           []orderItem `json:"order_items"`
	PaymentMethod        string      `json:"payment_method"`
	SubTotal             string      `json:"sub_total"`
	Length               float64     `json:"length"`
	Breadth              float64     `json:"breadth"`
	Height               float64     `json:"height"`
	Weight               float64     `json:"weight"`
}

// CreateOrder registers the order with Shiprocket as a prepaid adhoc shipment.
func (c *Client) CreateOrder(ctx context.Context, o *orders.Order) (Shipment, error) {
	if len(o.Items) == 0 {
		return Shipment{}, errors.New("shipping: order has no items")
	}
	billing := o.BillingAddress
	if billing.Line1 == "" {
		billing = o.ShippingAddress
	}
	req := createOrderRequest{
		OrderID:             o.ID,
		OrderDate:           o.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:      c.cfg.PickupLocation,
		ChannelID:           c.cfg.ChannelID,
		BillingCustomerName: billing.Name,
		BillingLastName:     "",
		BillingAddress:      billing.Line1,
		BillingAddress2:     billing.Line2,
		BillingCity:         billing.City,
		BillingPincode:      billing.Pincode,
		BillingState:        billing.State,
		BillingCountry:      defaultCountry(billing.Country),
		BillingEmail:        billing.Email,
		BillingPhone:        billing.Phone,
		ShippingIsBilling:   billing == o.ShippingAddress,
		PaymentMethod:       "Prepaid",
		SubTotal:            o.TotalAmount.StringFixed(2),
	}
	if !req.ShippingIsBilling {
		s := o.ShippingAddress
		req.ShippingCustomerName = s.Name
		req.ShippingAddress = s.Line1
		req.ShippingAddress2 = s.Line2
		req.ShippingCity = s.City
		req.ShippingPincode = s.Pincode
		req.ShippingState = s.State
		req.ShippingCountry = defaultCountry(s.Country)
		req.ShippingEmail = s.Email
		req.ShippingPhone = s.Phone
	}
	for _, it := range o.Items {
		sku := it.ProductID
		if it.Color != "" || it.Size != "" {
			sku = strings.Join([]string{it.ProductID, it.Color, it.Size}, "-")
		}
		req.OrderItems = append(req.OrderItems, orderItem{
			Name: it.Name, SKU: sku, Units: it.Quantity, SellingPrice: it.Price.StringFixed(2),
		})
	}
	req.Length = orDefault(o.ShippingInfo.Length, c.cfg.DefaultLength)
	req.Breadth = orDefault(o.ShippingInfo.Breadth, c.cfg.DefaultBreadth)
	req.Height = orDefault(o.ShippingInfo.Height, c.cfg.DefaultHeight)
	req.Weight = orDefault(o.ShippingInfo.Weight, c.cfg.DefaultWeight)

	var out struct {
		OrderID          flexID `json:"order_id"`
		ShipmentID       flexID `json:"shipment_id"`
		Status           string `json:"status"`
		CourierCompanyID flexID `json:"courier_company_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/create/adhoc", req, &out); err != nil {
		return Shipment{}, err
	}
	if out.ShipmentID == "" {
		return Shipment{}, errors.New("shiprocket create order: no shipment id in response")
	}
	c.logger(ctx, "shipping.shiprocket.order.created", map[string]any{
		"orderId": o.ID, "shipmentId": string(out.ShipmentID),
	})
	return Shipment{
		OrderID:    string(out.OrderID),
		ShipmentID: string(out.ShipmentID),
		CourierID:  string(out.CourierCompanyID),
		Status:     out.Status,
	}, nil
}

// Cancel cancels the provider-side order created by CreateOrder.
func (c *Client) Cancel(ctx context.Context, shipmentOrderID string) error {
	id, err := strconv.ParseInt(shipmentOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("shiprocket cancel: invalid order id %q", shipmentOrderID)
	}
	if err := c.do(ctx, http.MethodPost, "/orders/cancel", map[string]any{"ids": []int64{id}}, nil); err != nil {
		return err
	}
	c.logger(ctx, "shipping.shiprocket.order.cancelled", map[string]any{"shipmentOrderId": shipmentOrderID})
	return nil
}

func (c *Client) GenerateAWB(ctx context.Context, shipmentID, courierID string) (AWB, error) {
	body := map[string]string{"shipment_id": shipmentID}
	if courierID != "" {
		body["courier_id"] = courierID
	}
	var out struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode          string `json:"awb_code"`
				CourierCompanyID flexID `json:"courier_company_id"`
				CourierName      string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/courier/assign/awb", body, &out); err != nil {
		return AWB{}, err
	}
	d := out.Response.Data
	if d.AWBCode == "" {
		return AWB{}, fmt.Errorf("shiprocket awb: not assigned for shipment %s", shipmentID)
	}
	return AWB{Code: d.AWBCode, CourierID: string(d.CourierCompanyID), CourierName: d.CourierName}, nil
}

func (c *Client) SchedulePickup(ctx context.Context, shipmentID string) (Pickup, error) {
	var out struct {
		PickupStatus int `json:"pickup_status"`
		Response     struct {
			PickupScheduledDate string `json:"pickup_scheduled_date"`
			PickupTokenNumber   string `json:"pickup_token_number"`
		} `json:"response"`
	}
	body := map[string][]string{"shipment_id": {shipmentID}}
	if err := c.do(ctx, http.MethodPost, "/courier/generate/pickup", body, &out); err != nil {
		return Pickup{}, err
	}
	return Pickup{ScheduledDate: out.Response.PickupScheduledDate, Token: out.Response.PickupTokenNumber}, nil
}

func (c *Client) Track(ctx context.Context, awb string) (Tracking, error) {
	if awb == "" {
		return Tracking{}, errors.New("shiprocket track: awb is required")
	}
	var out struct {
		TrackingData struct {
			ShipmentStatus flexID `json:"shipment_status"`
			TrackURL       string `json:"track_url"`
			ETD            string `json:"etd"`
			ShipmentTrack  []struct {
				CurrentStatus string `json:"current_status"`
			} `json:"shipment_track"`
			Activities []struct {
				Date     string `json:"date"`
				Activity string `json:"activity"`
				Location string `json:"location"`
			} `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}
	if err := c.do(ctx, http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, &out); err != nil {
		return Tracking{}, err
	}
	td := out.TrackingData
	t := Tracking{AWBCode: awb, TrackURL: td.TrackURL, ETD: td.ETD, Status: string(td.ShipmentStatus), Activities: []TrackingUpdate{}}
	if len(td.ShipmentTrack) > 0 && td.ShipmentTrack[0].CurrentStatus != "" {
		t.Status = td.ShipmentTrack[0].CurrentStatus
	}
	for _, a := range td.Activities {
		t.Activities = append(t.Activities, TrackingUpdate{Date: a.Date, Activity: a.Activity, Location: a.Location})
	}
	return t, nil
}

// ListCouriers returns the couriers serving a prepaid parcel of the given weight between two pincodes.
func (c *Client) ListCouriers(ctx context.Context, pickupPincode, deliveryPincode string, weightKg float64) ([]Courier, error) {
	q := url.Values{}
	q.Set("pickup_postcode", pickupPincode)
	q.Set("delivery_postcode", deliveryPincode)
	q.Set("weight", strconv.FormatFloat(orDefault(weightKg, c.cfg.DefaultWeight), 'f', -1, 64))
	q.Set("cod", "0")

	var out struct {
		Data struct {
			Available []struct {
				CourierCompanyID flexID  `json:"courier_company_id"`
				CourierName      string  `json:"courier_name"`
				Rate             float64 `json:"rate"`
				ETD              string  `json:"etd"`
				Rating           float64 `json:"rating"`
			} `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/courier/serviceability/?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	list := make([]Courier, 0, len(out.Data.Available))
	for _, a := range out.Data.Available {
		list = append(list, Courier{
			ID: string(a.CourierCompanyID), Name: a.CourierName,
			Rate: decimal.NewFromFloat(a.Rate), ETD: a.ETD, Rating: a.Rating,
		})
	}
	return list, nil
}

// Cheapest picks the lowest rate; ties go to the earlier entry.
func Cheapest(cs []Courier) (Courier, bool) {
	if len(cs) == 0 {
		return Courier{}, false
	}
	best := cs[0]
	for _, c := range cs[1:] {
		if c.Rate.LessThan(best.Rate) {
			best = c
		}
	}
	return best, true
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func defaultCountry(c string) string {
	if c == "" {
		return "India"
	}
	return c
}
