package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

type StripeConfig struct {
	APIKey     string
	Currency   string
	SuccessURL string // {ORDER_ID} is replaced with the order id
	CancelURL  string
	Logger     Logger
	Clock      func() time.Time
	Clients    *stripeClients
}

// StripeGateway implements Gateway over Stripe Checkout Sessions.
type StripeGateway struct {
	api        stripeClients
	currency   string
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     Logger
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, nil)
		clients = stripeClients{sessions: sc.CheckoutSessions, refunds: sc.Refunds}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "inr"
	}

	return &StripeGateway{
		api:        clients,
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if req.OrderID == "" {
		return Session{}, errors.New("stripe: order id is required")
	}
	amount := MinorUnits(req.Amount)
	if amount <= 0 {
		return Session{}, fmt.Errorf("stripe: amount must be positive, got %s", req.Amount)
	}
	currency := strings.ToLower(defaultString(req.Currency, g.currency))

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withOrderID(g.successURL, req.OrderID)),
		CancelURL:         stripe.String(withOrderID(g.cancelURL, req.OrderID)),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          map[string]string{"order_id": req.OrderID, "customer_id": req.Customer.ID},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderID),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("session-" + req.OrderID)
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}

	s, err := g.api.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if s.PaymentIntent != nil {
		intentID = s.PaymentIntent.ID
	}
	expiresAt := g.clock().Add(30 * time.Minute)
	if s.ExpiresAt != 0 {
		expiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": s.ID,
		"amount":    amount,
		"currency":  currency,
	})
	return Session{ID: s.ID, Link: s.URL, IntentID: intentID, ExpiresAt: expiresAt}, nil
}

func (g *StripeGateway) SessionStatus(ctx context.Context, sessionID string) (PaymentState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return PaymentState{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	s, err := g.api.sessions.Get(sessionID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return PaymentState{}, ErrSessionNotFound
		}
		return PaymentState{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	state := stripeSessionState(s)
	g.logger(ctx, "payments.stripe.session.looked_up", map[string]any{
		"sessionId": s.ID,
		"status":    state.Status,
	})
	return state, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) error {
	if req.IntentID == "" {
		return errors.New("stripe: payment intent is required for refunds")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Metadata:      map[string]string{"order_id": req.OrderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.OrderID)
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(MinorUnits(req.Amount))
	}
	params.Reason = stripe.String(mapStripeRefundReason(req.Reason))
	if _, err := g.api.refunds.New(params); err != nil {
		return fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": req.IntentID,
	})
	return nil
}

func stripeSessionState(s *stripe.CheckoutSession) PaymentState {
	state := PaymentState{SessionID: s.ID, OrderID: s.ClientReferenceID, Status: StatusPending}
	if s.PaymentIntent != nil {
		state.IntentID = s.PaymentIntent.ID
	}
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		state.Status = StatusSucceeded
	case s.Status == stripe.CheckoutSessionStatusExpired:
		state.Status = StatusFailed
	case s.PaymentIntent != nil && s.PaymentIntent.Status == stripe.PaymentIntentStatusCanceled:
		state.Status = StatusFailed
	}
	return state
}

// Customer cancellations carry free text; Stripe only accepts its own reason codes.
func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}

func withOrderID(url, orderID string) string {
	return strings.ReplaceAll(url, "{ORDER_ID}", orderID)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
