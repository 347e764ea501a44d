package orders

import (
	"errors"
	"strings"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "Pending"
	FulfillmentProcessing FulfillmentStatus = "Processing"
	FulfillmentShipped    FulfillmentStatus = "Shipped"
	FulfillmentDelivered  FulfillmentStatus = "Delivered"
	FulfillmentCancelled  FulfillmentStatus = "CANCELLED"
)

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentCompleted: true, PaymentFailed: true},
	PaymentCompleted: {},
	PaymentFailed:    {},
}

// Forward moves may skip steps; CANCELLED is reachable from every non-terminal state.
var validFulfillmentNext = map[FulfillmentStatus]map[FulfillmentStatus]bool{
	FulfillmentPending:    {FulfillmentProcessing: true, FulfillmentShipped: true, FulfillmentDelivered: true, FulfillmentCancelled: true},
	FulfillmentProcessing: {FulfillmentShipped: true, FulfillmentDelivered: true, FulfillmentCancelled: true},
	FulfillmentShipped:    {FulfillmentDelivered: true, FulfillmentCancelled: true},
	FulfillmentDelivered:  {},
	FulfillmentCancelled:  {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	return validFulfillmentNext[from][to]
}

func (s PaymentStatus) Valid() bool {
	_, ok := validPaymentNext[s]
	return ok
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := validFulfillmentNext[s]
	return ok
}

func (s FulfillmentStatus) Terminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// ParseFulfillment matches case-insensitively.
func ParseFulfillment(v string) (FulfillmentStatus, bool) {
	for s := range validFulfillmentNext {
		if strings.EqualFold(string(s), v) {
			return s, true
		}
	}
	return "", false
}

var ErrInvalidTransition = errors.New("invalid status transition")
