package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type Sender interface {
	Send(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// KafkaDispatcher publishes fired timers to order.timeout for the expiry consumer.
type KafkaDispatcher struct {
	Sender   Sender
	Producer string
}

func (d KafkaDispatcher) Dispatch(ctx context.Context, t Timer) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderTimeout,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.Producer,
		CorrelationID: t.OrderID,
		Payload:       kafkax.MustMarshal(t.Payload),
	}
	return d.Sender.Send(ctx, orders.PartitionKey(t.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderTimeout)},
		kafkago.Header{Key: "x-timer", Value: []byte(t.Name)},
	)
}
