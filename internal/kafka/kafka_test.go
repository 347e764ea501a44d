package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	b := MustMarshal(orders.Envelope{
		EventID:       "e1",
		EventType:     orders.EventOrderTimeout,
		EventVersion:  1,
		OccurredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CorrelationID: "o1",
		Payload:       MustMarshal(orders.TimeoutPayload{OrderID: "o1", Action: orders.ActionProcessOrderTimeout}),
	})

	env, err := DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderTimeout, env.EventType)

	p, err := UnwrapPayload[orders.TimeoutPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o1", p.OrderID)

	_, err = DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
	_, err = UnwrapPayload[orders.TimeoutPayload]([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestPublishDropsWhenInboxFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProducer([]string{"127.0.0.1:1"}, orders.TopicOrderEvents, 1, zap.New(core))

	p.Publish([]byte("o1"), []byte("a"))
	p.Publish([]byte("o1"), []byte("b"))

	assert.Len(t, p.inbox, 1)
	require.Equal(t, 1, logs.FilterMessage("publish inbox full, event dropped").Len())
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProducer([]string{"127.0.0.1:1"}, orders.TopicOrderEvents, 4, zap.New(core))

	p.Close()
	p.Close()
	assert.NotPanics(t, func() { p.Publish([]byte("o1"), []byte("late")) })
	assert.Equal(t, 1, logs.FilterMessage("producer closed, event dropped").Len())
}

func TestSyncProducerHasNoLoop(t *testing.T) {
	p := NewSyncProducer([]string{"127.0.0.1:1"}, orders.TopicOrderTimeout, nil)
	assert.Nil(t, p.inbox)

	p.Start(context.Background())
	p.Close()

	done := make(chan struct{})
	go func() {
		p.WaitClosed()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitClosed blocked on a producer without a loop")
	}
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := &Consumer{log: zap.NewNop(), retryBase: time.Millisecond, retryMax: 4 * time.Millisecond}
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		if calls < 4 {
			return errors.New("db down")
		}
		return nil
	}

	require.NoError(t, c.handle(context.Background(), h, kafka.Message{Offset: 10}, 0))
	assert.Equal(t, 4, calls)
}

func TestHandleStopsWhenContextDone(t *testing.T) {
	c := &Consumer{log: zap.NewNop(), retryBase: time.Hour, retryMax: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return errors.New("db down")
	}

	err := c.handle(ctx, h, kafka.Message{Offset: 10}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestLanePinsPartitionToWorker(t *testing.T) {
	for p := 0; p < 12; p++ {
		assert.Equal(t, lane(p, 4), lane(p, 4))
		assert.Less(t, lane(p, 4), 4)
	}
	assert.Equal(t, 0, lane(0, 1))
	assert.Equal(t, 1, lane(5, 4))
}
