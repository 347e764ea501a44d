// Package expiry consumes fired order timeouts and expires the unpaid orders behind them.
package expiry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orderflow"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

type Expirer interface {
	ExpireOrder(ctx context.Context, orderID string) (orderflow.CloseResult, error)
}

type Service struct {
	Orders      Expirer
	Redis       *redis.Client
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderTimeout is installed as the order.timeout consumer handler.
// A returned error makes the consumer retry the message in place before committing it.
func (s *Service) HandleOrderTimeout(ctx context.Context, m kafkago.Message) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("skip undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderTimeout {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.TimeoutPayload](env.Payload)
	if err != nil {
		log.Warn("skip undecodable timeout", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.Action != orders.ActionProcessOrderTimeout || p.OrderID == "" {
		log.Warn("skip unknown timeout action", zap.String("event_id", env.EventID), zap.String("action", p.Action))
		return nil
	}

	res, err := s.Orders.ExpireOrder(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("expire order %s: %w", p.OrderID, err)
	}
	if _, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
		log.Warn("mark timeout handled", zap.String("event_id", env.EventID), zap.Error(err))
	}
	log.Info("order timeout handled",
		zap.String("order_id", p.OrderID), zap.Bool("deleted", res.Deleted), zap.Int("restocked", res.Restocked), zap.Bool("noop", res.Noop))
	return nil
}
