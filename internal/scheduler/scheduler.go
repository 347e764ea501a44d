// Package scheduler keeps one-shot order timeouts in Redis and fires them from a poller.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const handlePrefix = "order-timeout-"

// HandleName is derived from the order id so create and delete agree without a lookup.
func HandleName(orderID string) string { return handlePrefix + orderID }

type Timer struct {
	Name      string
	OrderID   string
	Payload   orders.TimeoutPayload
	DueAt     time.Time
	CreatedAt time.Time
	Attempts  int
}

type Scheduler struct {
	RDB   *redis.Client
	Delay time.Duration
	Clock func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Create registers a timer firing Delay from now and returns its handle and due time.
// Creating again for the same order re-arms the timer.
func (s *Scheduler) Create(ctx context.Context, orderID string) (string, time.Time, error) {
	if orderID == "" {
		return "", time.Time{}, errors.New("scheduler: order id is required")
	}
	delay := s.Delay
	if delay <= 0 {
		delay = 10 * time.Minute
	}
	now := s.now()
	due := now.Add(delay)
	name := HandleName(orderID)

	payload, err := json.Marshal(orders.TimeoutPayload{OrderID: orderID, Action: orders.ActionProcessOrderTimeout})
	if err != nil {
		return "", time.Time{}, err
	}
	key := fmt.Sprintf(redisx.KeyTimer, name)
	_, err = s.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"order_id", orderID,
			"payload", payload,
			"due_at", due.UnixMilli(),
			"created_at", now.UnixMilli(),
			"attempts", 0,
		)
		p.ZAdd(ctx, redisx.KeyTimerQueue, redis.Z{Score: float64(due.UnixMilli()), Member: name})
		return nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("scheduler: create %s: %w", name, err)
	}
	return name, due, nil
}

// Delete removes the timer. A handle that is already gone is not an error.
func (s *Scheduler) Delete(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	_, err := s.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, redisx.KeyTimerQueue, name)
		p.Del(ctx, fmt.Sprintf(redisx.KeyTimer, name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler: delete %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Get(ctx context.Context, name string) (Timer, bool, error) {
	h, err := s.RDB.HGetAll(ctx, fmt.Sprintf(redisx.KeyTimer, name)).Result()
	if err != nil {
		return Timer{}, false, err
	}
	if len(h) == 0 {
		return Timer{}, false, nil
	}
	t := Timer{Name: name, OrderID: h["order_id"]}
	if err := json.Unmarshal([]byte(h["payload"]), &t.Payload); err != nil {
		return Timer{}, false, fmt.Errorf("scheduler: decode %s: %w", name, err)
	}
	t.DueAt = unixMilli(h["due_at"])
	t.CreatedAt = unixMilli(h["created_at"])
	t.Attempts, _ = strconv.Atoi(h["attempts"])
	return t, true, nil
}

func unixMilli(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms).UTC()
}
