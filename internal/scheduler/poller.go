package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// Dispatcher delivers a fired timer. A nil error deletes the timer.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Timer) error
}

type DispatchFunc func(ctx context.Context, t Timer) error

func (f DispatchFunc) Dispatch(ctx context.Context, t Timer) error { return f(ctx, t) }

type Poller struct {
	Scheduler    *Scheduler
	Dispatcher   Dispatcher
	Log          *zap.Logger
	Interval     time.Duration
	BatchSize    int
	MaxAttempts  int
	MaxEventAge  time.Duration
	RetryBackoff time.Duration
}

func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := p.FireDue(ctx); err != nil && ctx.Err() == nil {
			p.logger().Warn("fire due timers", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// FireDue dispatches every timer whose due time has passed and returns how many were delivered.
// A timer is claimed by removing it from the queue, so concurrent pollers never fire it twice.
func (p *Poller) FireDue(ctx context.Context) (int, error) {
	s := p.Scheduler
	now := s.now()
	batch := int64(p.BatchSize)
	if batch <= 0 {
		batch = 50
	}
	names, err := s.RDB.ZRangeByScore(ctx, redisx.KeyTimerQueue, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprint(now.UnixMilli()), Count: batch,
	}).Result()
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, name := range names {
		claimed, err := s.RDB.ZRem(ctx, redisx.KeyTimerQueue, name).Result()
		if err != nil {
			return fired, err
		}
		if claimed == 0 {
			continue
		}
		if p.fire(ctx, name, now) {
			fired++
		}
	}
	return fired, nil
}

func (p *Poller) fire(ctx context.Context, name string, now time.Time) bool {
	s := p.Scheduler
	log := p.logger().With(zap.String("timer", name))

	t, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		if err != nil {
			log.Warn("load timer", zap.Error(err))
		}
		_ = s.Delete(ctx, name)
		return false
	}
	maxAge := p.MaxEventAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if now.Sub(t.DueAt) > maxAge {
		log.Warn("timer dropped: event too old", zap.Time("due_at", t.DueAt), zap.Int("attempts", t.Attempts))
		_ = s.Delete(ctx, name)
		return false
	}

	if err := p.Dispatcher.Dispatch(ctx, t); err != nil {
		attempts := t.Attempts + 1
		maxAttempts := p.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		if attempts >= maxAttempts {
			log.Error("timer dropped: retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
			_ = s.Delete(ctx, name)
			return false
		}
		backoff := p.RetryBackoff
		if backoff <= 0 {
			backoff = 30 * time.Second
		}
		next := now.Add(backoff << (attempts - 1))
		log.Warn("timer dispatch failed, retrying", zap.Int("attempts", attempts), zap.Time("next", next), zap.Error(err))
		_, rerr := s.RDB.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, fmt.Sprintf(redisx.KeyTimer, name), "attempts", attempts)
			pipe.ZAdd(ctx, redisx.KeyTimerQueue, redis.Z{Score: float64(next.UnixMilli()), Member: name})
			return nil
		})
		if rerr != nil {
			log.Error("requeue timer", zap.Error(rerr))
		}
		return false
	}

	// auto-delete after a successful fire
	if err := s.Delete(ctx, name); err != nil {
		log.Warn("delete fired timer", zap.Error(err))
	}
	log.Info("timer fired", zap.String("order_id", t.OrderID))
	return true
}

func (p *Poller) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
