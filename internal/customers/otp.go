package customers

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	defaultOTPTTL      = 600 * time.Second
	defaultMaxAttempts = 5
)

// consumeScript accepts a matching code at most once. Misses are counted per email and,
// once the cap is reached, every code is refused until the counter expires.
// Returns 1 on success, 0 on a miss and -1 while locked out.
var consumeScript = redis.NewScript(`
local tries = tonumber(redis.call("GET", KEYS[2]) or "0")
if tries >= tonumber(ARGV[2]) then
	return -1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
tries = redis.call("INCR", KEYS[2])
if tries == 1 then
	redis.call("EXPIRE", KEYS[2], ARGV[3])
end
return 0`)

// OTPStore keeps one live code per email in Redis; issuing again replaces it and restarts the TTL.
// Reissuing does not reset the failed-attempt counter.
type OTPStore struct {
	RDB         *redis.Client
	TTL         time.Duration
	MaxAttempts int
}

func (s *OTPStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return defaultOTPTTL
}

func (s *OTPStore) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

func (s *OTPStore) Issue(ctx context.Context, email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())
	if err := s.RDB.Set(ctx, fmt.Sprintf(redisx.KeyOTP, email), code, s.ttl()).Err(); err != nil {
		return "", err
	}
	return code, nil
}

// Consume uses up the live code when it matches. It returns ErrTooManyAttempts while the email is locked out.
func (s *OTPStore) Consume(ctx context.Context, email, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	keys := []string{fmt.Sprintf(redisx.KeyOTP, email), fmt.Sprintf(redisx.KeyOTPAttempts, email)}
	ttl := strconv.Itoa(int(s.ttl() / time.Second))
	n, err := consumeScript.Run(ctx, s.RDB, keys, code, s.maxAttempts(), ttl).Int()
	if err != nil {
		return false, err
	}
	switch n {
	case 1:
		return true, nil
	case -1:
		return false, ErrTooManyAttempts
	default:
		return false, nil
	}
}
