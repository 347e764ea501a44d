package redisx

import "time"

const (
	// Pending timers: zset timers:due, member = handle name, score = due time in unix ms
	KeyTimerQueue = "timers:due"

	// Timer body: hash timer:{handle} -> order_id, payload, due_at, attempts
	KeyTimer = "timer:%s"

	// One live OTP per email: otp:{email} -> code
	KeyOTP = "otp:%s"

	// Failed code attempts per email, cleared on success: otp_attempts:{email}
	KeyOTPAttempts = "otp_attempts:%s"

	// Serialises confirm/cancel/fail/expire per order: lock:order:{order_id}
	KeyOrderLock = "lock:order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderLock = 30 * time.Second
	TTLDedup     = 48 * time.Hour
)
