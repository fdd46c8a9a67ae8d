package assistant

import (
	"sync"
	"time"
)

// AnonymousCaller is the shared rate-limit bucket for unauthenticated
// requests.
const AnonymousCaller = "anonymous"

// InputSizeResult reports an input-size check.
type InputSizeResult struct {
	Valid          bool
	CharacterCount int
	Limit          int
}

// CheckInputSize rejects oversized input before any other processing.
func CheckInputSize(text string, limit int) InputSizeResult {
	count := len([]rune(text))
	return InputSizeResult{
		Valid:          count <= limit,
		CharacterCount: count,
		Limit:          limit,
	}
}

// RateLimiter is a token-bucket limiter keyed by caller identity. Buckets
// refill continuously at rate tokens/sec up to burst.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the given
// burst size per caller. A background goroutine evicts idle buckets.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether callerID may proceed. When denied, retryAfter is a
// positive hint for when one token will be available.
func (rl *RateLimiter) Allow(callerID string) (allowed bool, retryAfter time.Duration) {
	if callerID == "" {
		callerID = AnonymousCaller
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[callerID]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastTime: now}
		rl.buckets[callerID] = b
	}

	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / rl.rate * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := rl.now().Add(-10 * time.Minute)
		for id, b := range rl.buckets {
			if b.lastTime.Before(cutoff) {
				delete(rl.buckets, id)
			}
		}
		rl.mu.Unlock()
	}
}
