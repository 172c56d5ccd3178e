package guard

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidLimit is returned for non-positive ceilings or windows.
var ErrInvalidLimit = errors.New("guard: limit and window must be positive")

// RateLimitConfig configures a fixed-window rate limiter.
type RateLimitConfig struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

type rateRecord struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"` // unix millis
	Blocked     bool  `json:"blocked"`
}

// RateLimiter is a per-identity fixed-window counter. Once the ceiling is
// exceeded the identity stays blocked until its window ends.
type RateLimiter struct {
	store  Store
	name   string
	window time.Duration
	max    int
}

// NewRateLimiter validates cfg and returns a limiter backed by store.
func NewRateLimiter(store Store, cfg RateLimitConfig) (*RateLimiter, error) {
	if cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		return nil, ErrInvalidLimit
	}
	return &RateLimiter{store: store, name: cfg.Name, window: cfg.Window, max: cfg.MaxRequests}, nil
}

func (l *RateLimiter) key(id ClientIdentity) string {
	return "rl:" + l.name + ":" + id.RateKey()
}

// Check counts one request for id at now.
func (l *RateLimiter) Check(ctx context.Context, id ClientIdentity, now time.Time) (Verdict, error) {
	verdict := Allow()
	nowMs := now.UnixMilli()

	err := updateRecord(ctx, l.store, l.key(id), 2*l.window, func(rec *rateRecord, found bool) (bool, error) {
		if !found || time.Duration(nowMs-rec.WindowStart)*time.Millisecond > l.window {
			*rec = rateRecord{Count: 1, WindowStart: nowMs}
			return true, nil
		}

		remaining := l.window - time.Duration(nowMs-rec.WindowStart)*time.Millisecond
		if rec.Blocked {
			verdict = DenyRetry(ReasonRateLimitExceeded, retryAfterSeconds(remaining))
			return false, nil
		}

		rec.Count++
		if rec.Count > l.max {
			rec.Blocked = true
			verdict = DenyRetry(ReasonRateLimitExceeded, retryAfterSeconds(remaining))
		}
		return true, nil
	})
	if err != nil {
		return Allow(), err
	}
	return verdict, nil
}

// Count returns the current window count for id, or zero.
func (l *RateLimiter) Count(ctx context.Context, id ClientIdentity) (int, error) {
	rec, _, err := getRecord[rateRecord](ctx, l.store, l.key(id))
	return rec.Count, err
}

// Window returns the configured window.
func (l *RateLimiter) Window() time.Duration { return l.window }

// MaxRequests returns the configured ceiling.
func (l *RateLimiter) MaxRequests() int { return l.max }

// FloodLimiter is a process-wide token bucket that sheds load before any
// per-identity state is touched.
type FloodLimiter struct {
	limiter *rate.Limiter
}

// NewFloodLimiter returns nil when perSecond is not positive, which disables
// the limiter.
func NewFloodLimiter(perSecond float64, burst int) *FloodLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &FloodLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow takes one token at now.
func (f *FloodLimiter) Allow(now time.Time) Verdict {
	if f == nil || f.limiter.AllowN(now, 1) {
		return Allow()
	}
	return DenyRetry(ReasonRateLimitExceeded, 1)
}
