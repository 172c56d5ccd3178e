package guard

import (
	"context"
	"time"
)

// BruteForceConfig configures a lockout tracker for one route group.
type BruteForceConfig struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

type bruteForceRecord struct {
	Attempts  int   `json:"attempts"`
	ResetTime int64 `json:"reset_time"` // unix millis
}

// BruteForceTracker locks an identity out after MaxAttempts consecutive
// failing responses. A successful response clears the counter and the whole
// record resets once its window has passed.
type BruteForceTracker struct {
	store  Store
	name   string
	max    int
	window time.Duration
}

// NewBruteForceTracker validates cfg and returns a tracker backed by store.
func NewBruteForceTracker(store Store, cfg BruteForceConfig) (*BruteForceTracker, error) {
	if cfg.MaxAttempts <= 0 || cfg.Window <= 0 {
		return nil, ErrInvalidLimit
	}
	return &BruteForceTracker{store: store, name: cfg.Name, max: cfg.MaxAttempts, window: cfg.Window}, nil
}

func (t *BruteForceTracker) key(id ClientIdentity) string {
	return "bf:" + t.name + ":" + id.Key()
}

func (t *BruteForceTracker) ttl() time.Duration { return 2 * t.window }

// CheckLocked is called before the protected handler runs.
func (t *BruteForceTracker) CheckLocked(ctx context.Context, id ClientIdentity, now time.Time) (Verdict, error) {
	verdict := Allow()
	nowMs := now.UnixMilli()

	err := updateRecord(ctx, t.store, t.key(id), t.ttl(), func(rec *bruteForceRecord, found bool) (bool, error) {
		if !found || nowMs > rec.ResetTime {
			*rec = bruteForceRecord{ResetTime: nowMs + t.window.Milliseconds()}
			return true, nil
		}
		if rec.Attempts >= t.max {
			remaining := time.Duration(rec.ResetTime-nowMs) * time.Millisecond
			verdict = DenyRetry(ReasonLockedOut, retryAfterSeconds(remaining))
		}
		return false, nil
	})
	if err != nil {
		return Allow(), err
	}
	return verdict, nil
}

// RecordOutcome is called after the protected handler completed with status.
// Statuses of 400 and above count as failures; anything else clears the count.
func (t *BruteForceTracker) RecordOutcome(ctx context.Context, id ClientIdentity, status int, now time.Time) error {
	nowMs := now.UnixMilli()
	return updateRecord(ctx, t.store, t.key(id), t.ttl(), func(rec *bruteForceRecord, found bool) (bool, error) {
		if !found || nowMs > rec.ResetTime {
			*rec = bruteForceRecord{ResetTime: nowMs + t.window.Milliseconds()}
		}
		if status >= 400 {
			rec.Attempts++
		} else {
			rec.Attempts = 0
		}
		return true, nil
	})
}

// Attempts returns the recorded failure count for id.
func (t *BruteForceTracker) Attempts(ctx context.Context, id ClientIdentity) (int, error) {
	rec, _, err := getRecord[bruteForceRecord](ctx, t.store, t.key(id))
	return rec.Attempts, err
}

// Reset clears any lockout for id.
func (t *BruteForceTracker) Reset(ctx context.Context, id ClientIdentity) error {
	return t.store.Delete(ctx, t.key(id))
}

// MaxAttempts returns the configured threshold.
func (t *BruteForceTracker) MaxAttempts() int { return t.max }

// Window returns the configured lockout window.
func (t *BruteForceTracker) Window() time.Duration { return t.window }
