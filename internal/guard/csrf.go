package guard

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	HeaderCSRFToken = "X-CSRF-Token"
	BodyCSRFField   = "_csrf"

	DefaultCSRFTTL           = time.Hour
	DefaultCSRFSweepInterval = 30 * time.Second
	csrfTokenBytes           = 32
	csrfKeyPrefix            = "csrf:"
)

// CSRFConfig configures a CSRFGuard.
type CSRFConfig struct {
	TTL           time.Duration
	SafeMethods   []string
	SweepInterval time.Duration // minimum gap between sweeps run by Issue
}

type csrfRecord struct {
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// CSRFGuard issues one anti-forgery token per identity and validates it on
// state-changing requests.
type CSRFGuard struct {
	store      Store
	ttl        time.Duration
	safe       methodSet
	sweepEvery time.Duration
	nextSweep  atomic.Int64 // unix millis
}

// NewCSRFGuard applies defaults to cfg.
func NewCSRFGuard(store Store, cfg CSRFConfig) *CSRFGuard {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	safe := cfg.SafeMethods
	if len(safe) == 0 {
		safe = DefaultSafeMethods
	}
	every := cfg.SweepInterval
	if every <= 0 {
		every = DefaultCSRFSweepInterval
	}
	return &CSRFGuard{store: store, ttl: ttl, safe: newMethodSet(safe), sweepEvery: every}
}

// TTL returns the token lifetime.
func (g *CSRFGuard) TTL() time.Duration { return g.ttl }

// Issue creates a token for id, replacing any previous one, and sweeps
// expired tokens of other identities at most once per sweep interval.
func (g *CSRFGuard) Issue(ctx context.Context, id ClientIdentity, now time.Time) (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	err := updateRecord(ctx, g.store, csrfKeyPrefix+id.Key(), g.ttl, func(rec *csrfRecord, _ bool) (bool, error) {
		*rec = csrfRecord{Token: token, CreatedAt: now.UnixMilli()}
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}

	if !g.claimSweep(now) {
		return token, nil
	}
	if _, err := g.Sweep(ctx, now); err != nil {
		return token, fmt.Errorf("sweep csrf tokens: %w", err)
	}
	return token, nil
}

// claimSweep reports whether the caller should run the issue-time sweep.
// Concurrent issuers race on the CAS so only one of them sweeps.
func (g *CSRFGuard) claimSweep(now time.Time) bool {
	next := g.nextSweep.Load()
	if now.UnixMilli() < next {
		return false
	}
	return g.nextSweep.CompareAndSwap(next, now.Add(g.sweepEvery).UnixMilli())
}

// Validate checks presented against the stored token for id.
func (g *CSRFGuard) Validate(ctx context.Context, id ClientIdentity, method, presented string, now time.Time) (Verdict, error) {
	if g.safe.has(method) {
		return Allow(), nil
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Deny(ReasonCSRFValidationFailed), nil
	}

	rec, found, err := getRecord[csrfRecord](ctx, g.store, csrfKeyPrefix+id.Key())
	if err != nil {
		return Allow(), err
	}
	if !found || g.expired(rec, now) {
		return Deny(ReasonCSRFValidationFailed), nil
	}
	if subtle.ConstantTimeCompare([]byte(rec.Token), []byte(presented)) != 1 {
		return Deny(ReasonCSRFValidationFailed), nil
	}
	return Allow(), nil
}

// Sweep deletes tokens older than the TTL and returns how many were removed.
func (g *CSRFGuard) Sweep(ctx context.Context, now time.Time) (int, error) {
	var stale []string
	err := g.store.Scan(ctx, csrfKeyPrefix, func(key string, val []byte) bool {
		var rec csrfRecord
		if decodeErr := json.Unmarshal(val, &rec); decodeErr != nil || g.expired(rec, now) {
			stale = append(stale, key)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := g.store.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (g *CSRFGuard) expired(rec csrfRecord, now time.Time) bool {
	return now.UnixMilli()-rec.CreatedAt > g.ttl.Milliseconds()
}
