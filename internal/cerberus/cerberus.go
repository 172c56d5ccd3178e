// Package cerberus adapts the guard pipelines to gin. One pipeline is built
// per route category; all of them share a single store and CSRF guard.
package cerberus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
)

var (
	ErrUnknownCategory = errors.New("unknown route category")
	ErrNoLockout       = errors.New("category has no lockout tracker")
)

// Cerberus provides a facade over the request-defense pipelines.
type Cerberus struct {
	cfg       config.SecurityConfig
	store     guard.Store
	recorder  guard.Recorder
	extractor *guard.IdentityExtractor
	blocked   *guard.AddressList
	flood     *guard.FloodLimiter
	csrf      *guard.CSRFGuard
	replay    *guard.ReplayGuard
	pipelines map[string]*guard.Pipeline
	clock     func() time.Time
	log       *logrus.Entry
}

// Option customises New.
type Option func(*Cerberus)

// WithClock overrides the time source used by every guard.
func WithClock(clock func() time.Time) Option {
	return func(c *Cerberus) { c.clock = clock }
}

// New creates a new Cerberus instance. recorder may be nil.
func New(cfg config.SecurityConfig, store guard.Store, recorder guard.Recorder, opts ...Option) (*Cerberus, error) {
	if store == nil {
		return nil, errors.New("cerberus: store is required")
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = config.DefaultProfiles()
	}
	if _, ok := cfg.Profiles[config.CategoryGeneral]; !ok {
		return nil, fmt.Errorf("%w: %s profile is required", ErrUnknownCategory, config.CategoryGeneral)
	}

	c := &Cerberus{
		cfg:       cfg,
		store:     store,
		recorder:  recorder,
		extractor: guard.NewIdentityExtractor(cfg.TrustedProxies),
		blocked:   guard.NewAddressList(cfg.BlockedCIDRs),
		flood:     guard.NewFloodLimiter(cfg.FloodRPS, cfg.FloodBurst),
		csrf:      guard.NewCSRFGuard(store, guard.CSRFConfig{TTL: cfg.CSRFTTL}),
		pipelines: make(map[string]*guard.Pipeline, len(cfg.Profiles)),
		clock:     time.Now,
		log:       logger.Component("cerberus"),
	}
	for _, opt := range opts {
		opt(c)
	}

	detector := guard.NewDetector(guard.DetectorConfig{SkipKeys: cfg.DetectorSkipKeys})
	c.replay = guard.NewReplayGuard(guard.ReplayConfig{
		FreshnessWindow: cfg.FreshnessWindow,
		Secret:          []byte(cfg.SigningSecret),
	})

	for name, prof := range cfg.Profiles {
		pc := guard.PipelineConfig{
			Name:      name,
			Extractor: c.extractor,
			Recorder:  recorder,
			Clock:     c.clock,
			Logger:    c.log,
		}
		rl, err := guard.NewRateLimiter(store, guard.RateLimitConfig{Name: name, Window: prof.Window, MaxRequests: prof.MaxRequests})
		if err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w", name, err)
		}
		pc.RateLimiter = rl
		if prof.MaxAuthAttempts > 0 {
			bf, err := guard.NewBruteForceTracker(store, guard.BruteForceConfig{
				Name:        name,
				MaxAttempts: prof.MaxAuthAttempts,
				Window:      prof.LockoutWindow,
			})
			if err != nil {
				return nil, fmt.Errorf("%s lockout tracker: %w", name, err)
			}
			pc.BruteForce = bf
		}
		if prof.Replay {
			pc.Replay = c.replay
		}
		if prof.Detector {
			pc.Detector = detector
		}
		if prof.CSRF {
			pc.CSRF = c.csrf
		}
		c.pipelines[name] = guard.NewPipeline(pc)
	}

	c.log.WithFields(logrus.Fields{
		"pipelines":      len(c.pipelines),
		"hardened":       c.replay.Hardened(),
		"blocked_ranges": c.blocked.Len(),
		"flood_limit":    cfg.FloodRPS,
	}).Info("request defense initialised")
	return c, nil
}

// IsEnabled returns whether the pipelines are enforced.
func (c *Cerberus) IsEnabled() bool {
	return c.cfg.Enabled
}

// Pipeline returns the pipeline for category, falling back to general.
func (c *Cerberus) Pipeline(category string) *guard.Pipeline {
	if p, ok := c.pipelines[category]; ok {
		return p
	}
	return c.pipelines[config.CategoryGeneral]
}

// MiddlewareOption customises a single Middleware handler.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	trackAttempts bool
}

// WithoutAttemptTracking keeps the lockout check on a route but does not feed
// its response status to the lockout tracker. Routes of a lockout category
// that are not credential attempts (register, logout) use it.
func WithoutAttemptTracking() MiddlewareOption {
	return func(o *middlewareOptions) { o.trackAttempts = false }
}

// Middleware returns a Gin middleware that runs the category's pipeline.
func (c *Cerberus) Middleware(category string, opts ...MiddlewareOption) gin.HandlerFunc {
	p := c.Pipeline(category)
	o := middlewareOptions{trackAttempts: true}
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx *gin.Context) {
		if !c.IsEnabled() {
			ctx.Next()
			return
		}

		if d, denied := c.preflight(ctx, p); denied {
			c.abort(ctx, d)
			return
		}

		req, err := adaptRequest(ctx)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Request entity too large"})
				return
			}
			c.log.WithError(err).Warn("failed to read request body")
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
			return
		}

		d := p.Evaluate(ctx.Request.Context(), req)
		if !d.Allowed {
			c.abort(ctx, d)
			return
		}

		ctx.Next()

		if o.trackAttempts {
			p.RecordOutcome(ctx.Request.Context(), d, ctx.Writer.Status())
		}
	}
}

// preflight applies the address blocklist and the process-wide flood
// limiter, which run before any per-identity state is touched.
func (c *Cerberus) preflight(ctx *gin.Context, p *guard.Pipeline) (guard.Decision, bool) {
	now := c.clock()
	id := c.extractor.Extract(ctx.Request.RemoteAddr, ctx.GetHeader("X-Forwarded-For"), userID(ctx))

	var stage guard.Stage
	var v guard.Verdict
	switch {
	case c.blocked.Contains(id.IP):
		stage, v = guard.StageAccess, guard.Deny(guard.ReasonForbidden)
	default:
		stage, v = guard.StageFlood, c.flood.Allow(now)
	}
	if v.Allowed {
		return guard.Decision{}, false
	}

	d := guard.Decision{
		Pipeline:   p.Name(),
		Stage:      stage,
		Reason:     v.Reason,
		Status:     v.Reason.Status(),
		Message:    v.Reason.Message(),
		RetryAfter: v.RetryAfter,
		Identity:   id,
		Method:     ctx.Request.Method,
		Path:       ctx.Request.URL.Path,
		At:         now,
	}
	c.log.WithFields(logrus.Fields{
		"pipeline": d.Pipeline,
		"stage":    d.Stage,
		"reason":   d.Reason,
		"ip":       id.IP,
	}).Warn("request denied")
	if c.recorder != nil {
		c.recorder.Record(ctx.Request.Context(), d)
	}
	return d, true
}

func (c *Cerberus) abort(ctx *gin.Context, d guard.Decision) {
	body := gin.H{"success": false, "message": d.Message}
	if d.RetryAfter > 0 {
		ctx.Header("Retry-After", strconv.Itoa(d.RetryAfter))
		body["retryAfter"] = d.RetryAfter
	}
	ctx.AbortWithStatusJSON(d.Status, body)
}

// IssueCSRFToken is a handler that issues a CSRF token for the caller.
func (c *Cerberus) IssueCSRFToken(ctx *gin.Context) {
	id := c.Identify(ctx)
	token, err := c.csrf.Issue(ctx.Request.Context(), id, c.clock())
	if err != nil && token == "" {
		c.log.WithError(err).Error("failed to issue csrf token")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue CSRF token"})
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("csrf sweep failed")
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"csrfToken": token,
		"expiresIn": int(c.csrf.TTL().Seconds()),
	})
}

// Identify returns the identity the pipelines key the request under.
func (c *Cerberus) Identify(ctx *gin.Context) guard.ClientIdentity {
	return c.extractor.Extract(ctx.Request.RemoteAddr, ctx.GetHeader("X-Forwarded-For"), userID(ctx))
}

// ResetLockout clears the lockout state of id in category.
func (c *Cerberus) ResetLockout(ctx context.Context, category string, id guard.ClientIdentity) error {
	p, ok := c.pipelines[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if p.BruteForce() == nil {
		return fmt.Errorf("%w: %s", ErrNoLockout, category)
	}
	return p.BruteForce().Reset(ctx, id)
}

// Sweep drops expired guard records from the store and CSRF table.
func (c *Cerberus) Sweep(ctx context.Context) (int, error) {
	n, err := c.store.Sweep(ctx)
	if err != nil {
		return n, err
	}
	m, err := c.csrf.Sweep(ctx, c.clock())
	return n + m, err
}

// PipelineStatus describes one category's configuration.
type PipelineStatus struct {
	Name            string `json:"name"`
	WindowSeconds   int    `json:"window_seconds"`
	MaxRequests     int    `json:"max_requests"`
	MaxAuthAttempts int    `json:"max_auth_attempts,omitempty"`
	LockoutSeconds  int    `json:"lockout_seconds,omitempty"`
	Replay          bool   `json:"replay"`
	Detector        bool   `json:"detector"`
	CSRF            bool   `json:"csrf"`
}

// Status is a snapshot of the active defense configuration.
type Status struct {
	Enabled         bool             `json:"enabled"`
	StoreBackend    string           `json:"store_backend"`
	SignedRequests  bool             `json:"signed_requests"`
	FreshnessWindow int              `json:"freshness_window_seconds"`
	CSRFTTL         int              `json:"csrf_ttl_seconds"`
	FloodLimit      float64          `json:"flood_limit"`
	BlockedRanges   int              `json:"blocked_ranges"`
	TrustedProxies  int              `json:"trusted_proxies"`
	Pipelines       []PipelineStatus `json:"pipelines"`
}

// Status returns the current configuration snapshot.
func (c *Cerberus) Status() Status {
	backend := c.cfg.Store.Backend
	if backend == "" {
		backend = config.StoreMemory
	}
	s := Status{
		Enabled:         c.IsEnabled(),
		StoreBackend:    backend,
		SignedRequests:  c.replay.Hardened(),
		FreshnessWindow: int(c.replay.Window().Seconds()),
		CSRFTTL:         int(c.csrf.TTL().Seconds()),
		FloodLimit:      c.cfg.FloodRPS,
		BlockedRanges:   c.blocked.Len(),
		TrustedProxies:  len(c.cfg.TrustedProxies),
	}
	for name, p := range c.pipelines {
		prof := c.cfg.Profiles[name]
		ps := PipelineStatus{
			Name:          name,
			WindowSeconds: int(p.RateLimiter().Window().Seconds()),
			MaxRequests:   p.RateLimiter().MaxRequests(),
			Replay:        prof.Replay,
			Detector:      prof.Detector,
			CSRF:          prof.CSRF,
		}
		if bf := p.BruteForce(); bf != nil {
			ps.MaxAuthAttempts = bf.MaxAttempts()
			ps.LockoutSeconds = int(bf.Window().Seconds())
		}
		s.Pipelines = append(s.Pipelines, ps)
	}
	sort.Slice(s.Pipelines, func(i, j int) bool { return s.Pipelines[i].Name < s.Pipelines[j].Name })
	return s
}
