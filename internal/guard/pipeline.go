package guard

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/util"
)

// Stage identifies the guard that produced a decision.
type Stage string

const (
	StageNone       Stage = ""
	StageAccess     Stage = "access"
	StageFlood      Stage = "flood"
	StageRateLimit  Stage = "rate_limit"
	StageBruteForce Stage = "brute_force"
	StageReplay     Stage = "replay"
	StageDetector   Stage = "pattern_detector"
	StageCSRF       Stage = "csrf"
)

// Request is the framework-neutral view of an inbound request.
type Request struct {
	Method     string
	Path       string
	RemoteAddr string
	Header     http.Header
	Query      url.Values
	// Body is the decoded payload: map[string]any, []any, url.Values or, for
	// undecodable content, the raw text.
	Body    any
	RawBody []byte
	UserID  string
}

// CSRFToken returns the token from the header, falling back to the _csrf
// body field.
func (r *Request) CSRFToken() string {
	if tok := r.Header.Get(HeaderCSRFToken); tok != "" {
		return tok
	}
	switch b := r.Body.(type) {
	case map[string]any:
		if s, ok := b[BodyCSRFField].(string); ok {
			return s
		}
	case url.Values:
		return b.Get(BodyCSRFField)
	}
	return ""
}

// Decision is the aggregated pipeline verdict for one request.
type Decision struct {
	Allowed    bool
	Pipeline   string
	Stage      Stage
	Reason     Reason
	Status     int
	Message    string
	RetryAfter int
	Rule       string
	Category   string
	Identity   ClientIdentity
	Method     string
	Path       string
	At         time.Time
}

// Err returns nil for allowed decisions and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Stage: d.Stage, Reason: d.Reason}
}

// Recorder observes every decision a pipeline makes.
type Recorder interface {
	Record(ctx context.Context, d Decision)
}

// PipelineConfig wires the stages of a Pipeline. Nil stages are skipped.
type PipelineConfig struct {
	Name        string
	Extractor   *IdentityExtractor
	RateLimiter *RateLimiter
	BruteForce  *BruteForceTracker
	Replay      *ReplayGuard
	Detector    *Detector
	CSRF        *CSRFGuard
	Recorder    Recorder
	Clock       func() time.Time
	Logger      *logrus.Entry
}

// Pipeline runs the guards in a fixed order: rate limit, lockout, replay,
// pattern detection, CSRF. The first denial ends evaluation.
type Pipeline struct {
	name      string
	extractor *IdentityExtractor
	rate      *RateLimiter
	brute     *BruteForceTracker
	replay    *ReplayGuard
	detector  *Detector
	csrf      *CSRFGuard
	recorder  Recorder
	clock     func() time.Time
	log       *logrus.Entry
}

// NewPipeline builds a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		name:      cfg.Name,
		extractor: cfg.Extractor,
		rate:      cfg.RateLimiter,
		brute:     cfg.BruteForce,
		replay:    cfg.Replay,
		detector:  cfg.Detector,
		csrf:      cfg.CSRF,
		recorder:  cfg.Recorder,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if p.extractor == nil {
		p.extractor = NewIdentityExtractor(nil)
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.log == nil {
		p.log = logger.Log()
	}
	p.log = p.log.WithField("pipeline", cfg.Name)
	return p
}

// Name returns the route category this pipeline protects.
func (p *Pipeline) Name() string { return p.name }

// RateLimiter returns the pipeline's rate limiter, if any.
func (p *Pipeline) RateLimiter() *RateLimiter { return p.rate }

// BruteForce returns the pipeline's lockout tracker, if any.
func (p *Pipeline) BruteForce() *BruteForceTracker { return p.brute }

// Identify extracts the caller identity for req.
func (p *Pipeline) Identify(req *Request) ClientIdentity {
	return p.extractor.Extract(req.RemoteAddr, req.Header.Get("X-Forwarded-For"), req.UserID)
}

// Evaluate runs every configured guard against req.
func (p *Pipeline) Evaluate(ctx context.Context, req *Request) Decision {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	now := p.clock()
	d := Decision{
		Allowed:  true,
		Pipeline: p.name,
		Status:   http.StatusOK,
		Identity: p.Identify(req),
		Method:   req.Method,
		Path:     req.Path,
		At:       now,
	}

	var category string
	type stage struct {
		name Stage
		run  func() (Verdict, error)
	}
	stages := make([]stage, 0, 5)
	if p.rate != nil {
		stages = append(stages, stage{StageRateLimit, func() (Verdict, error) {
			return p.rate.Check(ctx, d.Identity, now)
		}})
	}
	if p.brute != nil {
		stages = append(stages, stage{StageBruteForce, func() (Verdict, error) {
			return p.brute.CheckLocked(ctx, d.Identity, now)
		}})
	}
	if p.replay != nil {
		stages = append(stages, stage{StageReplay, func() (Verdict, error) {
			return p.replay.VerifyRequest(EnvelopeFromHeader(req.Header), req.Method, req.Path, req.RawBody, now), nil
		}})
	}
	if p.detector != nil {
		stages = append(stages, stage{StageDetector, func() (Verdict, error) {
			res := p.detector.ScanAll(req.Query, req.Body)
			if !res.Flagged {
				return Allow(), nil
			}
			category = res.Category
			v := Deny(ReasonPatternAttack)
			v.Rule = res.Rule
			return v, nil
		}})
	}
	if p.csrf != nil {
		stages = append(stages, stage{StageCSRF, func() (Verdict, error) {
			return p.csrf.Validate(ctx, d.Identity, req.Method, req.CSRFToken(), now)
		}})
	}

	for _, s := range stages {
		v, err := s.run()
		if err != nil {
			// Store errors fail open.
			p.log.WithError(err).WithFields(logrus.Fields{
				"stage": s.name,
				"ip":    d.Identity.IP,
			}).Error("guard failed, allowing request")
			continue
		}
		if v.Allowed {
			continue
		}
		d.Allowed = false
		d.Stage = s.name
		d.Reason = v.Reason
		d.Status = v.Reason.Status()
		d.Message = v.Reason.Message()
		d.RetryAfter = v.RetryAfter
		d.Rule = v.Rule
		if d.Reason == ReasonPatternAttack {
			d.Category = category
		}
		break
	}

	if !d.Allowed {
		p.logDenial(d)
	}
	if p.recorder != nil {
		p.recorder.Record(ctx, d)
	}
	return d
}

// RecordOutcome feeds the handler's response status back to the lockout
// tracker. Requests the pipeline denied are not counted.
func (p *Pipeline) RecordOutcome(ctx context.Context, d Decision, status int) {
	if p.brute == nil || !d.Allowed {
		return
	}
	if err := p.brute.RecordOutcome(ctx, d.Identity, status, p.clock()); err != nil {
		p.log.WithError(err).WithField("ip", d.Identity.IP).Error("record brute-force outcome")
	}
}

func (p *Pipeline) logDenial(d Decision) {
	entry := p.log.WithFields(logrus.Fields{
		"stage":     d.Stage,
		"reason":    d.Reason,
		"ip":        d.Identity.IP,
		"user_id":   d.Identity.UserID,
		"method":    d.Method,
		"path":      util.SanitizeForLog(d.Path),
		"timestamp": d.At.UTC().Format(time.RFC3339Nano),
	})
	if d.Rule != "" {
		entry = entry.WithFields(logrus.Fields{"rule": d.Rule, "category": d.Category})
	}
	if d.Reason.Audit() {
		entry.Warn("request denied")
		return
	}
	entry.Info("request denied")
}
