package guard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"

	DefaultFreshnessWindow = 5 * time.Minute
)

// DefaultSafeMethods are read-only methods that skip replay and CSRF checks.
var DefaultSafeMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// Envelope is the signature/timestamp pair carried in request headers.
type Envelope struct {
	Signature string
	Timestamp string
}

// EnvelopeFromHeader reads the replay headers.
func EnvelopeFromHeader(h http.Header) Envelope {
	return Envelope{
		Signature: strings.TrimSpace(h.Get(HeaderSignature)),
		Timestamp: strings.TrimSpace(h.Get(HeaderTimestamp)),
	}
}

// ReplayConfig configures the replay guard. When Secret is empty the guard
// only checks header presence and timestamp freshness.
type ReplayConfig struct {
	FreshnessWindow time.Duration
	SafeMethods     []string
	Secret          []byte
}

// ReplayGuard rejects mutating requests with missing, stale or (when a
// secret is configured) forged signature envelopes.
type ReplayGuard struct {
	window time.Duration
	safe   methodSet
	secret []byte
}

// NewReplayGuard applies defaults to cfg.
func NewReplayGuard(cfg ReplayConfig) *ReplayGuard {
	window := cfg.FreshnessWindow
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	safe := cfg.SafeMethods
	if len(safe) == 0 {
		safe = DefaultSafeMethods
	}
	return &ReplayGuard{window: window, safe: newMethodSet(safe), secret: cfg.Secret}
}

// Hardened reports whether signatures are verified cryptographically.
func (g *ReplayGuard) Hardened() bool { return len(g.secret) > 0 }

// Window returns the freshness window.
func (g *ReplayGuard) Window() time.Duration { return g.window }

// Verify checks presence and freshness only.
func (g *ReplayGuard) Verify(env Envelope, method string, now time.Time) Verdict {
	if g.safe.has(method) {
		return Allow()
	}
	if env.Signature == "" || env.Timestamp == "" {
		return Deny(ReasonMissingSecurityHeaders)
	}
	ts, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil {
		// An unusable timestamp is treated like a missing one.
		return Deny(ReasonMissingSecurityHeaders)
	}
	skew := now.UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > g.window.Milliseconds() {
		return Deny(ReasonRequestExpired)
	}
	return Allow()
}

// VerifyRequest runs Verify and, in hardened mode, checks the HMAC over the
// canonical request.
func (g *ReplayGuard) VerifyRequest(env Envelope, method, path string, body []byte, now time.Time) Verdict {
	v := g.Verify(env, method, now)
	if !v.Allowed || g.safe.has(method) || !g.Hardened() {
		return v
	}
	want := Sign(g.secret, method, path, body, env.Timestamp)
	got := strings.ToLower(env.Signature)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return Deny(ReasonInvalidSignature)
	}
	return Allow()
}

// CanonicalString is the string covered by a request signature.
func CanonicalString(method, path string, body []byte, timestamp string) string {
	sum := sha256.Sum256(body)
	return strings.ToUpper(method) + "\n" + path + "\n" + hex.EncodeToString(sum[:]) + "\n" + timestamp
}

// Sign returns the hex HMAC-SHA256 of the canonical request.
func Sign(secret []byte, method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CanonicalString(method, path, body, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

type methodSet map[string]struct{}

func newMethodSet(methods []string) methodSet {
	s := make(methodSet, len(methods))
	for _, m := range methods {
		s[strings.ToUpper(m)] = struct{}{}
	}
	return s
}

func (s methodSet) has(method string) bool {
	_, ok := s[strings.ToUpper(method)]
	return ok
}
