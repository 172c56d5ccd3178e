// Package guard implements the request-defense pipeline: fixed-window rate
// limiting, brute-force lockout, replay checks, pattern attack detection and
// CSRF tokens. It has no HTTP framework dependency; internal/cerberus adapts
// it to gin.
package guard

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// Reason names why a guard denied a request.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonRateLimitExceeded      Reason = "RateLimitExceeded"
	ReasonLockedOut              Reason = "LockedOut"
	ReasonMissingSecurityHeaders Reason = "MissingSecurityHeaders"
	ReasonRequestExpired         Reason = "RequestExpired"
	ReasonInvalidSignature       Reason = "InvalidSignature"
	ReasonPatternAttack          Reason = "PatternAttackDetected"
	ReasonCSRFValidationFailed   Reason = "CSRFValidationFailed"
	ReasonForbidden              Reason = "Forbidden"
)

// Status maps a denial reason to its HTTP status code.
func (r Reason) Status() int {
	switch r {
	case ReasonRateLimitExceeded, ReasonLockedOut:
		return http.StatusTooManyRequests
	case ReasonMissingSecurityHeaders, ReasonRequestExpired, ReasonInvalidSignature, ReasonCSRFValidationFailed:
		return http.StatusUnauthorized
	case ReasonPatternAttack:
		return http.StatusBadRequest
	case ReasonForbidden:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

// Message is the client-facing text for a denial. Pattern attacks get a
// generic message so the matched rule is never disclosed.
func (r Reason) Message() string {
	switch r {
	case ReasonRateLimitExceeded:
		return "Too many requests, please try again later"
	case ReasonLockedOut:
		return "Too many failed attempts, please try again later"
	case ReasonMissingSecurityHeaders:
		return "Missing security headers"
	case ReasonRequestExpired:
		return "Request expired"
	case ReasonInvalidSignature:
		return "Invalid request signature"
	case ReasonPatternAttack:
		return "Invalid request"
	case ReasonCSRFValidationFailed:
		return "CSRF token validation failed"
	case ReasonForbidden:
		return "Forbidden"
	default:
		return ""
	}
}

// Audit reports whether a denial is security-relevant enough to be logged at
// warning level and persisted. Rate and lockout denials are expected noise.
func (r Reason) Audit() bool {
	switch r {
	case ReasonPatternAttack, ReasonCSRFValidationFailed,
		ReasonMissingSecurityHeaders, ReasonRequestExpired, ReasonInvalidSignature,
		ReasonForbidden:
		return true
	default:
		return false
	}
}

// Verdict is the outcome of a single guard.
type Verdict struct {
	Allowed    bool
	Reason     Reason
	RetryAfter int    // seconds, only for rate and lockout denials
	Rule       string // internal detail, never sent to the client
}

// Allow returns a passing verdict.
func Allow() Verdict { return Verdict{Allowed: true} }

// Deny returns a failing verdict.
func Deny(reason Reason) Verdict { return Verdict{Reason: reason} }

// DenyRetry returns a failing verdict carrying a retry hint.
func DenyRetry(reason Reason, retryAfter int) Verdict {
	return Verdict{Reason: reason, RetryAfter: retryAfter}
}

// retryAfterSeconds rounds a remaining duration up to whole seconds, never
// returning less than one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// DeniedError wraps a denial decision so it can travel as an error.
type DeniedError struct {
	Stage  Stage
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied at %s: %s", e.Stage, e.Reason)
}
