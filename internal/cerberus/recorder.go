package cerberus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/metrics"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/util"
)

// DecisionRecorder feeds pipeline decisions into metrics, the decision log
// and the alert service. Either service may be nil.
type DecisionRecorder struct {
	security *services.SecurityService
	alerts   *services.AlertService
	log      *logrus.Entry
}

func NewDecisionRecorder(security *services.SecurityService, alerts *services.AlertService) *DecisionRecorder {
	return &DecisionRecorder{security: security, alerts: alerts, log: logger.Component("cerberus")}
}

// Record implements guard.Recorder.
func (r *DecisionRecorder) Record(_ context.Context, d guard.Decision) {
	metrics.IncGuardRequest(d.Pipeline)
	if d.Allowed {
		return
	}
	metrics.IncGuardDenied(d.Pipeline, string(d.Stage), string(d.Reason))
	if d.Category != "" {
		metrics.IncPatternAttack(d.Category)
	}

	// Plain rate-limit denials are too frequent to persist one row each.
	if r.security != nil && (d.Reason.Audit() || d.Reason == guard.ReasonLockedOut) {
		if err := r.security.LogDecision(toModel(d)); err != nil {
			r.log.WithError(err).Error("failed to persist security decision")
		}
	}
	r.alerts.Notify(d)
}

func toModel(d guard.Decision) *models.SecurityDecision {
	details, _ := json.Marshal(map[string]any{
		"category":  d.Category,
		"retry":     d.RetryAfter,
		"timestamp": d.At.UTC().Format(time.RFC3339Nano),
	})
	return &models.SecurityDecision{
		Pipeline:   d.Pipeline,
		Stage:      string(d.Stage),
		Reason:     string(d.Reason),
		Action:     "block",
		IP:         d.Identity.IP,
		UserID:     d.Identity.UserID,
		Method:     d.Method,
		Path:       util.TruncateForLog(d.Path, 512),
		RuleID:     d.Rule,
		Status:     d.Status,
		RetryAfter: d.RetryAfter,
		Details:    string(details),
		CreatedAt:  d.At,
	}
}
