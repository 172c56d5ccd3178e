package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/metrics"
)

type alertSender interface {
	Send(message string, params *types.Params) []error
}

// AlertService pushes audit-worthy denials (pattern attacks, forged
// signatures, CSRF failures) to the configured shoutrrr destinations.
// Alerts are throttled so an attack burst produces a handful of messages.
type AlertService struct {
	sender  alertSender
	limiter *rate.Limiter
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// NewAlertService validates urls. With no urls the service is a no-op.
func NewAlertService(urls []string) (*AlertService, error) {
	s := &AlertService{
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
		log:     logger.Component("alerts"),
	}
	if len(urls) == 0 {
		return s, nil
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("alert destinations: %w", err)
	}
	s.sender = sender
	return s, nil
}

// Enabled reports whether any destination is configured.
func (s *AlertService) Enabled() bool {
	return s != nil && s.sender != nil
}

// Notify sends an alert for d in the background when it warrants one.
func (s *AlertService) Notify(d guard.Decision) {
	if !s.Enabled() || d.Allowed || !d.Reason.Audit() {
		return
	}
	if !s.limiter.Allow() {
		metrics.IncAlert("throttled")
		return
	}

	msg := formatAlert(d)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		failed := false
		for _, err := range s.sender.Send(msg, nil) {
			if err != nil {
				failed = true
				s.log.WithError(err).Warn("failed to deliver security alert")
			}
		}
		if failed {
			metrics.IncAlert("failed")
			return
		}
		metrics.IncAlert("sent")
	}()
}

// Wait blocks until in-flight alerts finish.
func (s *AlertService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

func formatAlert(d guard.Decision) string {
	msg := fmt.Sprintf("MessWallah security alert\n\n%s on %s %s from %s (pipeline %s)",
		d.Reason, d.Method, d.Path, d.Identity.IP, d.Pipeline)
	if d.Rule != "" {
		msg += fmt.Sprintf("\nrule: %s (%s)", d.Rule, d.Category)
	}
	if d.Identity.UserID != "" {
		msg += "\nuser: " + d.Identity.UserID
	}
	return msg + "\nat: " + d.At.UTC().Format(time.RFC3339)
}
