package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/metrics"
)

// Sweeper drops expired guard state.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// MaintenanceService runs the periodic housekeeping jobs: sweeping expired
// guard records and pruning old security decisions.
type MaintenanceService struct {
	Cron      *cron.Cron
	sweeper   Sweeper
	security  *SecurityService
	retention time.Duration
	log       *logrus.Entry
}

func NewMaintenanceService(sweeper Sweeper, security *SecurityService, retention time.Duration) *MaintenanceService {
	s := &MaintenanceService{
		Cron:      cron.New(),
		sweeper:   sweeper,
		security:  security,
		retention: retention,
		log:       logger.Component("maintenance"),
	}

	if _, err := s.Cron.AddFunc("@every 1m", func() { s.SweepGuardState(context.Background()) }); err != nil {
		s.log.WithError(err).Error("failed to schedule guard sweep")
	}
	if _, err := s.Cron.AddFunc("@daily", func() { s.PruneDecisions(time.Now()) }); err != nil {
		s.log.WithError(err).Error("failed to schedule decision pruning")
	}
	return s
}

func (s *MaintenanceService) Start() { s.Cron.Start() }

// Stop waits for running jobs to finish.
func (s *MaintenanceService) Stop() {
	<-s.Cron.Stop().Done()
}

// SweepGuardState removes expired guard records and returns how many went.
func (s *MaintenanceService) SweepGuardState(ctx context.Context) int {
	if s.sweeper == nil {
		return 0
	}
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Warn("guard sweep failed")
	}
	if n > 0 {
		metrics.AddStoreSwept(n)
		s.log.WithField("removed", n).Debug("swept expired guard records")
	}
	return n
}

// PruneDecisions deletes decisions older than the retention period.
func (s *MaintenanceService) PruneDecisions(now time.Time) int64 {
	if s.security == nil || s.retention <= 0 {
		return 0
	}
	n, err := s.security.PruneDecisions(now.Add(-s.retention))
	if err != nil {
		s.log.WithError(err).Error("failed to prune security decisions")
		return 0
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("pruned security decisions")
	}
	return n
}
