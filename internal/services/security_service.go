package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
)

// DecisionFilter narrows ListDecisions. Zero fields match everything.
type DecisionFilter struct {
	Pipeline string
	Stage    string
	IP       string
	Limit    int
}

type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// LogDecision stores a security decision record
func (s *SecurityService) LogDecision(d *models.SecurityDecision) error {
	if d == nil {
		return nil
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return s.db.Create(d).Error
}

// ListDecisions returns recent security decisions, ordered by created_at desc
func (s *SecurityService) ListDecisions(f DecisionFilter) ([]models.SecurityDecision, error) {
	var res []models.SecurityDecision
	q := s.db.Order("created_at desc")
	if f.Pipeline != "" {
		q = q.Where("pipeline = ?", f.Pipeline)
	}
	if f.Stage != "" {
		q = q.Where("stage = ?", f.Stage)
	}
	if f.IP != "" {
		q = q.Where("ip = ?", f.IP)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// CountDecisionsByStage returns denial counts per stage since the given time.
func (s *SecurityService) CountDecisionsByStage(since time.Time) (map[string]int64, error) {
	var rows []struct {
		Stage string
		Total int64
	}
	err := s.db.Model(&models.SecurityDecision{}).
		Select("stage, count(*) as total").
		Where("created_at >= ?", since).
		Group("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Stage] = r.Total
	}
	return out, nil
}

// PruneDecisions deletes decisions created before cutoff.
func (s *SecurityService) PruneDecisions(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.SecurityDecision{})
	return res.RowsAffected, res.Error
}

// LogAudit stores an audit entry
func (s *SecurityService) LogAudit(a *models.SecurityAudit) error {
	if a == nil {
		return nil
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.Create(a).Error
}

// ListAudits returns the most recent audit entries.
func (s *SecurityService) ListAudits(limit int) ([]models.SecurityAudit, error) {
	var res []models.SecurityAudit
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
