package models

import (
	"time"
)

// SecurityDecision stores a request the defense pipelines denied so it can be
// audited and surfaced to admins.
type SecurityDecision struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex"`
	Pipeline   string    `json:"pipeline" gorm:"index"` // general, auth, payment
	Stage      string    `json:"stage"`                 // rate_limit, brute_force, replay, ...
	Reason     string    `json:"reason"`
	Action     string    `json:"action"` // block
	IP         string    `json:"ip" gorm:"index"`
	UserID     string    `json:"user_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	RuleID     string    `json:"rule_id"`
	Status     int       `json:"status"`
	RetryAfter int       `json:"retry_after,omitempty"`
	Details    string    `json:"details" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}
