package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/api/middleware"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/cerberus"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

// SecurityHandler exposes the defense configuration and decision log to admins.
type SecurityHandler struct {
	cerb *cerberus.Cerberus
	svc  *services.SecurityService
}

func NewSecurityHandler(cerb *cerberus.Cerberus, svc *services.SecurityService) *SecurityHandler {
	return &SecurityHandler{cerb: cerb, svc: svc}
}

// GetStatus returns the pipeline configuration and denial counts for the last 24h.
func (h *SecurityHandler) GetStatus(c *gin.Context) {
	counts, err := h.svc.CountDecisionsByStage(time.Now().Add(-24 * time.Hour))
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to count security decisions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load security status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"defense":      h.cerb.Status(),
		"denials_24h":  counts,
		"generated_at": time.Now().UTC(),
	})
}

func (h *SecurityHandler) ListDecisions(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	list, err := h.svc.ListDecisions(services.DecisionFilter{
		Pipeline: c.Query("pipeline"),
		Stage:    c.Query("stage"),
		IP:       c.Query("ip"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list decisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": list})
}

func (h *SecurityHandler) ListAudits(c *gin.Context) {
	list, err := h.svc.ListAudits(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audits"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": list})
}

type ResetLockoutRequest struct {
	Category string `json:"category" binding:"required"`
	IP       string `json:"ip" binding:"omitempty,ip"`
	UserID   string `json:"user_id" binding:"omitempty,numeric"`
}

// ResetLockout clears a brute-force lockout and records who did it.
func (h *SecurityHandler) ResetLockout(c *gin.Context) {
	var req ResetLockoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IP == "" && req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip or user_id is required"})
		return
	}

	id := guard.ClientIdentity{IP: req.IP, UserID: req.UserID}
	if err := h.cerb.ResetLockout(c.Request.Context(), req.Category, id); err != nil {
		if errors.Is(err, cerberus.ErrUnknownCategory) || errors.Is(err, cerberus.ErrNoLockout) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("failed to reset lockout")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset lockout"})
		return
	}

	audit := &models.SecurityAudit{
		Actor:   fmt.Sprintf("user:%d", c.GetUint("userID")),
		Action:  "reset_lockout",
		Details: fmt.Sprintf("category=%s identity=%s", req.Category, id.Key()),
	}
	if err := h.svc.LogAudit(audit); err != nil {
		middleware.GetRequestLogger(c).WithError(err).Warn("failed to write security audit")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lockout cleared"})
}
