package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/cerberus"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

func setupSecurityRouter(t *testing.T) (*gin.Engine, *cerberus.Cerberus, *services.SecurityService) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	svc := services.NewSecurityService(db)

	store, err := guard.NewMemoryStore(100)
	require.NoError(t, err)
	cerb, err := cerberus.New(config.SecurityConfig{
		Enabled:         true,
		FreshnessWindow: 5 * time.Minute,
		CSRFTTL:         time.Hour,
		Profiles:        config.DefaultProfiles(),
	}, store, nil)
	require.NoError(t, err)

	h := NewSecurityHandler(cerb, svc)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", uint(1)); c.Next() })
	r.GET("/status", h.GetStatus)
	r.GET("/decisions", h.ListDecisions)
	r.GET("/audits", h.ListAudits)
	r.POST("/lockouts/reset", h.ResetLockout)
	return r, cerb, svc
}

func TestSecurityHandler_StatusAndDecisions(t *testing.T) {
	r, _, svc := setupSecurityRouter(t)
	require.NoError(t, svc.LogDecision(&models.SecurityDecision{Pipeline: "general", Stage: "csrf", IP: "10.0.0.1"}))
	require.NoError(t, svc.LogDecision(&models.SecurityDecision{Pipeline: "auth", Stage: "brute_force", IP: "10.0.0.2"}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"csrf":1`)
	assert.Contains(t, w.Body.String(), `"name":"payment"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/decisions?pipeline=auth", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "10.0.0.2")
	assert.NotContains(t, w.Body.String(), "10.0.0.1")

	assert.Equal(t, http.StatusBadRequest, serve(r, httptest.NewRequest(http.MethodGet, "/decisions?limit=0", nil)).Code)
}

func TestSecurityHandler_ResetLockout(t *testing.T) {
	r, cerb, _ := setupSecurityRouter(t)
	ctx := context.Background()
	id := guard.ClientIdentity{IP: "198.51.100.7"}
	bf := cerb.Pipeline(config.CategoryAuth).BruteForce()
	now := time.Now()
	for i := 0; i < bf.MaxAttempts(); i++ {
		require.NoError(t, bf.RecordOutcome(ctx, id, http.StatusUnauthorized, now))
	}

	w := serve(r, jsonRequest(http.MethodPost, "/lockouts/reset", gin.H{"category": "auth", "ip": "198.51.100.7"}))
	require.Equal(t, http.StatusOK, w.Code)

	attempts, err := bf.Attempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/audits", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reset_lockout")
	assert.Contains(t, w.Body.String(), "user:1")

	assert.Equal(t, http.StatusBadRequest, serve(r, jsonRequest(http.MethodPost, "/lockouts/reset", gin.H{"category": "general", "ip": "198.51.100.7"})).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, jsonRequest(http.MethodPost, "/lockouts/reset", gin.H{"category": "auth"})).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, jsonRequest(http.MethodPost, "/lockouts/reset", gin.H{"category": "auth", "ip": "not-an-ip"})).Code)
}
