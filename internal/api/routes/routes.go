package routes

import (
	"context"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/api/handlers"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/api/middleware"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/cerberus"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/metrics"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

// Runtime holds the long-lived pieces created during registration that the
// caller must start and shut down.
type Runtime struct {
	Cerberus    *cerberus.Cerberus
	Store       guard.Store
	Maintenance *services.MaintenanceService
	Alerts      *services.AlertService
}

// Close stops background jobs, drains pending alerts and releases the store.
func (r *Runtime) Close() error {
	if r.Maintenance != nil {
		r.Maintenance.Stop()
	}
	r.Alerts.Wait()
	if c, ok := r.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewStore builds the guard store selected by cfg.
func NewStore(ctx context.Context, cfg config.StoreConfig) (guard.Store, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		return guard.NewRedisStore(ctx, guard.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case config.StoreMemory, "":
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = guard.DefaultStoreCapacity
		}
		return guard.NewMemoryStore(capacity)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidStore, cfg.Backend)
	}
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Runtime, error) {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.PaymentIntent{},
		&models.SecurityDecision{},
		&models.SecurityAudit{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	store, err := NewStore(context.Background(), cfg.Security.Store)
	if err != nil {
		return nil, fmt.Errorf("guard store: %w", err)
	}

	securityService := services.NewSecurityService(db)
	alertService, err := services.NewAlertService(cfg.Security.AlertURLs)
	if err != nil {
		return nil, err
	}
	recorder := cerberus.NewDecisionRecorder(securityService, alertService)

	cerb, err := cerberus.New(cfg.Security, store, recorder)
	if err != nil {
		return nil, fmt.Errorf("request defense: %w", err)
	}
	maintenance := services.NewMaintenanceService(cerb, securityService, cfg.Security.DecisionRetention)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authService := services.NewAuthService(db, cfg)
	roomService := services.NewRoomService(db)

	router.GET("/api/v1/health", handlers.HealthHandler)

	api := router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(authService))

	general := cerb.Middleware(config.CategoryGeneral)
	authGuard := cerb.Middleware(config.CategoryAuth)
	paymentGuard := cerb.Middleware(config.CategoryPayment)
	authMiddleware := middleware.AuthMiddleware(authService)

	api.GET("/auth/csrf-token", general, cerb.IssueCSRFToken)

	// Only login responses count towards the auth lockout.
	authOther := cerb.Middleware(config.CategoryAuth, cerberus.WithoutAttemptTracking())
	authHandler := handlers.NewAuthHandler(authService, cfg.Environment != "development")
	auth := api.Group("/auth")
	{
		auth.POST("/register", authOther, authHandler.Register)
		auth.POST("/login", authGuard, authHandler.Login)
		auth.POST("/logout", authOther, authMiddleware, authHandler.Logout)
		auth.GET("/me", authOther, authMiddleware, authHandler.Me)
	}

	roomHandler := handlers.NewRoomHandler(roomService)
	rooms := api.Group("/rooms")
	rooms.Use(general)
	{
		rooms.GET("", roomHandler.List)
		rooms.GET("/:id", roomHandler.Get)
		rooms.POST("", authMiddleware, middleware.RequireRole(models.RoleOwner, models.RoleAdmin), roomHandler.Create)
	}

	paymentHandler := handlers.NewPaymentHandler(roomService)
	api.POST("/payments/intent", paymentGuard, authMiddleware, paymentHandler.CreateIntent)

	securityHandler := handlers.NewSecurityHandler(cerb, securityService)
	admin := api.Group("/security")
	admin.Use(general, authMiddleware, middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/status", securityHandler.GetStatus)
		admin.GET("/decisions", securityHandler.ListDecisions)
		admin.GET("/audits", securityHandler.ListAudits)
		admin.POST("/lockouts/reset", securityHandler.ResetLockout)
	}

	logger.Log().WithFields(logrus.Fields{
		"store":    cfg.Security.Store.Backend,
		"enabled":  cerb.IsEnabled(),
		"alerting": alertService.Enabled(),
	}).Info("routes registered")

	return &Runtime{Cerberus: cerb, Store: store, Maintenance: maintenance, Alerts: alertService}, nil
}
