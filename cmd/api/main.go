package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/api/routes"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/database"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/logger"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/server"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Setup logging with rotation
	logDir := cfg.LogDir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(logDir, 0o755)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "messwallah.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()

	// Log to both stdout and file
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
	log := logger.Component("main")

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			log.Fatalf("Usage: %s reset-password <email> <new-password>", os.Args[0])
		}
		email := strings.ToLower(os.Args[2])

		var user models.User
		if err := db.Where("email = ?", email).First(&user).Error; err != nil {
			log.WithError(err).Fatal("user not found")
		}
		if err := user.SetPassword(os.Args[3]); err != nil {
			log.WithError(err).Fatal("failed to hash password")
		}
		if err := db.Model(&user).Update("password_hash", user.PasswordHash).Error; err != nil {
			log.WithError(err).Fatal("failed to save user")
		}
		log.WithField("email", email).Info("password updated")
		return
	}

	log.WithField("version", version.Full()).Infof("starting %s backend", version.Name)

	srv := server.New(cfg)
	rt, err := routes.Register(srv.Engine, db, cfg)
	if err != nil {
		log.WithError(err).Fatal("register routes")
	}
	rt.Maintenance.Start()
	defer func() {
		if err := rt.Close(); err != nil {
			log.WithError(err).Warn("shutdown cleanup")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
		return
	}
	log.Info("server stopped")
}
