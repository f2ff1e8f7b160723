// Package app wires the governance components into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/alerting"
	"github.com/taskfoundry/aigov/internal/config"
	"github.com/taskfoundry/aigov/internal/db"
	"github.com/taskfoundry/aigov/internal/decisionlog"
	"github.com/taskfoundry/aigov/internal/executionlog"
	adminapi "github.com/taskfoundry/aigov/internal/http/api/admin"
	agentapi "github.com/taskfoundry/aigov/internal/http/api/agent"
	"github.com/taskfoundry/aigov/internal/logging"
	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/quota"
	"github.com/taskfoundry/aigov/internal/security"
	"github.com/taskfoundry/aigov/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	dsn, err := config.LoadDatabaseDSN(cfg.ConfigPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// CreateAdmin provisions an operator account for the management surface.
func CreateAdmin(ctx context.Context, cfg config.AppConfig, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("app: username is required")
	}
	if len(password) < security.MinPasswordLength {
		return fmt.Errorf("app: password must be at least %d characters", security.MinPasswordLength)
	}

	dsn, err := config.LoadDatabaseDSN(cfg.ConfigPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	admin := models.Admin{Username: username, PasswordHash: hash}
	if errCreate := conn.WithContext(ctx).Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("app: create admin: %w", errCreate)
	}
	log.Infof("created admin %s (id=%d)", username, admin.ID)
	return nil
}

// RunServer boots the governance server: storage, settings snapshot,
// background workers, and both API surfaces.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log)

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		return fmt.Errorf("app: load settings: %w", errRefresh)
	}

	sink := buildSink(cfg.Redis)
	retrier := alerting.NewRetrier()
	retrier.Start(ctx)

	store := quota.NewStore(conn)
	gate := quota.NewGate(store)
	recorder := quota.NewRecorder(store, sink, retrier, cfg.Accounting.RecordOnFailure)
	decisions := decisionlog.NewLog(conn)
	executions := executionlog.NewLog(conn)

	quota.NewRolloverSweeper(store).Start(ctx)
	decisionlog.NewRetentionCleaner(conn).Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	agentapi.RegisterRoutes(engine, agentapi.Deps{
		DB:         conn,
		Store:      store,
		Gate:       gate,
		Recorder:   recorder,
		Decisions:  decisions,
		Executions: executions,
	})
	adminapi.RegisterRoutes(engine, adminapi.Deps{
		DB:        conn,
		JWT:       cfg.JWT,
		Store:     store,
		Decisions: decisions,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// buildSink returns the redis alert sink when configured, falling back to
// log-only alerting.
func buildSink(cfg config.RedisConfig) alerting.Sink {
	if strings.TrimSpace(cfg.Addr) == "" {
		return alerting.LogSink{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return alerting.NewRedisSink(client, cfg.AlertChannel, cfg.AlertList)
}
