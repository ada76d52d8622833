package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bioplatform/access-gateway/pkg/config"
	"github.com/bioplatform/access-gateway/pkg/database"
	"github.com/bioplatform/access-gateway/pkg/logger"

	"github.com/bioplatform/access-gateway/internal/audit"
	"github.com/bioplatform/access-gateway/internal/credstore"
	"github.com/bioplatform/access-gateway/internal/gateway"
	"github.com/bioplatform/access-gateway/internal/rbac"
	"github.com/bioplatform/access-gateway/internal/session"
	"github.com/bioplatform/access-gateway/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithComponent("gateway").Info("Starting access gateway")

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.CreateSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to create schema")
	}

	engine, err := rbac.NewEngine(rbac.DefaultRoles(), rbac.ClaimScopeResolver{})
	if err != nil {
		log.WithError(err).Fatal("Failed to build authorization engine")
	}

	userRepo := credstore.NewPostgresUserRepository(db, log)
	creds := credstore.NewStore(userRepo, credstore.Policy{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   time.Duration(cfg.Auth.LockoutMinutes) * time.Minute,
	}, rbac.RoleNames(), log)

	sessions := session.NewRegistry(session.NewPostgresStore(db, log), session.AnomalyPolicy{
		MaxDistinctOrigins: cfg.Auth.MaxConcurrentOrigin,
		Window:             time.Duration(cfg.Auth.ConcurrentWindow) * time.Second,
	}, log)
	sessions.StartGC(ctx,
		time.Duration(cfg.Auth.SessionGCMinutes)*time.Minute,
		time.Duration(cfg.Auth.SessionGraceMinutes)*time.Minute)

	tokens := token.NewService(token.Config{
		Secret:     []byte(cfg.JWT.SecretKey),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  time.Duration(cfg.JWT.AccessTokenTTL) * time.Second,
		RefreshTTL: time.Duration(cfg.JWT.RefreshTokenTTL) * time.Second,
	}, sessions, userRepo, log)

	auditLog := audit.NewLog(audit.NewPostgresStore(db, log), log)

	throttleWindow := time.Duration(cfg.Auth.ThrottleWindowSecs) * time.Second
	var throttle gateway.Throttle
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		throttle = gateway.NewRedisThrottle(client, cfg.Auth.ThrottleLimit, throttleWindow, log)
	} else {
		throttle = gateway.NewMemoryThrottle(cfg.Auth.ThrottleLimit, throttleWindow)
	}

	svc := gateway.NewService(cfg, gateway.Deps{
		Creds:    creds,
		Tokens:   tokens,
		Sessions: sessions,
		Authz:    engine,
		Audit:    auditLog,
		Throttle: throttle,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("Gateway failed")
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Stop(shutdownCtx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
	}

	log.Info("Access gateway stopped")
}
