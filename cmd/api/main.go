package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/availability"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/httpapi"
	"callbridge/internal/reporting"
	"callbridge/internal/routing"
	"callbridge/internal/signaling"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Call record store.
	var store calls.Store
	switch cfg.Call.Store {
	case "postgres":
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		store = calls.NewPostgresStore(db)
	default:
		store = calls.NewMemoryStore()
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.RedisRequired() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// Availability index.
	var avail availability.Repository
	if cfg.Call.AvailabilityStore == "redis" {
		avail = availability.NewRedisRepo(rdb)
	} else {
		avail = availability.NewMemoryRepo()
	}
	defer avail.Close()

	// Per-org ringing cap.
	var caps routing.CapacityLimiter = routing.NoopLimiter{}
	if cfg.Call.OrgMaxRinging > 0 {
		caps = routing.NewRedisLimiter(rdb, cfg.Call.OrgMaxRinging, cfg.Call.RingTimeout)
	}

	callRouter := routing.NewRouter(store, avail, caps, cfg.Call.RingTimeout)

	hub := signaling.NewHub()
	rooms := signaling.NewRooms(cfg.Call.RoomPrefix)
	supervisor := signaling.NewSupervisor()
	defer supervisor.Stop()

	auditSvc := audit.NewService(audit.NewMemoryRepo())
	signals := signaling.NewService(store, hub, rooms, supervisor, auditSvc, caps, cfg.Call.RingTimeout, log)
	gateway := signaling.NewGateway(signals, hub, rooms, authManager, log)

	handlers := httpapi.Handlers{
		Auth:         authManager,
		Router:       callRouter,
		Signals:      signals,
		Availability: avail,
		Reports:      reporting.NewService(store),
		Store:        store,
		DefaultOrgID: cfg.Call.DefaultOrgID,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, gateway, auth.RequireAccessToken(authManager), cfg.Call.SocketPath)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Call.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
