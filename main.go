package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ideahub/server/api"
	"github.com/ideahub/server/api/rest"
	"github.com/ideahub/server/api/sse"
	apiws "github.com/ideahub/server/api/ws"
	"github.com/ideahub/server/audit"
	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/cache"
	"github.com/ideahub/server/config"
	dbadapter "github.com/ideahub/server/db"
	"github.com/ideahub/server/friend"
	"github.com/ideahub/server/logging"
	"github.com/ideahub/server/model"
	"github.com/ideahub/server/presence"
	"github.com/ideahub/server/scheduler"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; acting user ids are trusted from requests")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Presence ----
	var mirror *presence.Mirror
	if cfg.Presence.MirrorEnabled {
		nodeID := cfg.Server.NodeID
		if nodeID == "" {
			nodeID = defaultNodeID()
		}
		mirror = presence.NewMirror(c, nodeID, cfg.Presence.MirrorTTL, logger)
		if err := mirror.Join(ctx); err != nil {
			return fmt.Errorf("presence mirror: %w", err)
		}
		logger.Info("presence mirror joined", zap.String("node_id", nodeID))
	}
	broadcaster := broadcast.New(pubsub, mirror, logger)
	tracker := presence.NewTracker(broadcaster, mirror, logger)
	heartbeat := presence.NewHeartbeat(db, cfg.Presence.OnlineThreshold)
	resolver := presence.NewResolver(tracker, heartbeat, logger)

	// ---- Friend graph ----
	friends := friend.NewService(db, c, broadcaster, auditSvc, logger)

	// ---- WebSocket hub and relay ----
	hub := apiws.NewHub(logger)
	relay, err := broadcast.NewRelay(ctx, pubsub, hub, logger)
	if err != nil {
		return fmt.Errorf("broadcast relay: %w", err)
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	sched.Every("heartbeat_sweep", cfg.Presence.SweepInterval, func(ctx context.Context) error {
		n, err := heartbeat.Sweep(ctx)
		if n > 0 {
			logger.Info("heartbeat sweep", zap.Int64("marked_offline", n))
		}
		return err
	})
	if mirror != nil {
		sched.Every("mirror_sync", cfg.Presence.MirrorSyncInterval, tracker.SyncMirror)
	}

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	ph := apiws.NewPresenceHandlers(heartbeat, tracker, broadcaster, logger)
	ph.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := api.NewEngine(cfg, api.Handlers{
		Health:  rest.NewHealthHandler(db),
		Users:   rest.NewUserHandler(db, friends, resolver, logger),
		Friends: rest.NewFriendHandler(friends, logger),
		Status:  rest.NewStatusHandler(heartbeat, resolver, logger),
		Admin:   rest.NewAdminHandler(tracker, hub, sched, auditSvc, logger),
		WS:      apiws.NewHandler(cfg.Security, tracker, hub, ph, wsRouter, logger),
		SSE:     sse.NewHandler(pubsub, 0, logger),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		sched.Stop()
		if mirror != nil {
			if lerr := mirror.Leave(shutdownCtx); lerr != nil {
				logger.Warn("presence mirror leave failed", zap.Error(lerr))
			}
		}
		auditSvc.Stop(shutdownCtx)
		return err
	})
	return g.Wait()
}

// defaultNodeID identifies this instance in the presence mirror when
// server.node_id is not configured.
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
