package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/config"
	"github.com/mossy-p/jam-signaling/internal/discovery"
	"github.com/mossy-p/jam-signaling/internal/handlers"
	"github.com/mossy-p/jam-signaling/internal/logging"
	"github.com/mossy-p/jam-signaling/internal/redis"
	"github.com/mossy-p/jam-signaling/internal/relay"
	"github.com/mossy-p/jam-signaling/internal/session"
	"github.com/mossy-p/jam-signaling/internal/store"
)

const redisConnectWait = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := openStore(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open record store")
	}
	if records != nil {
		defer records.Close()
	}
	defer redis.Close()

	registry := session.NewRegistry(session.Options{
		Capacity:  cfg.Signaling.BroadcastCapacity,
		ReapEmpty: cfg.Signaling.ReapEmptySessions,
	})

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(ctx, handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		DefaultSession: cfg.Signaling.DefaultSession,
		Registry:       registry,
		Peer: relay.Options{
			DirectCapacity:  cfg.Signaling.DirectCapacity,
			MaxMessageBytes: cfg.Signaling.MaxMessageBytes,
		},
		Store: records,
	})

	if cfg.MDNSEnabled {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil {
			logrus.WithError(err).Fatal("PORT must be numeric to advertise over mDNS")
		}
		shutdown, err := discovery.Advertise(port, cfg.Signaling.DefaultSession)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to advertise relay")
		}
		defer shutdown()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Graceful shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"store":   cfg.Store.Driver,
		"session": cfg.Signaling.DefaultSession,
	}).Info("Starting jam signaling server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("Failed to start server")
	}
	logrus.Info("Server stopped")
}

// openStore returns nil when records are disabled.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case store.DriverRedis:
		if err := redis.Connect(ctx, cfg.Redis, redisConnectWait); err != nil {
			return nil, err
		}
		logrus.Info("Redis connection established")
		return store.NewRedis(redis.GetClient()), nil
	case store.DriverPostgres:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case store.DriverBolt:
		return store.NewBolt(cfg.Store.BoltPath)
	case store.DriverNone:
		return nil, nil
	default:
		return nil, errors.Wrap(store.ErrUnknownDriver, cfg.Store.Driver)
	}
}
