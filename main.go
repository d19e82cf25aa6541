package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/woozar/prophecy-sub003/api"
	"github.com/woozar/prophecy-sub003/broker"
	"github.com/woozar/prophecy-sub003/internal/config"
	"github.com/woozar/prophecy-sub003/subscription"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("config: %v", err)
		return 1
	}
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	auth, stopAuth, err := newAuth(cfg)
	if err != nil {
		logger.Errorf("auth: %v", err)
		return 1
	}
	defer stopAuth()

	b, _ := broker.InitDefault(broker.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
		Logger:            logger,
	})
	defer b.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	if err := api.RegisterMetrics(e, prometheus.NewRegistry(), b); err != nil {
		logger.Errorf("metrics: %v", err)
		return 1
	}

	var limiter *rate.Limiter
	if cfg.ConnectRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst)
	}
	api.Register(e, b, api.Options{
		Auth:          auth,
		PublishToken:  cfg.PublishToken,
		WriteTimeout:  cfg.WriteTimeout,
		StreamLimiter: limiter,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("stream service listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Streams only end once their sinks close, so close the broker first.
		b.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if cfg.RedisConnectionString != "" {
		rc := redis.NewClient(subscription.RedisOptions(cfg.RedisConnectionString))
		defer rc.Close()
		g.Go(func() error {
			subscription.SubscribeUpdates(ctx, logger, rc, cfg.EventsChannel, b)
			return nil
		})
	}
	if cfg.DatabaseURL != "" {
		g.Go(func() error {
			subscription.ListenNotifications(ctx, logger, cfg.DatabaseURL, cfg.NotifyChannel, cfg.NotifyReconnect, b)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("stream service stopped")
		return 1
	}
	logger.Info("stream service stopped")
	return 0
}

func newAuth(cfg config.Config) (api.Authenticator, func(), error) {
	switch {
	case cfg.AuthTestMode:
		return api.NewTestAuth([]byte(cfg.TestJWTSecret)), func() {}, nil
	case cfg.Auth0Domain != "":
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/"), jwks.EndBackground, nil
	default:
		return nil, func() {}, nil
	}
}
