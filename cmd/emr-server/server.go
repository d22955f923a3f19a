package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/vetclinic/emr/internal/config"
	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/domain/encounter"
	"github.com/vetclinic/emr/internal/domain/location"
	"github.com/vetclinic/emr/internal/domain/patient"
	"github.com/vetclinic/emr/internal/domain/problem"
	"github.com/vetclinic/emr/internal/domain/visit"
	"github.com/vetclinic/emr/internal/platform/auth"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/internal/platform/middleware"
	"github.com/vetclinic/emr/internal/platform/notification"
	"github.com/vetclinic/emr/internal/platform/telemetry"
	"github.com/vetclinic/emr/internal/platform/validate"
	"github.com/vetclinic/emr/internal/platform/websocket"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
)

type services struct {
	events     *clinicalevent.Service
	problems   *problem.Service
	encounters *encounter.Service
	hub        *websocket.Hub
}

// wireServices builds the domain services over pool. Notifications go to the
// in-process websocket hub and, when configured, to Redis. The returned func
// releases both.
func wireServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, func()) {
	hub := websocket.NewHub(logger)
	pub := notification.Multi{hub}
	if cfg.RedisURL != "" {
		rp, err := notification.NewRedisPublisher(ctx, cfg.RedisURL, cfg.NotifyChannel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; cross-instance notifications disabled")
		} else {
			pub = append(pub, rp)
		}
	}

	tx := db.NewTransactor(pool)

	events := clinicalevent.NewService(clinicalevent.NewRepo(pool), tx, logger)
	events.SetPageSize(cfg.TimelinePageSize)
	events.SetPublisher(pub)

	problems := problem.NewService(problem.NewRepo(pool), tx, events, logger)
	problems.SetPublisher(pub)

	encounters := encounter.NewService(
		encounter.NewRepo(pool),
		tx,
		events,
		location.NewService(location.NewRepo(pool)),
		patient.NewService(patient.NewRepo(pool)),
		visit.NewService(visit.NewRepo(pool)),
		problems,
		logger,
	)
	encounters.SetPublisher(pub)
	encounters.SetBatchConcurrency(cfg.CheckInBatchConcurrency)
	events.SetEncounterLocator(encounters)

	return &services{events: events, problems: problems, encounters: encounters, hub: hub}, func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close notification publisher")
		}
	}
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, svcs *services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development auth enabled; every request runs as admin")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	api := e.Group("/api/v1", authMW)

	clinicalevent.NewHandler(svcs.events).RegisterRoutes(api)
	problem.NewHandler(svcs.problems).RegisterRoutes(api)
	encounter.NewHandler(svcs.encounters).RegisterRoutes(api)

	stream := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionView))
	websocket.NewHandler(svcs.hub, cfg.CORSOrigins).RegisterRoutes(stream)

	return e
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)

	shutdownTracing, err := telemetry.Init(ctx, logger, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "emr-server",
		Environment: cfg.Env,
		Version:     version,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "emr-server",
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs, closeServices := wireServices(ctx, cfg, pool, logger)
	defer closeServices()

	e := newServer(cfg, pool, svcs, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("flush traces")
	}
	logger.Info().Msg("server stopped")
	return nil
}
