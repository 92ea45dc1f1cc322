package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/reporting"
	"github.com/clinica/turnos/internal/domain/scheduling"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/db"
	"github.com/clinica/turnos/internal/platform/jobs"
	"github.com/clinica/turnos/internal/platform/journal"
	"github.com/clinica/turnos/internal/platform/middleware"
)

func (a *app) newServer() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID, "Retry-After"},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))

	revocations := auth.NewRevocationStore(a.cache)

	apiV1 := e.Group("/api/v1")
	if cfg.ResolvedAuthMode() == "development" {
		a.logger.Warn().Msg("development auth: requests without X-Dev-Role run as admin, do not expose this server")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			SigningKey:  []byte(cfg.AuthSigningKey),
			Revocations: revocations,
			Skipper:     auth.AuthSkipper,
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	apiV1.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.pool != nil {
		apiV1.GET("/health/db", db.HealthHandler(a.pool))
	}

	auth.NewSessionHandler(revocations).RegisterRoutes(apiV1)
	availability.NewHandler(a.availability, a.logger).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling, a.logger).RegisterRoutes(apiV1)
	reporting.NewHandler(a.reports, a.logger).RegisterRoutes(apiV1)
	journal.NewHandler(a.journal).RegisterRoutes(apiV1)

	return e
}

func (a *app) newScheduler() (*jobs.Scheduler, error) {
	s := jobs.New(a.loc, a.cfg.JobTimeout, a.logger)
	if spec := a.cfg.ReminderSchedule; spec != "" {
		err := s.Add("reminders", spec, func(ctx context.Context) error {
			_, err := a.reminders.Run(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if spec := a.cfg.ReconcileSchedule; spec != "" {
		err := s.Add("journal-reconcile", spec, func(ctx context.Context) error {
			_, err := a.reconciler.Run(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := a.newServer()
	scheduler, err := a.newScheduler()
	if err != nil {
		return err
	}
	scheduler.Start()

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("upstream", cfg.UpstreamURL).Msg("starting server")
		if cfg.TLSEnabled {
			errc <- e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("jobs did not stop in time")
	}
	logger.Info().Msg("server stopped")
	return nil
}
