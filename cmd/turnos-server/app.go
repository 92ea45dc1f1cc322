package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinica/turnos/internal/config"
	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/domain/reporting"
	"github.com/clinica/turnos/internal/domain/scheduling"
	"github.com/clinica/turnos/internal/platform/cache"
	"github.com/clinica/turnos/internal/platform/db"
	"github.com/clinica/turnos/internal/platform/journal"
	"github.com/clinica/turnos/internal/platform/notify"
	"github.com/clinica/turnos/internal/platform/upstream"
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the services every command is built from.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	loc    *time.Location

	pool    *pgxpool.Pool
	cache   cache.Cache
	journal journal.Store

	appointments scheduling.Repository
	availability *availability.Service
	scheduling   *scheduling.Service
	reminders    *scheduling.Reminders
	reconciler   *journal.Reconciler
	reports      *reporting.Service

	closers []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, loc: loc}

	client, err := upstream.New(cfg.UpstreamURL, cfg.UpstreamTimeout,
		upstream.WithLogger(logger.With().Str("component", "upstream").Logger()))
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.journal = journal.NewPGStore(pool)
		logger.Info().Msg("write journal on postgres")
	} else {
		a.journal = journal.NewMemory()
		logger.Warn().Msg("DATABASE_URL not set, write journal kept in memory")
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, cache.DefaultRedisOptions())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = rc
		a.closers = append(a.closers, func() { rc.Close() })
	} else {
		a.cache = cache.NewMemory()
	}

	var mailer notify.Mailer = notify.LogMailer{Logger: logger}
	if cfg.MailEnabled() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	machine := lifecycle.NewMachine(loc, time.Now)
	a.availability = availability.NewService(availability.NewUpstreamRepo(client, loc), loc, time.Now)
	a.appointments = scheduling.NewUpstreamRepo(client)
	a.scheduling = scheduling.NewService(a.appointments, a.availability, machine,
		scheduling.WithJournal(a.journal),
		scheduling.WithCache(a.cache),
		scheduling.WithWriteTimeout(cfg.WriteTimeout),
		scheduling.WithLogger(logger),
	)
	a.reminders = scheduling.NewReminders(a.appointments, machine, mailer, notify.NewTemplateEngine(), a.cache, logger)
	a.reconciler = journal.NewReconciler(a.journal, a.scheduling, logger)
	a.reports = reporting.NewService(a.appointments, loc, logger)

	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) requireDB() error {
	if a.pool == nil {
		return fmt.Errorf("DATABASE_URL is required for this command")
	}
	return nil
}
