package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/bot"
	"github.com/presenced/presenced/presenced"
	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/dailysweep"
	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/migrations"
	"github.com/presenced/presenced/presenced/schedule/cron"
	"github.com/presenced/presenced/presenced/tracking"
)

func main() {
	var (
		address       = flagString("address", "PRESENCED_ADDRESS", "127.0.0.1:3846", "HTTP API bind address.")
		postgresURL   = flagString("postgres-url", "PRESENCED_POSTGRES_URL", "", "Postgres connection URL.")
		timezone      = flagString("timezone", "PRESENCED_TIMEZONE", activity.DefaultLocationName, "IANA timezone governing day boundaries.")
		sweepSchedule = flagString("sweep-schedule", "PRESENCED_SWEEP_SCHEDULE", "", "Cron spec for the daily sweep. Defaults to midnight in the configured timezone.")
		sweepAPIKey   = flagString("sweep-api-key", "PRESENCED_SWEEP_API_KEY", "", "Shared secret authorizing the external sweep trigger.")
		chatUsername  = flagString("chat-username", "PRESENCED_CHAT_USERNAME", "", "Chat login of the bot.")
		chatToken     = flagString("chat-token", "PRESENCED_CHAT_TOKEN", "", "Chat OAuth token of the bot.")
		chatChannels  = flagString("chat-channels", "PRESENCED_CHAT_CHANNELS", "", "Comma-separated channels to observe.")
		verbose       = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	)
	pflag.Parse()

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if *verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	err := run(logger, config{
		Address:       *address,
		PostgresURL:   *postgresURL,
		Timezone:      *timezone,
		SweepSchedule: *sweepSchedule,
		SweepAPIKey:   *sweepAPIKey,
		ChatUsername:  *chatUsername,
		ChatToken:     *chatToken,
		ChatChannels:  splitCommaList(*chatChannels),
	})
	if err != nil {
		logger.Fatal(context.Background(), "presenced exited", slog.Error(err))
	}
}

type config struct {
	Address       string
	PostgresURL   string
	Timezone      string
	SweepSchedule string
	SweepAPIKey   string
	ChatUsername  string
	ChatToken     string
	ChatChannels  []string
}

func run(logger slog.Logger, cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PostgresURL == "" {
		return xerrors.New("--postgres-url is required")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return xerrors.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "CRON_TZ=" + cfg.Timezone + " 0 0 * * *"
	}
	sched, err := cron.Daily(cfg.SweepSchedule)
	if err != nil {
		return xerrors.Errorf("parse sweep schedule: %w", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return xerrors.Errorf("open postgres: %w", err)
	}
	defer sqlDB.Close()
	err = migrations.Up(sqlDB)
	if err != nil {
		return xerrors.Errorf("migrate: %w", err)
	}
	store := database.New(sqlDB)

	clock := quartz.NewReal()
	promRegistry := prometheus.NewRegistry()

	registry := tracking.NewRegistry(logger, store, loc)
	recorder := activity.NewRecorder(logger, store, loc, promRegistry)
	reports := activity.NewReportBuilder(store, loc)

	ticker := cron.NewTicker(ctx, clock, sched)
	defer ticker.Close()
	statsCh := make(chan dailysweep.Stats, 1)
	sweeper := dailysweep.New(ctx, logger, store, loc, ticker.C, promRegistry).
		WithStatsChannel(statsCh)
	sweeper.Run()

	api := presenced.New(&presenced.Options{
		Logger:             logger,
		Database:           store,
		Clock:              clock,
		Location:           loc,
		Registry:           registry,
		Recorder:           recorder,
		Reports:            reports,
		Sweeper:            sweeper,
		SweepAPIKey:        cfg.SweepAPIKey,
		PrometheusRegistry: promRegistry,
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           api.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http api listening", slog.F("address", cfg.Address))
		serveErr <- srv.ListenAndServe()
	}()

	botErr := make(chan error, 1)
	if cfg.ChatUsername != "" {
		chatBot := bot.New(&bot.Options{
			Logger:   logger,
			Username: cfg.ChatUsername,
			Token:    cfg.ChatToken,
			Channels: cfg.ChatChannels,
			Registry: registry,
			Recorder: recorder,
			Reports:  reports,
			Clock:    clock,
			Location: loc,
		})
		go chatBot.AnnounceLoop(ctx, statsCh)
		go func() {
			botErr <- chatBot.Run(ctx)
		}()
	} else {
		logger.Warn(ctx, "no chat username configured, running api only")
		go drainStats(ctx, statsCh)
	}

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutting down")
	case err := <-serveErr:
		if err != nil && !xerrors.Is(err, http.ErrServerClosed) {
			return xerrors.Errorf("serve http: %w", err)
		}
	case err := <-botErr:
		if err != nil && !xerrors.Is(err, context.Canceled) {
			return xerrors.Errorf("chat bot: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// drainStats keeps the sweeper from blocking on its stats channel when no
// announcer is running.
func drainStats(ctx context.Context, ch <-chan dailysweep.Stats) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

// flagString registers a string flag whose default comes from the given
// environment variable when set.
func flagString(name, env, def, usage string) *string {
	if v, ok := os.LookupEnv(env); ok {
		def = v
	}
	return pflag.String(name, def, usage+" Consumes $"+env+".")
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
