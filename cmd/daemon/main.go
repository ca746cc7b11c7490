// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trialbot/trialbot/internal/api"
	"github.com/trialbot/trialbot/internal/booking"
	"github.com/trialbot/trialbot/internal/config"
	"github.com/trialbot/trialbot/internal/dialog"
	"github.com/trialbot/trialbot/internal/guard"
	tlog "github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/schedule"
	"github.com/trialbot/trialbot/internal/state"
	"github.com/trialbot/trialbot/internal/transport"
	"github.com/trialbot/trialbot/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trialbot %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	tlog.Configure(tlog.Config{
		Level:   cfg.LogLevel,
		Service: "trialbot",
	})
	logger := tlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := tlog.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := state.New()
	if err := store.Load(cfg.StatePath()); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	db, err := booking.Open(cfg.DBPath(), booking.DefaultSQLiteConfig())
	if err != nil {
		return fmt.Errorf("open booking database: %w", err)
	}
	defer func() { _ = db.Close() }()

	repo, err := booking.NewSQLiteRepository(db)
	if err != nil {
		return fmt.Errorf("init booking repository: %w", err)
	}

	var sender transport.Sender
	if cfg.GatewayURL != "" {
		sender = transport.NewHTTPSender(cfg.GatewayURL)
	} else {
		// No gateway configured: outbound messages only reach the log.
		sendLog := tlog.WithComponent("transport")
		sender = transport.SenderFunc(func(_ context.Context, userID int64, text string) error {
			sendLog.Info().Int64("user_id", userID).Str("text", text).Msg("outbound message (no gateway)")
			return nil
		})
	}

	g := guard.New(guard.Config{
		Quota:        cfg.RateQuota,
		Window:       cfg.RateWindow,
		BanThreshold: cfg.BanThreshold,
	}, store)

	reviewLog := tlog.WithComponent("reviews")
	engine := dialog.New(dialog.Config{
		TTL:     cfg.DialogTTL,
		Courses: cfg.Courses,
	}, store, repo, func(_ context.Context, userID int64, rating int, text string) error {
		reviewLog.Info().Int64("user_id", userID).Int("rating", rating).Str("text", text).Msg("review received")
		return nil
	})

	sched := schedule.New(schedule.Config{
		Interval:       cfg.SchedulerInterval,
		ReminderWindow: cfg.ReminderWindow,
		SendRate:       schedule.DefaultConfig().SendRate,
		SendBurst:      schedule.DefaultConfig().SendBurst,
	}, store, repo, sender)

	gateway := api.NewGateway(engine, g, store)
	srv := api.NewServer(store, g, sched, repo, gateway)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return sched.Run(ctx)
	})

	grp.Go(func() error {
		return store.RunAutoSave(ctx, cfg.StatePath(), cfg.AutoSaveInterval)
	})

	grp.Go(func() error {
		logger.Info().Str("event", "daemon.listen").Str("addr", cfg.ListenAddr).Msg("ops listener up")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}
