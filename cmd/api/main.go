package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/adapters/linear"
	"github.com/Latermedia/linearbot-sub003/internal/config"
	apihttp "github.com/Latermedia/linearbot-sub003/internal/http"
	"github.com/Latermedia/linearbot-sub003/internal/jobs"
	"github.com/Latermedia/linearbot-sub003/internal/logger"
	"github.com/Latermedia/linearbot-sub003/internal/repo"
	syncer "github.com/Latermedia/linearbot-sub003/internal/sync"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB: opened here, closed here; everything downstream borrows the handle.
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	repository := repo.NewRepository(db, log)

	if err := repository.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if err := repository.ValidateSchema(ctx); err != nil {
		var sm *repo.SchemaMismatchError
		if errors.As(err, &sm) {
			// Serve existing data read-only for sync purposes; repair is an
			// explicit operator action via the reset endpoint.
			log.Error().Str("table", sm.Table).Msg(sm.Error())
		} else {
			log.Fatal().Err(err).Msg("schema validation failed")
		}
	}

	// Adapters and services
	lc := linear.New(cfg, log)
	orc := syncer.New(cfg, log, repository, lc)

	// Drain progress events into the structured log; dashboards subscribe the
	// same way.
	go func() {
		for ev := range orc.Events() {
			log.Info().Str("phase", string(ev.Phase)).Str("msg", ev.Message).
				Int("current", ev.Current).Int("total", ev.Total).Int("pct", ev.Percent).Msg("sync progress")
		}
	}()

	// HTTP control surface. Triggered syncs inherit ctx, so shutdown cancels
	// them between sub-units.
	h := apihttp.NewHandlers(ctx, cfg, log, orc, repository)
	router := apihttp.NewRouter(cfg, log, h)

	// Periodic sync
	cron, err := jobs.NewCron(ctx, cfg, log, orc)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sync schedule")
	}
	cron.Start()
	defer cron.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	time.Sleep(500 * time.Millisecond)
}
