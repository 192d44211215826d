package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/config"
	syncer "github.com/Latermedia/linearbot-sub003/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cron periodically invokes the sync orchestrator. The orchestrator itself
// rejects overlapping runs, so a tick that lands mid-sync is a no-op. Ticks
// run under the process lifecycle context so shutdown cancels an in-flight
// sync between sub-units.
type Cron struct {
	ctx context.Context
	cfg config.Config
	log zerolog.Logger
	orc *syncer.Orchestrator
	c   *cron.Cron
}

func NewCron(ctx context.Context, cfg config.Config, log zerolog.Logger, orc *syncer.Orchestrator) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{ctx: ctx, cfg: cfg, log: log, orc: orc, c: c}
	if _, err := c.AddFunc(cfg.SyncCron, cr.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.SyncCron, err)
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) tick() {
	cr.log.Info().Msg("cron: sync tick")
	if err := cr.orc.Run(cr.ctx, false); err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			cr.log.Info().Msg("cron: sync already running, skipping")
			return
		}
		cr.log.Error().Err(err).Msg("cron: sync failed")
	}
}
