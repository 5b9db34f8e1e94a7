package storage

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/observability"
)

// Janitor periodically reclaims recordings whose retention has lapsed.
// Timeshift rings manage their own retention through the engine; the
// janitor only touches ordinary recordings.
type Janitor struct {
	store *Store
	cfg   config.JanitorConfig
	cron  *cron.Cron
	log   *slog.Logger
}

// NewJanitor creates a janitor over the given store.
func NewJanitor(store *Store, cfg config.JanitorConfig, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		store: store,
		cfg:   cfg,
		cron:  cron.New(cron.WithSeconds()),
		log:   observability.WithComponent(log, "janitor"),
	}
}

// Start schedules the cleanup job. No-op when disabled.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		return nil
	}
	if _, err := j.cron.AddFunc(j.cfg.Cron, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("janitor scheduled", slog.String("cron", j.cfg.Cron))
	return nil
}

// Stop cancels the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep removes recordings untouched for longer than the retention.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.cfg.Retention.Duration())
	stale, err := j.store.StaleRecordings(cutoff)
	if err != nil {
		j.log.Error("listing stale recordings", slog.String("error", err.Error()))
		return
	}

	for _, rec := range stale {
		if err := j.store.RemoveLocation(rec.Location); err != nil {
			j.log.Error("removing stale recording",
				slog.String("location", rec.Location),
				slog.String("error", err.Error()))
			continue
		}
		j.log.Info("removed stale recording",
			slog.String("location", rec.Location),
			slog.Time("last_update", rec.UpdatedAt))
	}
}
