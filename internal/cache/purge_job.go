package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purge schedule in the exchange's local timezone. Two runs bracket the close
// so provisional intraday data written by mistake never survives a day.
const (
	PurgeScheduleAfternoon = "0 16 * * *"
	PurgeScheduleEvening   = "0 20 * * *"
)

// PurgeJob flushes the whole cache on the twice-daily schedule. A failed
// purge is logged and retried at the next scheduled run.
type PurgeJob struct {
	store Store
	log   zerolog.Logger
}

// NewPurgeJob creates the scheduled purge job.
func NewPurgeJob(store Store, log zerolog.Logger) *PurgeJob {
	return &PurgeJob{
		store: store,
		log:   log.With().Str("job", "cache-purge").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *PurgeJob) Name() string {
	return "cache-purge"
}

// Run implements scheduler.Job.
func (j *PurgeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	before := j.store.Stats(ctx)
	if err := j.store.FlushAll(ctx); err != nil {
		return err
	}
	j.log.Info().Int64("purged", before.Entries).Msg("Cache purged")
	return nil
}
