package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soundscribe/analytics-service/internal/recording"
)

// jobTimeout bounds a single maintenance run.
const jobTimeout = 30 * time.Second

// Options carries the schedules and cutoffs for both maintenance jobs.
// Schedules are six-field cron specs with a leading seconds column.
type Options struct {
	StuckAfter      time.Duration
	RetainCompleted time.Duration
	StuckSchedule   string
	PurgeSchedule   string
}

// Janitor periodically requeues recordings abandoned mid-pipeline and
// purges completed recordings past their retention window.
type Janitor struct {
	logger *slog.Logger
	store  *recording.Store
	opts   Options
	cron   *cron.Cron
}

func New(logger *slog.Logger, store *recording.Store, opts Options) *Janitor {
	return &Janitor{
		logger: logger,
		store:  store,
		opts:   opts,
	}
}

// Start registers both jobs and runs them on their schedules until Stop.
func (j *Janitor) Start() error {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(j.opts.StuckSchedule, j.resetStuck); err != nil {
		return err
	}
	if _, err := c.AddFunc(j.opts.PurgeSchedule, j.purgeCompleted); err != nil {
		return err
	}

	c.Start()
	j.cron = c

	j.logger.Info("Janitor started",
		slog.String("stuck_schedule", j.opts.StuckSchedule),
		slog.String("purge_schedule", j.opts.PurgeSchedule))

	return nil
}

// Stop halts the schedules and waits for any running job to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}

	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

func (j *Janitor) resetStuck() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := time.Now().Add(-j.opts.StuckAfter)
	n, err := j.store.ResetStuck(ctx, cutoff)
	if err != nil {
		j.logger.Error("Stuck recording reset failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Info("Requeued stuck recordings", slog.Int64("count", n))
	}
}

func (j *Janitor) purgeCompleted() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := time.Now().Add(-j.opts.RetainCompleted)
	n, err := j.store.PurgeCompleted(ctx, cutoff)
	if err != nil {
		j.logger.Error("Completed recording purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Info("Purged completed recordings", slog.Int64("count", n))
	}
}
