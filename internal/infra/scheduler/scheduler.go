package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// MaintenanceScheduler runs periodic housekeeping for the reminder engine on a cron
// engine pinned to the engine timezone. Currently that is the registry/repository resync.
type MaintenanceScheduler struct {
	cronEngine     *cron.Cron
	resync         func(ctx context.Context) error
	logger         *logrus.Entry
	cronSpecResync string
	jobTimeout     time.Duration
}

func NewMaintenanceScheduler(
	resync func(ctx context.Context) error,
	logger *logrus.Entry,
	loc *time.Location,
	cronSpecResync string, // e.g., "*/15 * * * *"
	jobTimeout time.Duration,
) *MaintenanceScheduler {
	if loc == nil {
		loc = time.Local
	}
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}
	entry := logger.WithField("component", "maintenance")
	cl := cronLogger{entry: entry}
	return &MaintenanceScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		resync:         resync,
		logger:         entry,
		cronSpecResync: cronSpecResync,
		jobTimeout:     jobTimeout,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecResync, func() {
		s.logger.Debug("Cron job triggered for registry resync.")
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if err := s.resync(ctx); err != nil {
			s.logger.WithError(err).Error("Error during registry resync")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add resync cron job %q: %w", s.cronSpecResync, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpecResync).Info("Maintenance scheduler started.")
	return nil
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
