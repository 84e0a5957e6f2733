package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // ENGINE_TIMEZONE must resolve on minimal images

	"github.com/sirupsen/logrus"

	"reminder_notification_bot/internal/app"
	"reminder_notification_bot/internal/domain/notification"
	"reminder_notification_bot/internal/infra/config"
	idb "reminder_notification_bot/internal/infra/database"
	"reminder_notification_bot/internal/infra/logger"
	"reminder_notification_bot/internal/infra/metrics"
	"reminder_notification_bot/internal/infra/scheduler"
	"reminder_notification_bot/internal/infra/sms"
	"reminder_notification_bot/internal/infra/telegram"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg)
	log.WithFields(logrus.Fields{
		"db_driver":   cfg.DBDriver,
		"channel":     cfg.NotifyChannel,
		"timezone":    cfg.Timezone,
		"environment": cfg.Environment,
	}).Info("Reminder engine starting...")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Reminder engine stopped with an error")
	}
	log.Info("Application shut down gracefully.")
}

func run(cfg *config.AppConfig, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := idb.Migrate(ctx, db); err != nil {
		return err
	}
	repo := idb.NewSQLScheduleRepository(db, dialect)
	log.Info("Database connection established successfully.")

	channel, err := newChannel(cfg)
	if err != nil {
		return err
	}

	builder := notification.NewTemplateBuilder(cfg.DefaultDailyMessage, cfg.DefaultWeeklyMessage)
	dispatcher := app.NewDispatcher(channel, builder, app.PolicyFromThreshold(cfg.PermanentFailureDisableAfter), cfg.SendTimeout, log)
	registry := scheduler.NewJobRegistry(repo, dispatcher, nil, cfg.Location, log)
	service := app.NewSchedulerServiceImpl(repo, registry, dispatcher, nil, cfg.RecoverTimeout, log)

	// A failed recovery leaves the engine without jobs; refuse to run half-armed.
	if _, err := service.Recover(ctx); err != nil {
		return err
	}

	maintenance := scheduler.NewMaintenanceScheduler(func(ctx context.Context) error {
		_, err := service.Resync(ctx)
		return err
	}, log, cfg.Location, cfg.CronSpecResync, cfg.RecoverTimeout)
	if err := maintenance.Start(); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
	}

	log.Info("Application setup complete. Reminders are armed.")
	<-ctx.Done() // Block until a signal is received

	log.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	maintenance.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return service.Shutdown(shutdownCtx)
}

func openDatabase(ctx context.Context, cfg *config.AppConfig) (*sql.DB, idb.Dialect, error) {
	dialect, err := idb.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, "", err
	}
	var db *sql.DB
	switch dialect {
	case idb.DialectSQLite:
		db, err = idb.NewSQLiteConnection(ctx, cfg.SQLitePath)
	default:
		db, err = idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	}
	if err != nil {
		return nil, "", fmt.Errorf("could not connect to database: %w", err)
	}
	return db, dialect, nil
}

func newChannel(cfg *config.AppConfig) (notification.Channel, error) {
	switch cfg.NotifyChannel {
	case config.ChannelSMS:
		ch, err := sms.NewTwilioChannel(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.SendTimeout)
		if err != nil {
			return nil, err
		}
		return telegram.NewChannel(telegram.NewTelebotAdapter(bot), cfg.TelegramRatePerSec), nil
	}
}
