package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	ChannelTelegram = "telegram"
	ChannelSMS      = "sms"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	Timezone string
	Location *time.Location

	NotifyChannel      string
	TelegramToken      string
	TelegramRatePerSec int
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string

	SendTimeout                  time.Duration
	RecoverTimeout               time.Duration
	PermanentFailureDisableAfter int
	CronSpecResync               string
	MetricsAddr                  string

	DefaultDailyMessage  string
	DefaultWeeklyMessage string

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	switch cfg.DBDriver {
	case "postgres":
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case "sqlite":
		cfg.SQLitePath = getEnv("SQLITE_PATH", "./data/reminders.db")
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", cfg.DBDriver)
	}

	cfg.Timezone = getEnv("ENGINE_TIMEZONE", "Europe/Moscow")
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_TIMEZONE: %w", err)
	}

	cfg.NotifyChannel = strings.ToLower(getEnv("NOTIFY_CHANNEL", ChannelTelegram))
	switch cfg.NotifyChannel {
	case ChannelTelegram:
		cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
		}
		if cfg.TelegramRatePerSec, err = getInt("TELEGRAM_RATE_PER_SEC", 25); err != nil {
			return nil, err
		}
	case ChannelSMS:
		cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
		cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
		cfg.TwilioFromNumber = os.Getenv("TWILIO_FROM_NUMBER")
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER must be set for the sms channel")
		}
	default:
		return nil, fmt.Errorf("invalid NOTIFY_CHANNEL %q: want telegram or sms", cfg.NotifyChannel)
	}

	if cfg.SendTimeout, err = getDuration("SEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RecoverTimeout, err = getDuration("RECOVER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PermanentFailureDisableAfter, err = getInt("PERMANENT_FAILURE_DISABLE_AFTER", 0); err != nil {
		return nil, err
	}

	cfg.CronSpecResync = getEnv("CRON_SPEC_RESYNC", "*/15 * * * *") // Default: every 15 minutes
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.DefaultDailyMessage = os.Getenv("DEFAULT_DAILY_MESSAGE")
	cfg.DefaultWeeklyMessage = os.Getenv("DEFAULT_WEEKLY_MESSAGE")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, v)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration such as 15s", key, v)
	}
	return d, nil
}
