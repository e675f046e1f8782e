package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(field string, d Duration) {
		_, err := d.Get(field)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Room.Enabled {
		if strings.TrimSpace(cfg.Logging.Room.Room) == "" {
			add(errors.New("logging.room.room: required when logging.room.enabled"))
		}
		if !logx.ValidLevel(cfg.Logging.Room.MinLevel) {
			add(fmt.Errorf("logging.room.min_level: unknown level %q", cfg.Logging.Room.MinLevel))
		}
	}
	if cfg.Logging.Room.RatePerSec < 0 {
		add(errors.New("logging.room.rate_per_sec: must be >= 0"))
	}

	if _, err := cfg.Location(); err != nil {
		add(fmt.Errorf("scheduler.timezone: %w", err))
	}
	if cfg.Scheduler.Workers < 0 || cfg.Scheduler.SendRetryMax < 0 || cfg.Scheduler.StorageRetryMax < 0 {
		add(errors.New("scheduler: workers and retry counts must be >= 0"))
	}
	if cfg.Scheduler.SendRatePerSec < 0 {
		add(errors.New("scheduler.send_rate_per_sec: must be >= 0"))
	}
	dur("scheduler.send_timeout", cfg.Scheduler.SendTimeout)
	dur("scheduler.send_retry_base", cfg.Scheduler.SendRetryBase)
	dur("scheduler.send_retry_max_delay", cfg.Scheduler.SendRetryMaxDelay)

	if strings.ContainsAny(cfg.Commands.Prefix, " \t\n") {
		add(fmt.Errorf("commands.prefix: must not contain whitespace"))
	}
	if cfg.Commands.Workers < 0 {
		add(errors.New("commands.workers: must be >= 0"))
	}
	if d, err := cfg.Commands.AlarmInterval.Get("commands.alarm_interval"); err != nil {
		add(err)
	} else if d > 0 && d < 10*time.Second {
		add(errors.New("commands.alarm_interval: must be at least 10s"))
	}
	dur("commands.timeout", cfg.Commands.Timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
		// the path has a default
	case "memory", "mem":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required for postgres (or set %s)", EnvStorageDSN))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if cfg.Housekeeping.Enabled {
		if s := strings.TrimSpace(cfg.Housekeeping.Schedule); s != "" {
			if _, err := cron.ParseStandard(s); err != nil {
				add(fmt.Errorf("housekeeping.schedule: %w", err))
			}
		}
	}
	dur("housekeeping.retention", cfg.Housekeeping.Retention)

	return errors.Join(errs...)
}
