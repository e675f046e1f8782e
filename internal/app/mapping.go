package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/command"
	"remindbot/internal/config"
	"remindbot/internal/housekeeping"
	"remindbot/internal/observability/httpserver"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

const defaultStorePath = "./data/reminders.db"

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Room: logx.RoomConfig{
			Enabled:    l.Room.Enabled,
			Room:       l.Room.Room,
			MinLevel:   l.Room.MinLevel,
			RatePerSec: l.Room.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := cfg.Telegram.PollTimeout.GetOr("telegram.poll_timeout", 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func storageRetry(cfg *config.Config) storage.Policy {
	return storage.Policy{Max: cfg.Scheduler.StorageRetryMax}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	busy, err := sc.BusyTimeout.Get("storage.busy_timeout")
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultStorePath
		}
	case "file":
		if path == "" {
			path = strings.TrimSuffix(defaultStorePath, ".db") + ".json"
		}
	}
	return storage.Config{Driver: driver, Path: path, DSN: strings.TrimSpace(sc.DSN), BusyTimeout: busy}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	var (
		out  = scheduler.Config{Workers: s.Workers, SendRatePerSec: s.SendRatePerSec, SendRetryMax: s.SendRetryMax, StorageRetry: storageRetry(cfg)}
		errs []error
	)
	dur := func(dst *time.Duration, field string, raw config.Duration) {
		d, err := raw.Get(field)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = d
	}
	dur(&out.SendTimeout, "scheduler.send_timeout", s.SendTimeout)
	dur(&out.SendRetryBase, "scheduler.send_retry_base", s.SendRetryBase)
	dur(&out.SendRetryMaxDelay, "scheduler.send_retry_max_delay", s.SendRetryMaxDelay)
	dur(&out.AlarmInterval, "commands.alarm_interval", cfg.Commands.AlarmInterval)
	if len(errs) > 0 {
		return scheduler.Config{}, errs[0]
	}
	return out, nil
}

func mapCommands(cfg *config.Config) (command.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return command.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	timeout, err := cfg.Commands.Timeout.Get("commands.timeout")
	if err != nil {
		return command.Config{}, err
	}
	return command.Config{
		Prefix:       cfg.Commands.Prefix,
		Location:     loc,
		Timeout:      timeout,
		StorageRetry: storageRetry(cfg),
	}, nil
}

func mapHousekeeping(cfg *config.Config) (housekeeping.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return housekeeping.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	retention, err := cfg.Housekeeping.Retention.Get("housekeeping.retention")
	if err != nil {
		return housekeeping.Config{}, err
	}
	return housekeeping.Config{
		Enabled:   cfg.Housekeeping.Enabled,
		Schedule:  cfg.Housekeeping.Schedule,
		Retention: retention,
		Location:  loc,
		Retry:     storageRetry(cfg),
	}, nil
}

func mapHTTP(cfg *config.Config) httpserver.Config {
	return httpserver.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    cfg.HTTP.Addr,
		Pprof:   cfg.HTTP.Pprof,
		Token:   cfg.HTTP.Token,
	}
}
