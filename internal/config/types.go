// Package config loads the bot configuration from JSON or YAML, applies
// environment overrides, validates it and publishes hot reloads.
package config

import (
	"time"
)

// Config is the whole file. Durations are Go duration strings ("500ms",
// "10s", "5m").
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Commands     CommandsConfig     `json:"commands"`
	Storage      StorageConfig      `json:"storage"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	HTTP         HTTPConfig         `json:"http"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via REMINDBOT_TELEGRAM_TOKEN.
	Token       string   `json:"token"`
	PollTimeout Duration `json:"poll_timeout,omitempty"` // default 10s
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Room    LoggingRoom `json:"room"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRoom forwards warnings and errors to a chat room.
type LoggingRoom struct {
	Enabled    bool    `json:"enabled"`
	Room       string  `json:"room"`
	MinLevel   string  `json:"min_level,omitempty"`    // default warn
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // default 1
}

type SchedulerConfig struct {
	// Timezone is the IANA zone used to read and show wall-clock times.
	Timezone          string   `json:"timezone,omitempty"`
	Workers           int      `json:"workers,omitempty"`
	SendRatePerSec    float64  `json:"send_rate_per_sec,omitempty"`
	SendTimeout       Duration `json:"send_timeout,omitempty"`
	SendRetryMax      int      `json:"send_retry_max,omitempty"`
	SendRetryBase     Duration `json:"send_retry_base,omitempty"`
	SendRetryMaxDelay Duration `json:"send_retry_max_delay,omitempty"`
	StorageRetryMax   int      `json:"storage_retry_max,omitempty"`
}

type CommandsConfig struct {
	Prefix        string   `json:"prefix,omitempty"`         // default "!"
	AlarmInterval Duration `json:"alarm_interval,omitempty"` // default 5m
	Workers       int      `json:"workers,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path,omitempty"`
	DSN         string   `json:"dsn,omitempty"` // postgres; may come from REMINDBOT_STORAGE_DSN
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

// HousekeepingConfig purges cancelled and completed reminders older than
// Retention on a cron Schedule.
type HousekeepingConfig struct {
	Enabled   bool     `json:"enabled"`
	Schedule  string   `json:"schedule,omitempty"`  // default "@daily"
	Retention Duration `json:"retention,omitempty"` // default 720h
}

// HTTPConfig controls the optional metrics/health server. Prefer a
// loopback Addr; pprof is only mounted when Pprof is set.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:9090
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token for pprof (never logged)
}

// Location resolves the scheduler timezone; an empty name is UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}
