package config

import (
	"os"
	"strings"
)

// Environment overrides, applied after decoding so secrets can stay out of
// the config file.
const (
	EnvTelegramToken = "REMINDBOT_TELEGRAM_TOKEN"
	EnvStorageDriver = "REMINDBOT_STORAGE_DRIVER"
	EnvStorageDSN    = "REMINDBOT_STORAGE_DSN"
	EnvLogLevel      = "REMINDBOT_LOG_LEVEL"
	EnvTimezone      = "REMINDBOT_TIMEZONE"
)

// envFields maps config fields to the variable that overrides them.
var envFields = map[string]string{
	"telegram.token":     EnvTelegramToken,
	"storage.driver":     EnvStorageDriver,
	"storage.dsn":        EnvStorageDSN,
	"logging.level":      EnvLogLevel,
	"scheduler.timezone": EnvTimezone,
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Storage.Driver, EnvStorageDriver)
	set(&cfg.Storage.DSN, EnvStorageDSN)
	set(&cfg.Logging.Level, EnvLogLevel)
	set(&cfg.Scheduler.Timezone, EnvTimezone)
}

// ApplyEnv applies the process environment to cfg.
func ApplyEnv(cfg *Config) { applyEnv(cfg, os.LookupEnv) }
