package config

import (
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange returns the changed sections, safe attrs for logging
// (never tokens or DSNs) and the sections whose change only takes effect
// after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := *oldCfg, *newCfg
	trim := strings.TrimSpace

	if o.Telegram.PollTimeout.String() != n.Telegram.PollTimeout.String() || secretChanged(o.Telegram.Token, n.Telegram.Token) {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", n.Telegram.PollTimeout.String()),
			logx.Bool("telegram.token_changed", secretChanged(o.Telegram.Token, n.Telegram.Token)),
		)
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.room_enabled", n.Logging.Room.Enabled),
		)
	}

	if o.Scheduler != n.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", trim(n.Scheduler.Timezone)),
			logx.Float64("scheduler.send_rate_per_sec", n.Scheduler.SendRatePerSec),
			logx.Int("scheduler.send_retry_max", n.Scheduler.SendRetryMax),
		)
		if o.Scheduler.Workers != n.Scheduler.Workers || o.Scheduler.StorageRetryMax != n.Scheduler.StorageRetryMax {
			restart = append(restart, "scheduler")
			attrs = append(attrs, logx.Int("scheduler.workers", n.Scheduler.Workers))
		}
	}

	if o.Commands != n.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.String("commands.prefix", n.Commands.Prefix),
			logx.String("commands.alarm_interval", n.Commands.AlarmInterval.String()),
		)
		if o.Commands.Workers != n.Commands.Workers {
			restart = append(restart, "commands")
		}
	}

	if trim(o.Storage.Driver) != trim(n.Storage.Driver) ||
		trim(o.Storage.Path) != trim(n.Storage.Path) ||
		o.Storage.BusyTimeout.String() != n.Storage.BusyTimeout.String() ||
		secretChanged(o.Storage.DSN, n.Storage.DSN) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(n.Storage.Driver)),
			logx.Bool("storage.path_set", trim(n.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", trim(n.Storage.DSN) != ""),
		)
	}

	if o.Housekeeping != n.Housekeeping {
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.Bool("housekeeping.enabled", n.Housekeeping.Enabled),
			logx.String("housekeeping.schedule", trim(n.Housekeeping.Schedule)),
			logx.String("housekeeping.retention", n.Housekeeping.Retention.String()),
		)
	}

	if o.HTTP.Enabled != n.HTTP.Enabled || trim(o.HTTP.Addr) != trim(n.HTTP.Addr) ||
		o.HTTP.Pprof != n.HTTP.Pprof || secretChanged(o.HTTP.Token, n.HTTP.Token) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", n.HTTP.Enabled),
			logx.String("http.addr", trim(n.HTTP.Addr)),
			logx.Bool("http.pprof", n.HTTP.Pprof),
			logx.Bool("http.token_set", trim(n.HTTP.Token) != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func secretChanged(a, b string) bool { return strings.TrimSpace(a) != strings.TrimSpace(b) }
