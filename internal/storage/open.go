package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Store is the durable owner of reminder records.
type Store interface {
	Create(ctx context.Context, r *reminder.Reminder) error
	// Get returns a copy of the record or ErrNotFound.
	Get(ctx context.Context, id string) (*reminder.Reminder, error)
	// UpdateState moves the record to `to` if its current state is one of
	// from (any state when from is empty).
	UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error
	// UpdateFireAt commits one firing: state, fire_at, last_fired_at and the
	// fired count change together, and only from state firing.
	UpdateFireAt(ctx context.Context, id string, u FireUpdate) error
	// Delete removes one record in any state, or returns ErrNotFound. The
	// bot itself never calls it: finished records stay until PurgeTerminal.
	Delete(ctx context.Context, id string) error
	// ListActive returns non-terminal records ordered by (fire_at, id).
	// An empty room lists every room.
	ListActive(ctx context.Context, room string) ([]*reminder.Reminder, error)
	// PurgeTerminal deletes cancelled/completed records last written before
	// the cutoff and returns how many were removed.
	PurgeTerminal(ctx context.Context, before time.Time) (int, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Comp("storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "memory", "mem":
		return OpenMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
