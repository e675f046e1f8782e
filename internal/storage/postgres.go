package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened")
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Create(ctx context.Context, r *reminder.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	cp := r.Clone()
	cp.UpdatedAt = s.now().UTC()
	args, err := reminderArgs(cp)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reminders(`+reminderColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, args...)
	return err
}

func (s *postgresStore) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := scanReminder(s.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *postgresStore) UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error {
	if !to.Valid() {
		return fmt.Errorf("invalid state %q", to)
	}
	q := `UPDATE reminders SET state = $1, updated_at = $2 WHERE id = $3`
	args := []any{string(to), s.now().UnixNano(), id}
	if len(from) > 0 {
		q += ` AND state = ANY($4)`
		fs := make([]string, 0, len(from))
		for _, f := range from {
			fs = append(fs, string(f))
		}
		args = append(args, fs)
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.conflict(ctx, id, from)
}

func (s *postgresStore) UpdateFireAt(ctx context.Context, id string, u FireUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	fireAt, err := toNanos(u.FireAt)
	if err != nil {
		return err
	}
	lastFired, err := toNanos(u.LastFiredAt)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminders SET state = $1, fire_at = $2, last_fired_at = $3, fired = $4, updated_at = $5
		 WHERE id = $6 AND state = $7`,
		string(u.State), fireAt, lastFired, u.Fired, s.now().UnixNano(),
		id, string(reminder.StateFiring),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.conflict(ctx, id, []reminder.State{reminder.StateFiring})
}

func (s *postgresStore) conflict(ctx context.Context, id string, from []reminder.State) error {
	var cur string
	err := s.pool.QueryRow(ctx, `SELECT state FROM reminders WHERE id = $1`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &StateConflictError{ID: id, Current: reminder.State(cur), Expected: from}
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ListActive(ctx context.Context, room string) ([]*reminder.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders WHERE state = ANY($1)`
	args := []any{activeStates()}
	if room != "" {
		q += ` AND room = $2`
		args = append(args, room)
	}
	q += ` ORDER BY fire_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reminders WHERE state = ANY($1) AND updated_at < $2`,
		terminalStates(), before.UnixNano())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, room, actor, action, reminder_id, detail, ok, err) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.At.UnixNano(), nullStr(e.Room), nullStr(e.Actor), e.Action, nullStr(e.ReminderID),
		nullStr(e.Detail), e.OK, nullStr(e.Error),
	)
	return err
}
