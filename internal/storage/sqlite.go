package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; it also serialises the CAS updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, r *reminder.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	cp := r.Clone()
	cp.UpdatedAt = s.now().UTC()
	args, err := reminderArgs(cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error {
	if !to.Valid() {
		return fmt.Errorf("invalid state %q", to)
	}
	q := `UPDATE reminders SET state = ?, updated_at = ? WHERE id = ?`
	args := []any{string(to), s.now().UnixNano(), id}
	if len(from) > 0 {
		q += ` AND state IN (` + placeholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(f))
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id, from)
}

func (s *sqliteStore) UpdateFireAt(ctx context.Context, id string, u FireUpdate) error {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET state = ?, fire_at = ?, last_fired_at = ?, fired = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(u.State), fireAt, lastFired, u.Fired, s.now().UnixNano(),
		id, string(reminder.StateFiring),
	)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id, []reminder.State{reminder.StateFiring})
}

// checkAffected turns a zero-row CAS update into ErrNotFound or a conflict.
func (s *sqliteStore) checkAffected(ctx context.Context, res sql.Result, id string, from []reminder.State) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var cur string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM reminders WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &StateConflictError{ID: id, Current: reminder.State(cur), Expected: from}
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListActive(ctx context.Context, room string) ([]*reminder.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders WHERE state IN (?, ?)`
	args := []any{activeStates()[0], activeStates()[1]}
	if room != "" {
		q += ` AND room = ?`
		args = append(args, room)
	}
	q += ` ORDER BY fire_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
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

func (s *sqliteStore) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE state IN (?, ?) AND updated_at < ?`,
		terminalStates()[0], terminalStates()[1], before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, room, actor, action, reminder_id, detail, ok, err) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UnixNano(), nullStr(e.Room), nullStr(e.Actor), e.Action, nullStr(e.ReminderID),
		nullStr(e.Detail), e.OK, nullStr(e.Error),
	)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
