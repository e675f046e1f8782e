package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// compactEvery is the number of journal writes between snapshot compactions.
const compactEvery = 1000

// fileStore keeps every record in memory and persists it as:
//   - <prefix>.snapshot.json     (periodic snapshot of all records)
//   - <prefix>.journal.jsonl     (append-only journal since the snapshot)
//   - <prefix>.audit.jsonl       (append-only audit trail)
//
// With no prefix (driver "memory") nothing touches disk.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	records map[string]*reminder.Reminder
	audit   []AuditEntry // memory mode only

	snapshotPath string
	journal      *os.File
	auditFile    *os.File
	writes       int
	closed       bool
}

type journalRecord struct {
	Op string             `json:"op"` // put | del
	ID string             `json:"id"`
	R  *reminder.Reminder `json:"r,omitempty"`
}

// OpenMemory returns a store that lives only in process memory.
func OpenMemory() Store {
	return &fileStore{log: logx.Nop(), now: time.Now, records: map[string]*reminder.Reminder{}}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	auditPath := prefix + ".audit.jsonl"

	records := map[string]*reminder.Reminder{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	skipped, err := replayJournal(journalPath, records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		// A torn last line after a crash is expected; anything else is logged.
		log.Warn("journal lines skipped", logx.Int("lines", skipped))
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	st := &fileStore{
		log:          log,
		now:          time.Now,
		records:      records,
		snapshotPath: snapPath,
		journal:      jf,
		auditFile:    af,
	}
	log.Info("file store opened", logx.String("path", prefix), logx.Int("records", len(records)))
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) Create(ctx context.Context, r *reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("reminder %s already exists", r.ID)
	}
	cp := r.Clone()
	cp.UpdatedAt = s.now().UTC()
	return s.putLocked(cp)
}

func (s *fileStore) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *fileStore) UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !to.Valid() {
		return fmt.Errorf("invalid state %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(id, r.State, from); err != nil {
		return err
	}
	cp := r.Clone()
	cp.State = to
	cp.UpdatedAt = s.now().UTC()
	return s.putLocked(cp)
}

func (s *fileStore) UpdateFireAt(ctx context.Context, id string, u FireUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(id, r.State, []reminder.State{reminder.StateFiring}); err != nil {
		return err
	}
	cp := r.Clone()
	cp.State = u.State
	cp.FireAt = u.FireAt.UTC()
	cp.LastFiredAt = u.LastFiredAt.UTC()
	cp.Fired = u.Fired
	cp.UpdatedAt = s.now().UTC()
	return s.putLocked(cp)
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func (s *fileStore) ListActive(ctx context.Context, room string) ([]*reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*reminder.Reminder, 0, len(s.records))
	for _, r := range s.records {
		if r.State.Terminal() || (room != "" && r.Room != room) {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByFireAt(out)
	return out, nil
}

func (s *fileStore) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for id, r := range s.records {
		if !r.State.Terminal() || !r.UpdatedAt.Before(before) {
			continue
		}
		if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
			return n, err
		}
		delete(s.records, id)
		n++
	}
	return n, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	if s.auditFile == nil {
		s.audit = append(s.audit, e)
		return nil
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// putLocked journals r and then makes it visible.
func (s *fileStore) putLocked(r *reminder.Reminder) error {
	if err := s.appendLocked(journalRecord{Op: "put", ID: r.ID, R: r}); err != nil {
		return err
	}
	s.records[r.ID] = r
	return nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact; the journal stays authoritative on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return nil
	}
	all := make([]*reminder.Reminder, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sortByFireAt(all)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]*reminder.Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []*reminder.Reminder
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, r := range all {
		if r != nil && r.ID != "" {
			out[r.ID] = r
		}
	}
	return nil
}

func replayJournal(path string, out map[string]*reminder.Reminder) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ID == "" {
			skipped++
			continue
		}
		switch rec.Op {
		case "put":
			if rec.R == nil {
				skipped++
				continue
			}
			out[rec.ID] = rec.R
		case "del":
			delete(out, rec.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}

func sortByFireAt(rs []*reminder.Reminder) {
	slices.SortFunc(rs, func(a, b *reminder.Reminder) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
