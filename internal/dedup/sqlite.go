package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "hubrelay/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posted (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id  TEXT NOT NULL UNIQUE
);`

// sqliteStore keeps ids in a table ordered by seq. Size accounting mirrors the
// JSON array the file driver would write.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	maxBytes int
	keep     int

	mu      sync.Mutex
	n       int
	idBytes int
	// ids whose insert failed; still authoritative for this process
	unsaved map[string]struct{}
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if strings.HasSuffix(path, ".json") {
		path = strings.TrimSuffix(path, ".json") + ".db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dedup: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedup: migrate sqlite: %w", err)
	}

	s := &sqliteStore{
		db:       db,
		log:      log,
		maxBytes: cfg.MaxBytes,
		keep:     cfg.KeepRecent,
		unsaved:  map[string]struct{}{},
	}
	if err := s.recount(ctx); err != nil {
		log.Warn("dedup sqlite state unreadable; continuing", logx.String("path", path), logx.Err(err))
	} else {
		log.Info("dedup state loaded", logx.String("source", "sqlite:"+path), logx.Int("ids", s.n))
	}
	return s, nil
}

func (s *sqliteStore) recount(ctx context.Context) error {
	var n, total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(LENGTH(id)) FROM posted`).Scan(&n, &total)
	if err != nil {
		return err
	}
	s.n, s.idBytes = int(n.Int64), int(total.Int64)
	return nil
}

func (s *sqliteStore) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, pending := s.unsaved[id]
	s.mu.Unlock()
	if pending {
		return true, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posted WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Commit(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO posted(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		s.unsaved[id] = struct{}{}
		return fmt.Errorf("%w: sqlite insert: %w", ErrWrite, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil
	}
	s.n++
	s.idBytes += len(id)

	if serializedSize(s.n, s.idBytes) <= s.maxBytes {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM posted WHERE seq NOT IN (SELECT seq FROM posted ORDER BY seq DESC LIMIT ?)`, s.keep)
	if err != nil {
		return fmt.Errorf("%w: sqlite trim: %w", ErrWrite, err)
	}
	before := s.n
	if err := s.recount(ctx); err != nil {
		return fmt.Errorf("%w: sqlite recount: %w", ErrWrite, err)
	}
	s.log.Info("dedup state trimmed", logx.Int("dropped", before-s.n), logx.Int("kept", s.n))
	return nil
}

func (s *sqliteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n + len(s.unsaved)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
