package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "databay/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// SQLite stores records in a SQLite database file.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

func OpenSQLite(cfg Config, log logx.Logger) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create history dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer keeps SQLite out of SQLITE_BUSY, and keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate history")
	}
	log.Debug("history store opened", logx.String("path", path))
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Append(ctx context.Context, r Record) error {
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers(link, started_at, duration_ms, ok, err) VALUES(?,?,?,?,?)`,
		r.Link, r.Started.UnixMicro(), r.Duration.Milliseconds(), boolInt(r.OK), nullStr(r.Err),
	)
	return errors.Wrap(err, "append history")
}

func (s *SQLite) Recent(ctx context.Context, link string, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	q := `SELECT link, started_at, duration_ms, ok, err FROM transfers`
	args := []any{}
	if link != "" {
		q += ` WHERE link = ?`
		args = append(args, link)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			started int64
			durMS   int64
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.Link, &started, &durMS, &r.OK, &errStr); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		r.Started = time.UnixMicro(started)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Err = errStr.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transfers WHERE started_at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, errors.Wrap(err, "prune history")
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
