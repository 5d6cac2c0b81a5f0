//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "wabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateJobs(ctx context.Context, jobs []Job) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == "" {
			j.Status = StatusPending
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs(id, recipient, payload_ref, status, attempts, sender, created_at, updated_at)
			 VALUES(?,?,?,?,?,?,?,?)`,
			j.ID, j.Recipient, j.PayloadRef, string(j.Status), j.Attempts, nullStr(j.Sender),
			j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return nil, err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		j.Seq = seq
		out = append(out, j)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) UpdateJobStatus(ctx context.Context, id string, status Status, attempts int, sender string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().UnixMilli()
	if sender != "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status=?, attempts=?, sender=?, updated_at=? WHERE id=?`,
			string(status), attempts, sender, now, id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, attempts=?, updated_at=? WHERE id=?`,
		string(status), attempts, now, id)
	return err
}

func (s *sqliteStore) PendingJobs(ctx context.Context) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, recipient, payload_ref, status, attempts, COALESCE(sender,''), created_at, updated_at
		 FROM jobs WHERE status IN ('pending','processing','retry') ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var st string
		var created, updated int64
		if err := rows.Scan(&j.Seq, &j.ID, &j.Recipient, &j.PayloadRef, &st, &j.Attempts, &j.Sender, &created, &updated); err != nil {
			return nil, err
		}
		j.Status = Status(st)
		j.CreatedAt = time.UnixMilli(created)
		j.UpdatedAt = time.UnixMilli(updated)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CancelPending(ctx context.Context, includeProcessing bool) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	statuses := `('pending','retry')`
	if includeProcessing {
		statuses = `('pending','processing','retry')`
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status='cancelled', updated_at=? WHERE status IN `+statuses,
		time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) PruneJobs(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('sent','failed_permanently','cancelled') AND updated_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) UpsertWindow(ctx context.Context, recipient string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO windows(recipient, last_activation) VALUES(?,?)
		 ON CONFLICT(recipient) DO UPDATE SET last_activation=excluded.last_activation`,
		recipient, at.UnixMilli())
	return err
}

func (s *sqliteStore) GetWindow(ctx context.Context, recipient string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_activation FROM windows WHERE recipient = ?`, strings.TrimSpace(recipient)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
