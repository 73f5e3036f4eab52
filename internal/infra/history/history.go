// Package history 把每次运行的 RunReport 记录到 SQLite，供后续查询。
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/John-Robertt/img2psd/internal/domain"
)

// ErrRunNotFound 表示 run_id 不存在。
var ErrRunNotFound = errors.New("history: 运行记录不存在")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	dir_a TEXT NOT NULL,
	dir_b TEXT NOT NULL,
	output TEXT NOT NULL,
	gray INTEGER NOT NULL,
	workers INTEGER NOT NULL,
	total INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	started_at DATETIME,
	finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	idx INTEGER NOT NULL,
	key TEXT NOT NULL,
	source_a TEXT NOT NULL,
	source_b TEXT NOT NULL,
	output TEXT NOT NULL,
	status TEXT NOT NULL,
	error_code TEXT NOT NULL,
	error_msg TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	channels INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_run_id ON jobs(run_id);
`

// Run 是 runs 表的一行（不含 items）。
type Run struct {
	ID         string
	DirA       string
	DirB       string
	Output     string
	Gray       bool
	Workers    int
	Summary    domain.ReportSummary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store 是基于 SQLite 的运行历史。并发安全（由 database/sql 保证）。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）path 处的数据库并建表。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: 数据库路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: 创建目录失败：%w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: 打开 %q 失败：%w", path, err)
	}
	// SQLite 单写者；串行化连接避免 database is locked。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: 建表失败：%w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun 在一个事务里写入 run 及其全部 items。
func (s *Store) RecordRun(ctx context.Context, rr domain.RunReport) error {
	if rr.RunID == "" {
		return errors.New("history: run_id 为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, dir_a, dir_b, output, gray, workers, total, succeeded, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.RunID, rr.DirA, rr.DirB, rr.Output, rr.Gray, rr.Workers,
		rr.Summary.Total, rr.Summary.Succeeded, rr.Summary.Failed,
		rr.StartedAt.UTC(), rr.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: 写入 run 失败：%w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO jobs
		(run_id, idx, key, source_a, source_b, output, status, error_code, error_msg, width, height, channels, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range rr.Items {
		if _, err := stmt.ExecContext(ctx, rr.RunID, it.Index, it.Key, it.SourceA, it.SourceB, it.Output,
			it.Status, it.ErrorCode, it.ErrorMsg, it.Width, it.Height, it.Channels, it.DurationMS); err != nil {
			return fmt.Errorf("history: 写入 job 失败：%w", err)
		}
	}
	return tx.Commit()
}

// ListRuns 按开始时间倒序返回最近的 limit 条运行记录；limit<=0 表示全部。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, dir_a, dir_b, output, gray, workers, total, succeeded, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0, 16)
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.DirA, &r.DirB, &r.Output, &r.Gray, &r.Workers,
			&r.Summary.Total, &r.Summary.Succeeded, &r.Summary.Failed, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// JobsFor 返回某次运行的全部任务结果，顺序与 RunReport.Finalize 一致。
func (s *Store) JobsFor(ctx context.Context, runID string) ([]domain.JobResult, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w：%s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT idx, key, source_a, source_b, output, status, error_code, error_msg,
		width, height, channels, duration_ms FROM jobs WHERE run_id = ? ORDER BY output, idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.JobResult, 0, 16)
	for rows.Next() {
		var it domain.JobResult
		if err := rows.Scan(&it.Index, &it.Key, &it.SourceA, &it.SourceB, &it.Output, &it.Status,
			&it.ErrorCode, &it.ErrorMsg, &it.Width, &it.Height, &it.Channels, &it.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
