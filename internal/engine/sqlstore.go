package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLStore is a Postgres-backed Store, used when StoreConfig.Backend
// is "postgres" — the multi-process / multi-host deployment mode,
// where the HTTP server and workers may live in separate processes
// sharing one durable table.
type SQLStore struct {
	pool   *pgxpool.Pool
	logDir string
}

// NewSQLStore connects to dsn, verifies connectivity, and ensures the
// backing schema exists.
func NewSQLStore(ctx context.Context, dsn, logDir string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &SQLStore{pool: pool, logDir: logDir}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() {
	s.pool.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS requests (
			request_id          TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			entrypoint          TEXT NOT NULL,
			request_body        JSONB NOT NULL,
			status              TEXT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL,
			schedule_type       TEXT NOT NULL,
			user_id             TEXT NOT NULL DEFAULT '',
			pid                 INTEGER NOT NULL DEFAULT 0,
			log_path            TEXT NOT NULL,
			return_value        JSONB,
			error_kind          TEXT,
			error_message       TEXT,
			error_stacktrace    TEXT,
			ignore_return_value BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLStore) logPath(id string) string {
	return filepath.Join(s.logDir, id+".log")
}

func (s *SQLStore) CreateIfNotExists(ctx context.Context, r *Request) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.LogPath = s.logPath(r.RequestID)

	body := r.RequestBody
	if body == nil {
		body = json.RawMessage("{}")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO requests (request_id, name, entrypoint, request_body, status,
			created_at, schedule_type, user_id, log_path, ignore_return_value)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (request_id) DO NOTHING
	`, r.RequestID, r.Name, r.Entrypoint, body, r.Status, r.CreatedAt,
		r.ScheduleType, r.UserID, r.LogPath, r.IgnoreReturnValue)
	if err != nil {
		return false, fmt.Errorf("insert request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return false, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(r.LogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("touch log file: %w", err)
	}
	f.Close()

	return true, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT request_id, name, entrypoint, request_body, status, created_at,
			schedule_type, user_id, pid, log_path, return_value,
			error_kind, error_message, error_stacktrace, ignore_return_value
		FROM requests WHERE request_id = $1
	`, id)
	return scanRequest(row)
}

func (s *SQLStore) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	var rows pgx.Rows
	var err error
	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT request_id, name, entrypoint, request_body, status, created_at,
				schedule_type, user_id, pid, log_path, return_value,
				error_kind, error_message, error_stacktrace, ignore_return_value
			FROM requests ORDER BY created_at ASC
		`)
	} else {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT request_id, name, entrypoint, request_body, status, created_at,
				schedule_type, user_id, pid, log_path, return_value,
				error_kind, error_message, error_stacktrace, ignore_return_value
			FROM requests WHERE status = ANY($1) ORDER BY created_at ASC
		`, strs)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update performs the scoped read-modify-write primitive inside a
// transaction with a row lock, so concurrent updaters never interleave.
func (s *SQLStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT request_id, name, entrypoint, request_body, status, created_at,
			schedule_type, user_id, pid, log_path, return_value,
			error_kind, error_message, error_stacktrace, ignore_return_value
		FROM requests WHERE request_id = $1 FOR UPDATE
	`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}

	before := r.Status
	fn(r)
	if !ValidTransition(before, r.Status) {
		return nil, ErrInvalidTransition
	}

	var errKind, errMsg, errStack *string
	if r.Error != nil {
		errKind = &r.Error.Kind
		errMsg = &r.Error.Message
		errStack = &r.Error.Stacktrace
	}
	_, err = tx.Exec(ctx, `
		UPDATE requests SET status=$2, pid=$3, return_value=$4,
			error_kind=$5, error_message=$6, error_stacktrace=$7
		WHERE request_id=$1
	`, id, r.Status, r.PID, r.ReturnValue, errKind, errMsg, errStack)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	return scanInto(row)
}

func scanRequestRows(rows pgx.Rows) (*Request, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (*Request, error) {
	var r Request
	var errKind, errMsg, errStack *string
	err := row.Scan(&r.RequestID, &r.Name, &r.Entrypoint, &r.RequestBody, &r.Status,
		&r.CreatedAt, &r.ScheduleType, &r.UserID, &r.PID, &r.LogPath, &r.ReturnValue,
		&errKind, &errMsg, &errStack, &r.IgnoreReturnValue)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	if errMsg != nil {
		r.Error = &Error{Message: *errMsg}
		if errKind != nil {
			r.Error.Kind = *errKind
		}
		if errStack != nil {
			r.Error.Stacktrace = *errStack
		}
	}
	return &r, nil
}
