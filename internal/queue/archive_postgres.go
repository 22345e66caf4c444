package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initArchiveSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func initArchiveSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			resolved_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS room_messages (
			id BIGSERIAL PRIMARY KEY,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init archive schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (a *PostgresArchive) SaveTask(ctx context.Context, task Task) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO tasks (id, tool, input, status, resolved_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			resolved_by=EXCLUDED.resolved_by,
			updated_at=EXCLUDED.updated_at`,
		task.ID,
		task.Payload.Tool,
		string(task.Payload.Input),
		string(task.Status),
		task.ResolvedBy,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (a *PostgresArchive) SaveRoomMessage(ctx context.Context, msg RoomMessage) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO room_messages (sender, text, kind, ts) VALUES ($1,$2,$3,$4)`,
		msg.Sender, msg.Text, msg.Kind, msg.TS,
	)
	if err != nil {
		return fmt.Errorf("insert room message: %w", err)
	}
	return nil
}

func (a *PostgresArchive) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, tool, input, status, resolved_by, created_at, updated_at
		   FROM tasks ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanArchivedTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived tasks: %w", err)
	}
	return out, nil
}

func scanArchivedTask(rows pgx.Rows) (Task, error) {
	var (
		task   Task
		input  string
		status string
	)
	if err := rows.Scan(
		&task.ID,
		&task.Payload.Tool,
		&input,
		&status,
		&task.ResolvedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	if input != "" {
		task.Payload.Input = []byte(input)
	}
	task.Status = Status(status)
	return task, nil
}

func (a *PostgresArchive) Close() error {
	a.pool.Close()
	return nil
}
