package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobkeeper/internal/task/model"
	logx "jobkeeper/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgres(ctx, pool, log)
}

// NewPostgres wraps an existing pool and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log logx.Logger) (*PostgresStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Debug("postgres store opened")
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *model.Task) error {
	if err := prepareCreate(t, time.Now()); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (name, task_group, invoke_target, cron_expression, misfire_policy, concurrent, status, remark, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, t.Name, t.Group, t.InvokeTarget, t.CronExpression, int16(t.MisfirePolicy), t.Concurrent,
		int16(t.Status), t.Remark, t.CreateTime, t.UpdateTime,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanPgTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if err := applyUpdate(t, patch, time.Now()); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks
		SET name=$2, task_group=$3, invoke_target=$4, cron_expression=$5, misfire_policy=$6,
		    concurrent=$7, status=$8, remark=$9, update_time=$10
		WHERE id=$1
	`, id, t.Name, t.Group, t.InvokeTarget, t.CronExpression, int16(t.MisfirePolicy),
		t.Concurrent, int16(t.Status), t.Remark, t.UpdateTime,
	); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) FindTasks(ctx context.Context, f model.TaskFilter, page, size int) ([]*model.Task, int, error) {
	limit, offset := model.Page(page, size)
	w := taskWhere(postgresDialect, f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	lim := w.next(limit)
	off := w.next(offset)
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks`+w.sql()+` ORDER BY id LIMIT `+lim+` OFFSET `+off, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []*model.Task{}
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) AppendExecution(ctx context.Context, e model.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.TaskID, e.TaskName, e.TaskGroup, e.InvokeTarget, string(e.Trigger), string(e.Outcome),
		e.Success, e.Message, e.ErrorInfo, e.StartedAt, int64(e.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindExecutions(ctx context.Context, f model.ExecutionFilter, page, size int) ([]model.Execution, int, error) {
	limit, offset := model.Page(page, size)
	w := executionWhere(postgresDialect, f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_executions`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}
	lim := w.next(limit)
	off := w.next(offset)
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM task_executions`+w.sql()+` ORDER BY started_at DESC, id DESC LIMIT `+lim+` OFFSET `+off,
		w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := []model.Execution{}
	for rows.Next() {
		var (
			e             model.Execution
			trigger, outc string
			durNS         int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskName, &e.TaskGroup, &e.InvokeTarget, &trigger, &outc,
			&e.Success, &e.Message, &e.ErrorInfo, &e.StartedAt, &durNS); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		e.Trigger = model.Trigger(trigger)
		e.Outcome = model.Outcome(outc)
		e.Duration = time.Duration(durNS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPgTask(r pgx.Row) (*model.Task, error) {
	var (
		t               model.Task
		misfire, status int16
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Group, &t.InvokeTarget, &t.CronExpression, &misfire, &t.Concurrent,
		&status, &t.Remark, &t.CreateTime, &t.UpdateTime); err != nil {
		return nil, err
	}
	t.MisfirePolicy = model.MisfirePolicy(misfire)
	t.Status = model.Status(status)
	return &t, nil
}
