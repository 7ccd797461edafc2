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

	"jobkeeper/internal/task/model"
	logx "jobkeeper/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a single SQLite connection.
type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLite(path, cfg.BusyTimeout, log)
}

// NewSQLite opens (creating when needed) the database at path and applies the schema.
// ":memory:" gives a private in-process database.
func NewSQLite(path string, busyTimeout time.Duration, log logx.Logger) (*SQLiteStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite prefers a single writer; ":memory:" also needs the one connection kept alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	if err := prepareCreate(t, time.Now()); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (name, task_group, invoke_target, cron_expression, misfire_policy, concurrent, status, remark, create_time, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Group, t.InvokeTarget, t.CronExpression, int(t.MisfirePolicy), boolInt(t.Concurrent),
		int(t.Status), t.Remark, t.CreateTime.UnixNano(), t.UpdateTime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if err := applyUpdate(t, patch, time.Now()); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET name = ?, task_group = ?, invoke_target = ?, cron_expression = ?, misfire_policy = ?,
		 concurrent = ?, status = ?, remark = ?, update_time = ? WHERE id = ?`,
		t.Name, t.Group, t.InvokeTarget, t.CronExpression, int(t.MisfirePolicy),
		boolInt(t.Concurrent), int(t.Status), t.Remark, t.UpdateTime.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) FindTasks(ctx context.Context, f model.TaskFilter, page, size int) ([]*model.Task, int, error) {
	limit, offset := model.Page(page, size)
	w := taskWhere(sqliteDialect, f)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+w.sql()+` ORDER BY id LIMIT ? OFFSET ?`,
		append(w.args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
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

func (s *SQLiteStore) AppendExecution(ctx context.Context, e model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.TaskName, e.TaskGroup, e.InvokeTarget, string(e.Trigger), string(e.Outcome),
		boolInt(e.Success), e.Message, e.ErrorInfo, e.StartedAt.UnixNano(), int64(e.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindExecutions(ctx context.Context, f model.ExecutionFilter, page, size int) ([]model.Execution, int, error) {
	limit, offset := model.Page(page, size)
	w := executionWhere(sqliteDialect, f)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_executions`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM task_executions`+w.sql()+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(w.args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := []model.Execution{}
	for rows.Next() {
		var (
			e              model.Execution
			trigger, outc  string
			success        int
			started, durNS int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskName, &e.TaskGroup, &e.InvokeTarget, &trigger, &outc,
			&success, &e.Message, &e.ErrorInfo, &started, &durNS); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		e.Trigger = model.Trigger(trigger)
		e.Outcome = model.Outcome(outc)
		e.Success = success != 0
		e.StartedAt = time.Unix(0, started)
		e.Duration = time.Duration(durNS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}
	return out, total, nil
}

func (s *SQLiteStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_executions WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*model.Task, error) {
	var (
		t                    model.Task
		misfire, status, con int
		created, updated     int64
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Group, &t.InvokeTarget, &t.CronExpression, &misfire, &con,
		&status, &t.Remark, &created, &updated); err != nil {
		return nil, err
	}
	t.MisfirePolicy = model.MisfirePolicy(misfire)
	t.Concurrent = con != 0
	t.Status = model.Status(status)
	t.CreateTime = time.Unix(0, created)
	t.UpdateTime = time.Unix(0, updated)
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
