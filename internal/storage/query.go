package storage

import (
	"strconv"
	"strings"
	"time"

	"jobkeeper/internal/task/model"
)

// dialect captures the SQL differences between the sqlite and postgres drivers.
type dialect struct {
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// contains renders a case-sensitive substring test of col against a bound parameter.
	contains func(col, param string) string
	// timeArg converts a time to the column's bind representation.
	timeArg func(t time.Time) any
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	contains:    func(col, p string) string { return "instr(" + col + ", " + p + ") > 0" },
	timeArg:     func(t time.Time) any { return t.UnixNano() },
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	contains:    func(col, p string) string { return "strpos(" + col + ", " + p + ") > 0" },
	timeArg:     func(t time.Time) any { return t },
}

type whereBuilder struct {
	d     dialect
	conds []string
	args  []any
}

func (w *whereBuilder) next(v any) string {
	w.args = append(w.args, v)
	return w.d.placeholder(len(w.args))
}

func (w *whereBuilder) add(cond string) { w.conds = append(w.conds, cond) }

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func taskWhere(d dialect, f model.TaskFilter) *whereBuilder {
	w := &whereBuilder{d: d}
	if f.Name != "" {
		w.add(d.contains("name", w.next(f.Name)))
	}
	if f.Group != "" {
		w.add("task_group = " + w.next(f.Group))
	}
	if f.InvokeTarget != "" {
		w.add(d.contains("invoke_target", w.next(f.InvokeTarget)))
	}
	if f.Status != nil {
		w.add("status = " + w.next(int(*f.Status)))
	}
	return w
}

func executionWhere(d dialect, f model.ExecutionFilter) *whereBuilder {
	w := &whereBuilder{d: d}
	if f.TaskName != "" {
		w.add(d.contains("task_name", w.next(f.TaskName)))
	}
	if f.TaskGroup != "" {
		w.add("task_group = " + w.next(f.TaskGroup))
	}
	if f.Outcome != "" {
		w.add("outcome = " + w.next(string(f.Outcome)))
	}
	if !f.Since.IsZero() {
		w.add("started_at >= " + w.next(d.timeArg(f.Since)))
	}
	if !f.Until.IsZero() {
		w.add("started_at < " + w.next(d.timeArg(f.Until)))
	}
	return w
}

const taskColumns = `id, name, task_group, invoke_target, cron_expression, misfire_policy, concurrent, status, remark, create_time, update_time`

const executionColumns = `id, task_id, task_name, task_group, invoke_target, trigger_kind, outcome, success, message, error_info, started_at, duration_ns`
