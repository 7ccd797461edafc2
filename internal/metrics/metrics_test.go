package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobkeeper/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveCountsOutcomes(t *testing.T) {
	t.Parallel()
	c := NewCollector(nil)
	ev := eventbus.TaskEvent{Group: "SYSTEM", Duration: 20 * time.Millisecond}

	c.Observe(eventbus.Event{Type: eventbus.TopicTaskStarted, Data: ev})
	assert.Contains(t, scrape(t, c), "jobkeeper_tasks_in_flight 1")

	c.Observe(eventbus.Event{Type: eventbus.TopicTaskFinished, Data: ev})
	c.Observe(eventbus.Event{Type: eventbus.TopicTaskStarted, Data: ev})
	c.Observe(eventbus.Event{Type: eventbus.TopicTaskFailed, Data: ev})
	c.Observe(eventbus.Event{Type: eventbus.TopicTaskSkipped, Data: ev})
	c.Observe(eventbus.Event{Type: eventbus.TopicJobsChanged, Data: 3})

	out := scrape(t, c)
	assert.Contains(t, out, "jobkeeper_tasks_in_flight 0")
	assert.Contains(t, out, `jobkeeper_task_runs_total{group="SYSTEM",outcome="success"} 1`)
	assert.Contains(t, out, `jobkeeper_task_runs_total{group="SYSTEM",outcome="failure"} 1`)
	assert.Contains(t, out, `jobkeeper_task_runs_total{group="SYSTEM",outcome="skipped"} 1`)
	assert.Contains(t, out, `jobkeeper_task_duration_seconds_count{group="SYSTEM"} 2`)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	t.Parallel()
	c := NewCollector(nil)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, events) }()

	bus.Publish(eventbus.Event{Type: eventbus.TopicTaskSkipped, Data: eventbus.TaskEvent{Group: "G"}})
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, c), `jobkeeper_task_runs_total{group="G",outcome="skipped"} 1`)
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumeReportsClosedSubscription(t *testing.T) {
	t.Parallel()
	c := NewCollector(nil)
	events := make(chan eventbus.Event)
	close(events)
	assert.Error(t, c.Consume(context.Background(), events))
}

func TestHandlerExposesScheduledJobs(t *testing.T) {
	t.Parallel()
	c := NewCollector(func() int { return 4 })
	assert.Contains(t, scrape(t, c), "jobkeeper_scheduled_jobs 4")
}
