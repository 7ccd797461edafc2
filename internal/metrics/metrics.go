// Package metrics exposes task execution counters in Prometheus format.
//
// The collector is fed from the event bus, so the orchestrator never calls it
// directly:
//
//	jobkeeper_task_runs_total{group,outcome}   runs by outcome (success|failure|skipped)
//	jobkeeper_task_duration_seconds{group}     execution latency
//	jobkeeper_tasks_in_flight                  runs currently executing
//	jobkeeper_scheduled_jobs                   jobs that will fire on schedule
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"jobkeeper/internal/eventbus"
	logx "jobkeeper/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobkeeper"

type Config struct {
	Enabled bool
	Addr    string // e.g. ":9090"
	Path    string // default "/metrics"
}

// Collector holds the task metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	closed   prometheus.Counter
}

// NewCollector registers the task metrics. liveJobs, when non-nil, backs the
// scheduled_jobs gauge.
func NewCollector(liveJobs func() int) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions by outcome.",
		}, []string{"group", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Task executions currently running.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_closed_total",
			Help:      "Times the event subscription closed while consuming.",
		}),
	}
	c.reg.MustRegister(c.runs, c.duration, c.inFlight, c.closed)
	c.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if liveJobs != nil {
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "Jobs that will fire on schedule.",
		}, func() float64 { return float64(liveJobs()) }))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Observe applies one bus event.
func (c *Collector) Observe(e eventbus.Event) {
	te, _ := e.Data.(eventbus.TaskEvent)
	group := te.Group
	if group == "" {
		group = "none"
	}
	switch e.Type {
	case eventbus.TopicTaskStarted:
		c.inFlight.Inc()
	case eventbus.TopicTaskFinished:
		c.inFlight.Dec()
		c.runs.WithLabelValues(group, "success").Inc()
		c.duration.WithLabelValues(group).Observe(te.Duration.Seconds())
	case eventbus.TopicTaskFailed:
		c.inFlight.Dec()
		c.runs.WithLabelValues(group, "failure").Inc()
		c.duration.WithLabelValues(group).Observe(te.Duration.Seconds())
	case eventbus.TopicTaskSkipped:
		c.runs.WithLabelValues(group, "skipped").Inc()
	}
}

// Consume observes events until ctx is done or the subscription closes.
func (c *Collector) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				c.closed.Inc()
				return errors.New("event subscription closed")
			}
			c.Observe(e)
		}
	}
}

// Handler serves the private registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Serve runs the scrape endpoint until ctx is done.
func (c *Collector) Serve(ctx context.Context, cfg Config, log logx.Logger) error {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "/metrics"
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics server listening", logx.String("addr", addr), logx.String("path", path))

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
