package mapreduce

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the scheduler's Prometheus instruments, scraped over an
// HTTP endpoint the master opens alongside its RPC listener. Gauges
// track point-in-time queue sizes; counters track cumulative events.
type Metrics struct {
	IdleWorkers  prometheus.Gauge
	ActiveTasks  prometheus.Gauge
	TodoTasks    prometheus.Gauge
	CurrentStage prometheus.Gauge

	TasksCompleted prometheus.Counter
	WorkersDied    prometheus.Counter
}

// NewMetrics registers the scheduler's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdleWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mrcoord",
			Name:      "idle_workers",
			Help:      "Number of workers currently idle and available for assignment.",
		}),
		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mrcoord",
			Name:      "active_tasks",
			Help:      "Number of tasks currently assigned to a worker in the current stage.",
		}),
		TodoTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mrcoord",
			Name:      "todo_tasks",
			Help:      "Number of unassigned tasks in the current stage.",
		}),
		CurrentStage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mrcoord",
			Name:      "current_stage",
			Help:      "Index of the dataset the scheduler is currently working through.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrcoord",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that have reached DONE.",
		}),
		WorkersDied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrcoord",
			Name:      "workers_died_total",
			Help:      "Total number of workers declared dead.",
		}),
	}
}

// ServeMetrics starts an HTTP server exposing reg at addr until ctx is
// canceled. It runs in its own goroutine; callers should not block on it.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go srv.ListenAndServe()

	return srv
}
