package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(tasksEnqueued, tasksFinished, workerLoopsActive)
}

var (
	tasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tasks_enqueued_total",
			Help: "Tasks accepted by the queue per task type.",
		},
		[]string{"type"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tasks_finished_total",
			Help: "Tasks removed from the queue per task type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	workerLoopsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_worker_loops_active",
			Help: "Worker loops currently running, one per api key hash.",
		},
	)
)

// TaskEnqueued counts an accepted task.
func TaskEnqueued(taskType string) {
	tasksEnqueued.WithLabelValues(norm(taskType)).Inc()
}

// TaskFinished counts a task leaving the queue. outcome is "completed" or "failed".
func TaskFinished(taskType, outcome string) {
	tasksFinished.WithLabelValues(norm(taskType), norm(outcome)).Inc()
}

// WorkerLoopStarted and WorkerLoopStopped track the active loop gauge.
func WorkerLoopStarted() { workerLoopsActive.Inc() }

func WorkerLoopStopped() { workerLoopsActive.Dec() }
