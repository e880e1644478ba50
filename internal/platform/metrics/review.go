package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(llmCallDuration, reviewResults)
}

var (
	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_llm_call_duration_seconds",
			Help:    "Latency of language model calls per operation.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"operation", "success"},
	)

	reviewResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_results_total",
			Help: "Review result rows written per outcome.",
		},
		[]string{"outcome"},
	)
)

// ObserveLLMCall records the duration of one model call.
func ObserveLLMCall(operation string, d time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	llmCallDuration.WithLabelValues(norm(operation), success).Observe(d.Seconds())
}

// ReviewResultsWritten counts written result rows.
func ReviewResultsWritten(succeeded, failed int) {
	reviewResults.WithLabelValues("success").Add(float64(succeeded))
	reviewResults.WithLabelValues("error").Add(float64(failed))
}
