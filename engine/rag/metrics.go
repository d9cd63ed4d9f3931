package rag

import (
	"github.com/askgeorge/askgeorge/pkg/metrics"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60}

// serviceMetrics records per-question outcomes.
type serviceMetrics struct {
	reg *metrics.Registry
}

func (m serviceMetrics) question(label string) {
	if m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("askgeorge_questions_total", "label", label), "Questions answered by label").Inc()
}

func (m serviceMetrics) answer(mode string, warning, noInfo bool) {
	if m.reg == nil {
		return
	}
	outcome := "ok"
	switch {
	case noInfo:
		outcome = "no_information"
	case warning:
		outcome = "warning"
	}
	m.reg.Counter(metrics.WithLabels("askgeorge_answers_total", "mode", mode, "outcome", outcome), "Answers by backend and outcome").Inc()
}

func (m serviceMetrics) failure(stage string) {
	if m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("askgeorge_errors_total", "stage", stage), "Pipeline errors by stage").Inc()
}

func (m serviceMetrics) retrieval(seconds float64, results int) {
	if m.reg == nil {
		return
	}
	m.reg.Histogram("askgeorge_retrieval_duration_seconds", "Retrieval latency", latencyBuckets).Observe(seconds)
	m.reg.Histogram("askgeorge_retrieved_chunks", "Passages per question", []float64{0, 1, 2, 3, 5, 7, 10, 20}).Observe(float64(results))
}

func (m serviceMetrics) generation(mode string, seconds float64) {
	if m.reg == nil {
		return
	}
	m.reg.Histogram(metrics.WithLabels("askgeorge_generation_duration_seconds", "mode", mode), "Generation latency", latencyBuckets).Observe(seconds)
}
