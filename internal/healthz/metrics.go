// Package healthz exposes the process's health and pipeline metrics
// surface: a liveness/readiness probe at /healthz and Prometheus metrics
// at /metrics. Grounded on caddy's metrics.go and admin.go, scaled down
// to the two fixed routes a batch/poll daemon actually needs (no admin
// API, no config reload surface).
package healthz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "routesync"
)

var (
	// pipelineRuns counts completed pipeline executions by outcome
	// ("ok" or the stage that failed: "dispatch", "merge", "reload").
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_runs_total",
		Help:      "Count of completed rule generation pipeline runs, by outcome.",
	}, []string{"outcome"})

	// cacheResults counts rule-set cache lookups by result.
	cacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_cache_results_total",
		Help:      "Count of rule-set cache fetch outcomes, by result.",
	}, []string{"result"})

	// debounceCoalesced counts state changes that arrived while a
	// debounce timer was already pending and were folded into it
	// instead of scheduling a second pipeline run.
	debounceCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounce_coalesced_total",
		Help:      "Count of state-change notifications coalesced into an already-pending debounce window.",
	})
)

// PipelineOutcome labels: use "ok" on success, otherwise the name of the
// stage that failed ("dispatch", "merge", "reload").
func IncPipelineRun(outcome string) {
	pipelineRuns.WithLabelValues(outcome).Inc()
}

// CacheResult labels: "hit" (304 Not Modified, cached content kept),
// "miss" (full body fetched), or "stale" (persistent failure, previous
// content kept).
func IncCacheResult(result string) {
	cacheResults.WithLabelValues(result).Inc()
}

// IncDebounceCoalesced records one burst arriving during a pending
// debounce window.
func IncDebounceCoalesced() {
	debounceCoalesced.Inc()
}
