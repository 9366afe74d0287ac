// Package metrics holds the Prometheus instruments for ingestion, fetching
// and search. Instruments are registered lazily on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type instruments struct {
	once sync.Once

	rounds      prometheus.Counter
	llmCalls    *prometheus.CounterVec
	payloads    *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	searches    *prometheus.CounterVec
	commits     *prometheus.CounterVec
	runDuration prometheus.Histogram
}

var m instruments

func (i *instruments) init() {
	i.once.Do(func() {
		i.rounds = prometheus.NewCounter(prometheus.CounterOpts{Name: "mediakb_ingest_rounds_total", Help: "Ingestion rounds executed"})
		i.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mediakb_ingest_llm_calls_total", Help: "Collector LLM calls by outcome"}, []string{"outcome"})
		i.payloads = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mediakb_ingest_payloads_total", Help: "Payloads accepted into a run by source"}, []string{"source"})
		i.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mediakb_fetch_total", Help: "Page fetches by outcome"}, []string{"outcome"})
		i.searches = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mediakb_search_queries_total", Help: "Web search queries by outcome"}, []string{"outcome"})
		i.commits = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mediakb_kb_commits_total", Help: "KB ingest transactions by outcome"}, []string{"outcome"})
		i.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediakb_ingest_run_seconds",
			Help:    "Wall time of a full ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		})

		prometheus.MustRegister(i.rounds, i.llmCalls, i.payloads, i.fetches, i.searches, i.commits, i.runDuration)
	})
}

// RecordRound counts one executed round.
func RecordRound() { m.init(); m.rounds.Inc() }

// RecordLLMCall counts a collector call outcome: ok, empty, repaired,
// retry_ok, non_json, timeout or error.
func RecordLLMCall(outcome string) { m.init(); m.llmCalls.WithLabelValues(outcome).Inc() }

// RecordPayload counts a payload accepted from source: llm, repair, retry,
// fallback or filmography.
func RecordPayload(source string) { m.init(); m.payloads.WithLabelValues(source).Inc() }

// RecordFetch counts a page fetch outcome: ok, status or error.
func RecordFetch(outcome string) { m.init(); m.fetches.WithLabelValues(outcome).Inc() }

// RecordSearch counts a search query outcome: ok or error.
func RecordSearch(outcome string) { m.init(); m.searches.WithLabelValues(outcome).Inc() }

// RecordCommit counts a KB ingest transaction: ok or error.
func RecordCommit(outcome string) { m.init(); m.commits.WithLabelValues(outcome).Inc() }

// ObserveRun records the duration of a run that started at start.
func ObserveRun(start time.Time) { m.init(); m.runDuration.Observe(time.Since(start).Seconds()) }

// Init registers all instruments so they show up on /metrics before the
// first event.
func Init() { m.init() }
