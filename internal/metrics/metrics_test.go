package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersByLabel(t *testing.T) {
	Init()
	before := testutil.ToFloat64(m.llmCalls.WithLabelValues("timeout"))
	okBefore := testutil.ToFloat64(m.llmCalls.WithLabelValues("ok"))

	RecordLLMCall("timeout")
	RecordLLMCall("timeout")

	assert.Equal(t, before+2, testutil.ToFloat64(m.llmCalls.WithLabelValues("timeout")))
	assert.Equal(t, okBefore, testutil.ToFloat64(m.llmCalls.WithLabelValues("ok")))
}

func TestRoundsAndRuns(t *testing.T) {
	Init()
	rounds := testutil.ToFloat64(m.rounds)
	RecordRound()
	assert.Equal(t, rounds+1, testutil.ToFloat64(m.rounds))

	ObserveRun(time.Now().Add(-2 * time.Second))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestRegisteredOnDefaultRegistry(t *testing.T) {
	Init()
	RecordFetch("ok")
	RecordSearch("ok")
	RecordPayload("fallback")
	RecordCommit("ok")

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		"mediakb_fetch_total", "mediakb_search_queries_total",
		"mediakb_ingest_payloads_total", "mediakb_kb_commits_total")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, n, 4)
}
