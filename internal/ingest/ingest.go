// Package ingest runs the research loop that grows the knowledge base.
//
// A run is a sequence of rounds. Each round picks one query, searches the
// web for it, mines the hits for hints, and asks every collector LLM for a
// schema-bound JSON payload. Person pages on eiga.com short-circuit the LLM
// with a filmography payload built straight from the listings. Payloads from
// all rounds are merged and committed to the KB once, after the loop.
//
// Failures inside a round (search, fetch, LLM) are logged and skipped; only
// argument errors and the final KB commit surface to the caller.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/llm"
	"github.com/hurttlocker/mediakb/internal/payload"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/store"
	"github.com/hurttlocker/mediakb/internal/web"
)

// ErrEmptyTopic is returned when the topic sanitizes to nothing.
var ErrEmptyTopic = errors.New("ingest: empty topic")

// Query types.
const (
	TypeUnknown = "unknown"
	TypePerson  = "person"
	TypeWork    = "work"
)

// Planner runs the planned web search for a query. *search.Planner
// satisfies it.
type Planner interface {
	PlanAndSearch(ctx context.Context, query, domain string) (*search.Result, error)
	Searcher() search.Searcher
}

// Personas supplies the collectors, in order. *persona.Manager satisfies it.
type Personas interface {
	CollectorNames() []string
	PersonaPrompt(name string) string
	LLM(name string) (llm.Provider, error)
}

// KB is the knowledge base the run reads from and commits to.
// *store.SQLiteStore satisfies it.
type KB interface {
	IngestPayload(ctx context.Context, p *payload.Payload) (*store.IngestStats, error)
	FirstUnknown(ctx context.Context, candidates []string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Planner  Planner
	Fetcher  web.Getter
	Personas Personas
	KB       KB
	Logger   *zap.Logger
	// ArtifactDir is the root for raw responses, person snapshots and the
	// run summary. Empty disables artifacts.
	ArtifactDir string
	// AttemptTTL bounds how long a query blocks re-enqueueing.
	AttemptTTL time.Duration
	Clock      func() time.Time
}

// Request describes one run.
type Request struct {
	Topic  string
	Domain string
	Rounds int
	// Expand feeds suggested queries back into later rounds.
	Expand bool
	// Strict skips the persona prompt and the strict retry.
	Strict    bool
	TopicType string
	// AutoNextMax is how many rounds may follow the first one while
	// the queue still holds a query. Rounds only seeds the loop bound.
	AutoNextMax int
	// Cancel is polled at the top of every round.
	Cancel func() bool
	// Progress receives human-readable status lines.
	Progress func(string)
}

// Result is the outcome of a run.
type Result struct {
	RunID       string             `json:"run_id"`
	Payload     *payload.Payload   `json:"payload"`
	NextKeyword string             `json:"next_keyword,omitempty"`
	RoundsRun   int                `json:"rounds_run"`
	Collected   int                `json:"collected"`
	Executed    []string           `json:"executed"`
	Stats       *store.IngestStats `json:"stats"`
	Cancelled   bool               `json:"cancelled,omitempty"`
}

// Orchestrator runs ingestion. One Orchestrator may serve concurrent runs;
// they share only the attempt cache.
type Orchestrator struct {
	planner     Planner
	fetcher     web.Getter
	personas    Personas
	kb          KB
	log         *zap.Logger
	artifactDir string
	now         func() time.Time
	attempts    *attemptCache

	extractTimeout time.Duration
	repairTimeout  time.Duration
}

// New builds an Orchestrator. Planner, Fetcher, Personas and KB are
// required.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Planner == nil:
		return nil, errors.New("ingest: planner is required")
	case opts.Fetcher == nil:
		return nil, errors.New("ingest: fetcher is required")
	case opts.Personas == nil:
		return nil, errors.New("ingest: personas are required")
	case opts.KB == nil:
		return nil, errors.New("ingest: kb is required")
	}
	o := &Orchestrator{
		planner:     opts.Planner,
		fetcher:     opts.Fetcher,
		personas:    opts.Personas,
		kb:          opts.KB,
		log:         opts.Logger,
		artifactDir: opts.ArtifactDir,
		now:         opts.Clock,
		attempts:    newAttemptCache(opts.AttemptTTL),

		extractTimeout: ExtractTimeout,
		repairTimeout:  RepairTimeout,
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}
