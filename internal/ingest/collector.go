package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/llm"
	"github.com/hurttlocker/mediakb/internal/metrics"
	"github.com/hurttlocker/mediakb/internal/payload"
)

// Collector call timeouts.
const (
	ExtractTimeout = 60 * time.Second
	RepairTimeout  = 45 * time.Second
)

// collectState is a step of one collector's work within a round.
type collectState int

const (
	stateSearching collectState = iota
	stateExtracting
	stateRepairing
	stateFallingBack
	stateDone
)

func (s collectState) String() string {
	switch s {
	case stateSearching:
		return "searching"
	case stateExtracting:
		return "extracting"
	case stateRepairing:
		return "repairing"
	case stateFallingBack:
		return "falling_back"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// LLM call outcomes.
const (
	outcomeOK       = "ok"
	outcomeEmpty    = "empty"
	outcomeRepaired = "repaired"
	outcomeRetryOK  = "retry_ok"
	outcomeNonJSON  = "non_json"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// Payload sources.
const (
	sourceLLM         = "llm"
	sourceRepair      = "repair"
	sourceRetry       = "retry"
	sourceFallback    = "fallback"
	sourceFilmography = "filmography"
)

// accepted is a payload admitted into the run.
type accepted struct {
	p      *payload.Payload
	source string
}

// fromModel reports whether the payload came out of a collector LLM, so
// its suggestions may extend the query queue.
func (a accepted) fromModel() bool {
	return a.source == sourceLLM || a.source == sourceRepair || a.source == sourceRetry
}

// collector walks one persona through
// Searching → Extracting → (Repairing) → (FallingBack) → Done.
type collector struct {
	o    *Orchestrator
	rs   *runState
	rd   *round
	name string
	llm  llm.Provider

	system string
	user   string
	state  collectState

	// raw is the last response that needs repair or a dump.
	raw     string
	current *payload.Payload
	nonJSON bool
	out     []accepted
}

func (o *Orchestrator) newCollector(rs *runState, rd *round, name string, p llm.Provider) *collector {
	c := &collector{o: o, rs: rs, rd: rd, name: name, llm: p}
	if rs.req.Strict {
		c.system = strictSystemPrompt(rs.extractor)
	} else {
		c.system = personaSystemPrompt(o.personas.PersonaPrompt(name), rs.extractor)
	}
	return c
}

// run drives the state machine to Done and returns what was accepted.
func (c *collector) run(ctx context.Context) []accepted {
	for c.state != stateDone {
		next := c.step(ctx)
		c.rs.log.Debug("collector transition",
			zap.String("character", c.name),
			zap.Stringer("from", c.state),
			zap.Stringer("to", next))
		c.state = next
	}
	return c.out
}

func (c *collector) step(ctx context.Context) collectState {
	switch c.state {
	case stateSearching:
		// hits and hints are shared by the round; only the message is ours
		c.user = userMessage(c.rd.query, c.rd.block)
		return stateExtracting
	case stateExtracting:
		return c.extract(ctx)
	case stateRepairing:
		return c.repair(ctx)
	case stateFallingBack:
		return c.fallBack(ctx)
	}
	return stateDone
}

func (c *collector) extract(ctx context.Context) collectState {
	resp, err := c.complete(ctx, c.o.extractTimeout, c.system, c.user)
	if err != nil {
		return c.fail(err)
	}
	c.raw = resp

	if p, ok := c.parse(resp); ok {
		if !payload.IsEffectivelyEmpty(p) {
			metrics.RecordLLMCall(outcomeOK)
			c.accept(p, sourceLLM)
			c.rs.progress("Collected JSON from " + c.name)
			return stateDone
		}
		metrics.RecordLLMCall(outcomeEmpty)
		c.current = p
		return stateRepairing
	}

	if c.rs.req.Strict {
		metrics.RecordLLMCall(outcomeNonJSON)
		c.nonJSON = true
		return stateFallingBack
	}

	resp, err = c.complete(ctx, c.o.extractTimeout, strictRetryPrompt(c.rs.extractor), c.user)
	if err != nil {
		return c.fail(err)
	}
	if p, ok := c.parse(resp); ok {
		metrics.RecordLLMCall(outcomeRetryOK)
		c.accept(p, sourceRetry)
		c.rs.progress("Collected JSON (retry) from " + c.name)
		return stateDone
	}
	metrics.RecordLLMCall(outcomeNonJSON)
	c.raw = resp
	c.nonJSON = true
	return stateFallingBack
}

// repair re-prompts with the empty answer. The payload is accepted either
// way; only a still-empty one falls back.
func (c *collector) repair(ctx context.Context) collectState {
	source := sourceLLM
	rep, err := c.complete(ctx, c.o.repairTimeout, RepairPrompt(c.rs.req.Domain), c.raw)
	if err != nil {
		c.rs.log.Warn("repair call failed", zap.String("character", c.name), zap.Error(err))
	} else if fixed, ok := c.parse(rep); ok && !payload.IsEffectivelyEmpty(fixed) {
		metrics.RecordLLMCall(outcomeRepaired)
		c.current = fixed
		source = sourceRepair
		c.rs.progress("Repaired JSON payload")
	}
	c.accept(c.current, source)
	c.rs.progress("Collected JSON from " + c.name)
	if payload.IsEffectivelyEmpty(c.current) {
		return stateFallingBack
	}
	return stateDone
}

func (c *collector) fallBack(ctx context.Context) collectState {
	if c.nonJSON {
		c.rs.log.Warn("non-JSON response", zap.String("character", c.name), zap.Int("round", c.rd.n))
		c.rs.progress("Non-JSON from " + c.name)
		if path := c.o.dumpRaw(c.rd.n, c.name, c.raw); path != "" {
			c.rs.progress("Saved raw response: " + path)
		}
	}
	if fb := c.o.deepPayload(ctx, c.rd.hits); payload.HasFacts(fb) {
		c.accept(fb, sourceFallback)
		c.rs.progress("Collected fallback payload (deep)")
	}
	if c.nonJSON {
		if pv := preview(c.raw); pv != "" {
			c.rs.progress("Preview: " + pv)
		}
	}
	return stateDone
}

func (c *collector) fail(err error) collectState {
	outcome := outcomeError
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = outcomeTimeout
	}
	metrics.RecordLLMCall(outcome)
	c.rs.log.Warn("collector call failed",
		zap.String("character", c.name),
		zap.Int("round", c.rd.n),
		zap.String("outcome", outcome),
		zap.Error(err))
	if outcome == outcomeTimeout {
		c.rs.progress("Timeout from " + c.name)
	} else {
		c.rs.progress("Error from " + c.name + ": " + err.Error())
	}
	return stateDone
}

func (c *collector) complete(ctx context.Context, timeout time.Duration, system, user string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.llm.Complete(cctx, user, llm.CompletionOpts{System: system, Temperature: 0.2})
}

// parse recovers, validates and normalizes a payload from a response.
func (c *collector) parse(resp string) (*payload.Payload, bool) {
	p, notes, err := payload.Parse(resp)
	if err != nil {
		return nil, false
	}
	if len(notes) > 0 {
		c.rs.log.Debug("payload coerced", zap.String("character", c.name), zap.Strings("notes", notes))
	}
	return payload.Normalize(p), true
}

func (c *collector) accept(p *payload.Payload, source string) {
	metrics.RecordPayload(source)
	c.out = append(c.out, accepted{p: p, source: source})
}
