package ingest

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/metrics"
	"github.com/hurttlocker/mediakb/internal/payload"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/web"
)

// shortJapaneseName looks like a person's name: two to four kana or kanji.
var shortJapaneseName = regexp.MustCompile(`^[\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FFF}]{2,4}$`)

// runState is the mutable state of one Run.
type runState struct {
	id        string
	req       Request
	log       *zap.Logger
	extractor string
	topic     string
	// forcedBase is set when the topic itself is an eiga.com person URL.
	forcedBase string

	executed  map[string]bool
	order     []string
	queue     []string
	collected []*payload.Payload
}

func (rs *runState) progress(msg string) {
	if rs.req.Progress != nil {
		rs.req.Progress(msg)
	}
}

func (rs *runState) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return rs.req.Cancel != nil && rs.req.Cancel()
}

// enqueue appends q unless it is blank, already run or already pending.
func (rs *runState) enqueue(q string) {
	q = extract.SanitizeQuery(q)
	if q == "" || rs.executed[q] || slices.Contains(rs.queue, q) {
		return
	}
	rs.queue = append(rs.queue, q)
}

// round is the per-round working set shared by the collectors.
type round struct {
	n        int
	query    string
	qtype    string
	hits     []search.Hit
	hints    hints
	block    string
	base     string
	film     *filmography
	filmOK   bool
	accepted []accepted
}

// Run executes rounds until the queue and the auto-continuation budget
// are spent, then merges every collected payload and commits it to the KB.
// Cancellation (ctx or Request.Cancel) stops the loop but still commits
// what was collected.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	topic := extract.SanitizeQuery(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	start := time.Now()
	defer metrics.ObserveRun(start)

	id := uuid.NewString()
	rs := &runState{
		id:         id,
		req:        req,
		log:        o.log.With(zap.String("run_id", id), zap.String("topic", topic)),
		extractor:  ExtractorPrompt(req.Domain),
		topic:      topic,
		forcedBase: web.NormalizePersonURL(req.Topic),
		executed:   map[string]bool{},
	}
	rs.progress(fmt.Sprintf("Start ingest: topic='%s', domain='%s', rounds=%d, strict=%t", req.Topic, req.Domain, req.Rounds, req.Strict))
	rs.log.Info("ingest started", zap.String("domain", req.Domain), zap.Int("rounds", req.Rounds), zap.Bool("expand", req.Expand))

	res := &Result{RunID: id}
	iterMax := max(1, req.Rounds)
	budget := max(0, req.AutoNextMax)
	r := 0
	for r < iterMax {
		if rs.cancelled(ctx) {
			res.Cancelled = true
			rs.progress("Cancelled by user request")
			rs.log.Info("ingest cancelled", zap.Int("round", r+1))
			break
		}
		o.runRound(ctx, rs, r+1)
		r++

		if !req.Expand {
			break
		}
		// every further round is paid for from the auto-next budget
		if len(rs.queue) == 0 || budget == 0 {
			break
		}
		budget--
		iterMax++
		rs.progress("Auto-continue: next=" + rs.queue[0] + ", budget=" + strconv.Itoa(budget))
	}
	res.RoundsRun = r
	res.Executed = rs.order

	merged := payload.Merge(rs.collected)
	res.Payload = merged
	res.Collected = len(rs.collected)
	res.NextKeyword = o.finalNextKeyword(ctx, rs, merged)

	// the commit must outlive a cancelled run
	stats, err := o.kb.IngestPayload(context.WithoutCancel(ctx), merged)
	if err != nil {
		rs.log.Error("kb commit failed", zap.Error(err))
		return nil, fmt.Errorf("committing run %s: %w", id, err)
	}
	res.Stats = stats
	rs.progress("Registered to DB")

	lines := summaryLines(merged)
	if res.NextKeyword != "" {
		lines = append(lines, "NextKeyword: "+res.NextKeyword)
	} else {
		lines = append(lines, "NextKeyword: (none)")
	}
	for _, ln := range lines {
		rs.progress(ln)
	}
	o.writeArtifact("ingest", fmt.Sprintf("ingest_%s_%s.log", o.now().Format("20060102-150405"), extract.SafeFileToken(topic)),
		[]byte(strings.Join(lines, "\n")+"\n"))

	rs.log.Info("ingest finished",
		zap.Int("rounds", res.RoundsRun),
		zap.Int("collected", res.Collected),
		zap.Int("persons", len(merged.Persons)),
		zap.Int("works", len(merged.Works)),
		zap.Int("credits", len(merged.Credits)),
		zap.String("next_keyword", res.NextKeyword),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) runRound(ctx context.Context, rs *runState, n int) {
	rd := &round{n: n}
	rd.query = o.chooseQuery(rs)
	rd.qtype = inferType(rs.req.TopicType, rd.query)
	rs.executed[rd.query] = true
	rs.order = append(rs.order, rd.query)
	o.attempts.mark(rd.query)
	metrics.RecordRound()
	rs.progress("Search query: " + rd.query)
	log := rs.log.With(zap.Int("round", n), zap.String("query", rd.query))

	if rs.forcedBase != "" {
		rd.base = rs.forcedBase
		rd.hints = personOnly(rd.base)
		rs.progress("Forced person mode: " + rd.base)
	} else {
		res, err := o.planner.PlanAndSearch(ctx, rd.query, rs.req.Domain)
		if err != nil {
			log.Warn("search aborted", zap.Error(err))
		}
		if res != nil {
			rd.hits = res.Hits
			if res.DumpPath != "" {
				rs.progress("Saved raw search results: " + res.DumpPath)
			}
		}
		rd.hints = o.buildHints(ctx, rd.hits)
		rd.base = o.resolvePersonBase(ctx, rs, rd.query, rd.hits)
		if rd.base != "" {
			rd.hints = personOnly(rd.base)
		}
	}

	if rd.base != "" {
		o.collectFilmography(ctx, rs, rd)
	}
	o.maybeSwitchType(rs, rd)

	rd.hints.dump(rs.progress)
	rd.block = rd.hints.block()

	for _, name := range o.personas.CollectorNames() {
		if ctx.Err() != nil {
			break
		}
		p, err := o.personas.LLM(name)
		if err != nil {
			log.Warn("collector unavailable", zap.String("character", name), zap.Error(err))
			continue
		}
		for _, a := range o.newCollector(rs, rd, name, p).run(ctx) {
			o.admit(rs, rd, a)
		}
	}

	o.enqueueNextKeyword(ctx, rs, rd, log)
}

func (o *Orchestrator) chooseQuery(rs *runState) string {
	var q string
	if rs.req.Expand && len(rs.queue) > 0 {
		q = extract.SanitizeQuery(rs.queue[0])
		rs.queue = rs.queue[1:]
	}
	if q == "" {
		q = rs.topic
	}
	return q
}

// inferType honors an explicit person or work type and otherwise guesses
// person for short all-Japanese queries.
func inferType(declared, q string) string {
	switch t := strings.ToLower(strings.TrimSpace(declared)); t {
	case TypePerson, TypeWork:
		return t
	}
	if shortJapaneseName.MatchString(strings.TrimSpace(q)) {
		return TypePerson
	}
	return TypeUnknown
}

func (o *Orchestrator) collectFilmography(ctx context.Context, rs *runState, rd *round) {
	rs.progress("Person base resolved: " + rd.base)
	forced := rs.forcedBase != ""
	name := rd.query
	if forced {
		name = ""
	}
	f := o.readFilmography(ctx, rs, rd.base, name, forced)
	rd.film = f
	if f.empty() {
		return
	}

	if path := o.writeSnapshot(rd.query, f.snapshot(rd.query)); path != "" {
		rs.progress("Saved person snapshot: " + path)
	}
	// a forced page that could not be read or had no og:title names nobody
	if f.name == "" {
		rs.progress("Skipped filmography payload: person name unknown for " + rd.base)
		return
	}
	if !forced && len(f.dramas) > 0 {
		rd.hints.addStructured(labelWorks + strings.Join(head(f.dramas, 20), ", "))
	}

	p := f.toPayload(rs)
	metrics.RecordPayload(sourceFilmography)
	o.admit(rs, rd, accepted{p: p, source: sourceFilmography})
	rd.filmOK = len(p.Works) > 0
	rs.progress(fmt.Sprintf("Added filmography payload: persons=%d, works=%d, credits=%d", len(p.Persons), len(p.Works), len(p.Credits)))
}

// maybeSwitchType flips a person/work guess when the round found nothing
// of that kind. The type only steers logging and the next-keyword note.
func (o *Orchestrator) maybeSwitchType(rs *runState, rd *round) {
	if rd.filmOK || (rd.qtype != TypePerson && rd.qtype != TypeWork) {
		return
	}
	s := rd.hints.structured
	lacking := (rd.qtype == TypePerson && !strings.Contains(s, "人物候補")) ||
		(rd.qtype == TypeWork && !strings.Contains(s, "作品候補"))
	if len(rd.hits) == 0 || lacking {
		if rd.qtype == TypePerson {
			rd.qtype = TypeWork
		} else {
			rd.qtype = TypePerson
		}
		rs.progress("Switched query type: " + rd.qtype)
	}
}

// admit records an accepted payload and, for model output, feeds its
// suggestions to the queue.
func (o *Orchestrator) admit(rs *runState, rd *round, a accepted) {
	rs.collected = append(rs.collected, a.p)
	rd.accepted = append(rd.accepted, a)
	if !rs.req.Expand || !a.fromModel() {
		return
	}
	if len(a.p.NextQueries) > 0 {
		for _, q := range a.p.NextQueries {
			rs.enqueue(q)
		}
		return
	}
	for _, n := range a.p.Names() {
		rs.enqueue(n)
	}
}

// candidates lists next-keyword candidates for a finished round.
func (rd *round) candidates() []string {
	var out []string
	add := func(s string) {
		if s = extract.SanitizeQuery(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	for _, a := range rd.accepted {
		for _, q := range a.p.NextQueries {
			add(q)
		}
	}
	if rd.film != nil {
		for _, t := range rd.film.movieTitles() {
			add(t)
		}
	}
	if len(out) == 0 {
		for _, a := range rd.accepted {
			for _, n := range a.p.Names() {
				add(n)
			}
		}
	}
	return out
}

// enqueueNextKeyword puts the first candidate unknown to the KB at the
// front of the queue. Rounds that produced a filmography skip this.
func (o *Orchestrator) enqueueNextKeyword(ctx context.Context, rs *runState, rd *round, log *zap.Logger) {
	if rd.filmOK {
		return
	}
	nk, err := o.kb.FirstUnknown(ctx, rd.candidates())
	if err != nil {
		log.Warn("next keyword lookup failed", zap.Error(err))
		return
	}
	if nk == "" || rs.executed[nk] || slices.Contains(rs.queue, nk) || o.attempts.recent(nk) {
		return
	}
	clean := extract.RemoveRolePrefix(nk)
	if clean == "" || extract.IsPureRoleWord(clean) {
		return
	}
	rs.queue = append([]string{clean}, rs.queue...)
	rs.progress("Enqueued next keyword: " + clean + " (" + rd.qtype + ")")
}

// finalNextKeyword suggests what to research after this run. Queries the
// run already executed are never suggested.
func (o *Orchestrator) finalNextKeyword(ctx context.Context, rs *runState, merged *payload.Payload) string {
	var cands []string
	for _, p := range rs.collected {
		for _, q := range p.NextQueries {
			if s := extract.SanitizeQuery(q); s != "" && !rs.executed[s] && !slices.Contains(cands, s) {
				cands = append(cands, s)
			}
		}
	}
	if len(cands) == 0 {
		for _, n := range merged.Names() {
			if s := extract.SanitizeQuery(n); s != "" && !rs.executed[s] && !slices.Contains(cands, s) {
				cands = append(cands, s)
			}
		}
	}
	nk, err := o.kb.FirstUnknown(context.WithoutCancel(ctx), cands)
	if err != nil {
		rs.log.Warn("final next keyword lookup failed", zap.Error(err))
		return ""
	}
	if nk == "" && len(cands) > 0 {
		rs.progress("(no-new) first-candidate='" + cands[0] + "'")
	}
	return nk
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
