package server

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/ingest"
)

// Job states.
const (
	statusRunning = "running"
	statusDone    = "done"
	statusStopped = "stopped"
	statusFailed  = "failed"
)

// Finished jobs stay pollable for jobRetention, and at most
// maxFinishedJobs of them are kept. Running jobs are never dropped.
const (
	jobRetention    = time.Hour
	maxFinishedJobs = 100
)

// job is one background ingestion. Its stop flag is the run's Cancel
// predicate, so a stop takes effect at the next round boundary.
type job struct {
	id      string
	topic   string
	started time.Time
	stop    atomic.Bool

	mu       sync.Mutex
	status   string
	progress []string
	result   *ingest.Result
	err      string
	finished time.Time
}

func (j *job) requestStop() { j.stop.Store(true) }

func (j *job) finishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

func (j *job) append(line string) {
	j.mu.Lock()
	j.progress = append(j.progress, line)
	j.mu.Unlock()
}

func (j *job) finish(res *ingest.Result, err error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = at
	j.result = res
	switch {
	case err != nil:
		j.status = statusFailed
		j.err = err.Error()
	case res != nil && res.Cancelled:
		j.status = statusStopped
	default:
		j.status = statusDone
	}
}

// jobView is the JSON shape of a job.
type jobView struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	Status      string         `json:"status"`
	StopPending bool           `json:"stop_requested,omitempty"`
	Progress    []string       `json:"progress"`
	Next        int            `json:"next"`
	Result      *ingest.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// view snapshots the job. Progress starts at line since, so pollers can
// fetch only what is new and pass Next back.
func (j *job) view(since int) jobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	since = min(max(0, since), len(j.progress))
	v := jobView{
		ID:          j.id,
		Topic:       j.topic,
		Status:      j.status,
		StopPending: j.stop.Load() && j.status == statusRunning,
		Progress:    append([]string{}, j.progress[since:]...),
		Next:        len(j.progress),
		Result:      j.result,
		Error:       j.err,
		StartedAt:   j.started,
	}
	if !j.finished.IsZero() {
		f := j.finished
		v.FinishedAt = &f
	}
	return v
}

// jobs tracks background ingestions by id.
type jobs struct {
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retention   time.Duration
	maxFinished int
	now         func() time.Time

	mu   sync.Mutex
	byID map[string]*job
}

func newJobs(log *zap.Logger) *jobs {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobs{
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		retention:   jobRetention,
		maxFinished: maxFinishedJobs,
		now:         time.Now,
		byID:        map[string]*job{},
	}
}

func (js *jobs) start(in Ingester, req ingest.Request) *job {
	j := &job{id: uuid.NewString(), topic: req.Topic, started: js.now(), status: statusRunning}
	req.Cancel = j.stop.Load
	req.Progress = j.append

	js.mu.Lock()
	js.pruneLocked()
	js.byID[j.id] = j
	js.mu.Unlock()

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		log := js.log.With(zap.String("job_id", j.id), zap.String("topic", req.Topic))
		log.Info("ingest job started")
		res, err := in.Run(js.ctx, req)
		if err != nil {
			log.Error("ingest job failed", zap.Error(err))
		} else {
			log.Info("ingest job finished", zap.Int("rounds", res.RoundsRun), zap.Bool("cancelled", res.Cancelled))
		}
		j.finish(res, err, js.now())
	}()
	return j
}

func (js *jobs) get(id string) *job {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.pruneLocked()
	return js.byID[id]
}

// pruneLocked drops finished jobs past the retention window, then the
// oldest finished ones beyond maxFinished. js.mu must be held.
func (js *jobs) pruneLocked() {
	cutoff := js.now().Add(-js.retention)
	var finished []*job
	for id, j := range js.byID {
		at := j.finishedAt()
		switch {
		case at.IsZero():
		case at.Before(cutoff):
			delete(js.byID, id)
		default:
			finished = append(finished, j)
		}
	}
	if extra := len(finished) - js.maxFinished; extra > 0 {
		slices.SortFunc(finished, func(a, b *job) int { return a.finishedAt().Compare(b.finishedAt()) })
		for _, j := range finished[:extra] {
			delete(js.byID, j.id)
		}
	}
}

// stopAll flags every job and cancels their shared context.
func (js *jobs) stopAll() {
	js.mu.Lock()
	for _, j := range js.byID {
		j.requestStop()
	}
	js.mu.Unlock()
	js.cancel()
}

func (js *jobs) wait() { js.wg.Wait() }
