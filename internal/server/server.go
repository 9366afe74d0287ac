// Package server exposes the knowledge base and the ingester over HTTP.
//
// Read endpoints query the store directly. Ingest requests start a
// background job that can be polled and stopped; cleanup runs inline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/ingest"
	"github.com/hurttlocker/mediakb/internal/metrics"
	"github.com/hurttlocker/mediakb/internal/store"
)

// RequestTimeout bounds every synchronous request.
const RequestTimeout = 60 * time.Second

// KB is the read side of the store. *store.SQLiteStore satisfies it.
type KB interface {
	SearchPersons(ctx context.Context, kw string, limit int) ([]store.Person, error)
	PersonDetail(ctx context.Context, id int64) (*store.PersonDetail, error)
	PersonCredits(ctx context.Context, personID int64) ([]store.PersonCredit, error)
	SearchWorks(ctx context.Context, kw string, limit int) ([]store.Work, error)
	WorkDetail(ctx context.Context, id int64) (*store.WorkDetail, error)
	WorkCast(ctx context.Context, workID int64) ([]store.CastEntry, error)
	SearchFTS(ctx context.Context, query string, limit int) ([]store.FTSHit, error)
	UnifiedByTitle(ctx context.Context, titleLike string) ([]store.UnifiedMember, error)
}

// Ingester runs one ingestion. *ingest.Orchestrator satisfies it.
type Ingester interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// CleanupFunc runs the dedup pass.
type CleanupFunc func(ctx context.Context, dryRun, vacuum bool) (*store.CleanupReport, error)

// IngestDefaults fill fields an ingest request leaves out.
type IngestDefaults struct {
	Domain      string
	Rounds      int
	AutoNextMax int
	Strict      bool
	Expand      bool
}

// Config holds the server's collaborators.
type Config struct {
	KB       KB
	Ingester Ingester
	Cleanup  CleanupFunc
	Defaults IngestDefaults
	Logger   *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	kb       KB
	ingester Ingester
	cleanup  CleanupFunc
	defaults IngestDefaults
	log      *zap.Logger
	jobs     *jobs
	router   *chi.Mux
}

// New builds a Server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		kb:       cfg.KB,
		ingester: cfg.Ingester,
		cleanup:  cfg.Cleanup,
		defaults: cfg.Defaults,
		log:      cfg.Logger,
		router:   chi.NewRouter(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.defaults.Domain == "" {
		s.defaults.Domain = "映画"
	}
	s.jobs = newJobs(s.log)
	metrics.Init()
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/persons", s.handlePersons)
		r.Get("/persons/{id}", s.handlePerson)
		r.Get("/persons/{id}/credits", s.handlePersonCredits)
		r.Get("/works", s.handleWorks)
		r.Get("/works/{id}", s.handleWork)
		r.Get("/works/{id}/cast", s.handleWorkCast)
		r.Get("/search", s.handleSearch)
		r.Get("/unified", s.handleUnified)

		r.Post("/ingest", s.handleIngest)
		r.Get("/ingest/{id}", s.handleJob)
		r.Post("/ingest/{id}/stop", s.handleStop)

		r.Post("/cleanup", s.handleCleanup)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends, then stops running jobs
// and shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.jobs.stopAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.jobs.stopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// Wait blocks until every background job has finished.
func (s *Server) Wait() { s.jobs.wait() }

func (s *Server) handlePersons(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	items, err := s.kb.SearchPersons(r.Context(), q, limitParam(r))
	s.respond(w, r, "person search", items, err)
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	d, err := s.kb.PersonDetail(r.Context(), id)
	s.respond(w, r, "person lookup", d, err)
}

func (s *Server) handlePersonCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	items, err := s.kb.PersonCredits(r.Context(), id)
	s.respond(w, r, "credit lookup", items, err)
}

func (s *Server) handleWorks(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	items, err := s.kb.SearchWorks(r.Context(), q, limitParam(r))
	s.respond(w, r, "work search", items, err)
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	d, err := s.kb.WorkDetail(r.Context(), id)
	s.respond(w, r, "work lookup", d, err)
}

func (s *Server) handleWorkCast(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	items, err := s.kb.WorkCast(r.Context(), id)
	s.respond(w, r, "cast lookup", items, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	items, err := s.kb.SearchFTS(r.Context(), q, limitParam(r))
	s.respond(w, r, "full-text search", items, err)
}

func (s *Server) handleUnified(w http.ResponseWriter, r *http.Request) {
	title, ok := requireQuery(w, r, "title")
	if !ok {
		return
	}
	items, err := s.kb.UnifiedByTitle(r.Context(), title)
	s.respond(w, r, "unified lookup", items, err)
}

// ingestBody is the POST /api/ingest payload. Pointer fields distinguish
// "absent" from false or zero.
type ingestBody struct {
	Topic       string `json:"topic"`
	Domain      string `json:"domain"`
	Rounds      int    `json:"rounds"`
	Strict      *bool  `json:"strict"`
	Expand      *bool  `json:"expand"`
	Type        string `json:"type"`
	AutoNextMax *int   `json:"auto_next_max"`
}

func (s *Server) request(b ingestBody) ingest.Request {
	req := ingest.Request{
		Topic:       strings.TrimSpace(b.Topic),
		Domain:      strings.TrimSpace(b.Domain),
		Rounds:      b.Rounds,
		Strict:      s.defaults.Strict,
		Expand:      s.defaults.Expand,
		TopicType:   b.Type,
		AutoNextMax: s.defaults.AutoNextMax,
	}
	if req.Domain == "" {
		req.Domain = s.defaults.Domain
	}
	if req.Rounds <= 0 {
		req.Rounds = max(1, s.defaults.Rounds)
	}
	if b.Strict != nil {
		req.Strict = *b.Strict
	}
	if b.Expand != nil {
		req.Expand = *b.Expand
	}
	if b.AutoNextMax != nil {
		req.AutoNextMax = max(0, *b.AutoNextMax)
	}
	return req
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest is not configured")
		return
	}
	var b ingestBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := s.request(b)
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	j := s.jobs.start(s.ingester, req)
	writeJSON(w, http.StatusAccepted, j.view(0))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j := s.jobs.get(chi.URLParam(r, "id"))
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	writeJSON(w, http.StatusOK, j.view(since))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	j := s.jobs.get(chi.URLParam(r, "id"))
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	j.requestStop()
	writeJSON(w, http.StatusAccepted, j.view(0))
}

type cleanupBody struct {
	Exec   bool `json:"exec"`
	Vacuum bool `json:"vacuum"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup is not configured")
		return
	}
	var b cleanupBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	rep, err := s.cleanup(r.Context(), !b.Exec, b.Vacuum)
	s.respond(w, r, "cleanup", rep, err)
}

// respond writes v, or maps err to a short message and logs the detail.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, op string, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error(op+" failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "an error occurred during "+op)
	}
}

func requireQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		writeError(w, http.StatusBadRequest, key+" parameter required")
		return "", false
	}
	return v, true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// limitParam reads ?limit=, clamped to 1..200. Zero means the store default.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, 200)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
