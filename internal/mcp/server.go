// Package mcp provides a Model Context Protocol server for mediakb.
//
// It exposes the knowledge base (full-text search, person and work lookups),
// ingestion and the cleanup pass as MCP tools, and table counts as a
// resource. It is served over stdio by `mediakb mcp`.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/mediakb/internal/ingest"
	"github.com/hurttlocker/mediakb/internal/store"
)

// KB is the read side of the store. *store.SQLiteStore satisfies it.
type KB interface {
	SearchPersons(ctx context.Context, kw string, limit int) ([]store.Person, error)
	PersonDetail(ctx context.Context, id int64) (*store.PersonDetail, error)
	PersonCredits(ctx context.Context, personID int64) ([]store.PersonCredit, error)
	SearchWorks(ctx context.Context, kw string, limit int) ([]store.Work, error)
	WorkDetail(ctx context.Context, id int64) (*store.WorkDetail, error)
	WorkCast(ctx context.Context, workID int64) ([]store.CastEntry, error)
	SearchFTS(ctx context.Context, query string, limit int) ([]store.FTSHit, error)
	Counts(ctx context.Context) (*store.Counts, error)
}

// Ingester runs one ingestion. *ingest.Orchestrator satisfies it.
type Ingester interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	KB       KB
	Ingester Ingester // optional; kb_ingest is not registered without it
	// Cleanup runs the dedup pass; kb_cleanup is not registered without it.
	Cleanup func(ctx context.Context, dryRun, vacuum bool) (*store.CleanupReport, error)
	Domain  string
	Rounds  int
	Version string
}

// dbMu serializes tool calls. mcp-go dispatches handlers concurrently and
// SQLite takes one writer at a time; an ingest must finish before a search
// sees its rows.
var dbMu sync.Mutex

const maxLimit = 50

// NewServer creates a configured MCP server with all mediakb tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Domain == "" {
		cfg.Domain = "映画"
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 1
	}

	s := server.NewMCPServer(
		"mediakb",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerSearchTool(s, cfg.KB)
	registerPersonTool(s, cfg.KB)
	registerWorkTool(s, cfg.KB)
	if cfg.Ingester != nil {
		registerIngestTool(s, cfg.Ingester, cfg.Domain, cfg.Rounds)
	}
	if cfg.Cleanup != nil {
		registerCleanupTool(s, cfg.Cleanup)
	}
	registerStatsResource(s, cfg.KB)
	return s
}

// --- Tools ---

func registerSearchTool(s *server.MCPServer, kb KB) {
	tool := mcp.NewTool("kb_search",
		mcp.WithDescription("Full-text search over persons, works and aliases in the media knowledge base. Returns kind, id and a highlighted snippet."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text (Japanese; 3+ characters use the trigram index)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 20, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		hits, err := kb.SearchFTS(ctx, strings.TrimSpace(query), limitArg(req, 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		return jsonResult(hits)
	})
}

type personView struct {
	*store.PersonDetail
	Credits []store.PersonCredit `json:"credits"`
}

func registerPersonTool(s *server.MCPServer, kb KB) {
	tool := mcp.NewTool("kb_person",
		mcp.WithDescription("Look up persons. With id, returns the person with aliases, external ids and credits; with query, returns matching persons."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("id", mcp.Description("Person id")),
		mcp.WithString("query", mcp.Description("Name substring")),
		mcp.WithNumber("limit", mcp.Description("Maximum search results (default: 20, max: 50)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if id, ok := idArg(req); ok {
			d, err := kb.PersonDetail(ctx, id)
			if err != nil {
				return lookupError("person", id, err), nil
			}
			credits, err := kb.PersonCredits(ctx, id)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("credits error: %v", err)), nil
			}
			return jsonResult(personView{PersonDetail: d, Credits: credits})
		}
		q, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(q) == "" {
			return mcp.NewToolResultError("id or query is required"), nil
		}
		persons, err := kb.SearchPersons(ctx, strings.TrimSpace(q), limitArg(req, 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		return jsonResult(persons)
	})
}

type workView struct {
	*store.WorkDetail
	Cast []store.CastEntry `json:"cast"`
}

func registerWorkTool(s *server.MCPServer, kb KB) {
	tool := mcp.NewTool("kb_work",
		mcp.WithDescription("Look up works. With id, returns the work with category, external ids and cast; with query, returns matching works, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("id", mcp.Description("Work id")),
		mcp.WithString("query", mcp.Description("Title substring")),
		mcp.WithNumber("limit", mcp.Description("Maximum search results (default: 20, max: 50)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if id, ok := idArg(req); ok {
			d, err := kb.WorkDetail(ctx, id)
			if err != nil {
				return lookupError("work", id, err), nil
			}
			cast, err := kb.WorkCast(ctx, id)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("cast error: %v", err)), nil
			}
			return jsonResult(workView{WorkDetail: d, Cast: cast})
		}
		q, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(q) == "" {
			return mcp.NewToolResultError("id or query is required"), nil
		}
		works, err := kb.SearchWorks(ctx, strings.TrimSpace(q), limitArg(req, 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		return jsonResult(works)
	})
}

// ingestSummary is what kb_ingest reports back.
type ingestSummary struct {
	RunID       string             `json:"run_id"`
	RoundsRun   int                `json:"rounds_run"`
	Executed    []string           `json:"executed"`
	Persons     int                `json:"persons"`
	Works       int                `json:"works"`
	Credits     int                `json:"credits"`
	ExternalIDs int                `json:"external_ids"`
	NextKeyword string             `json:"next_keyword,omitempty"`
	Stats       *store.IngestStats `json:"stats"`
	Log         []string           `json:"log"`
}

func registerIngestTool(s *server.MCPServer, in Ingester, domain string, rounds int) {
	tool := mcp.NewTool("kb_ingest",
		mcp.WithDescription("Research a person or work on the web and register what is found in the knowledge base. Runs synchronously; returns counts and a suggested next keyword."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Person name, work title, or an eiga.com person URL"),
		),
		mcp.WithString("domain", mcp.Description("Target domain (default: 映画)")),
		mcp.WithNumber("rounds", mcp.Description("Research rounds (default: 1, max: 5)")),
		mcp.WithString("type",
			mcp.Description("Topic type hint"),
			mcp.Enum("person", "work", "unknown"),
		),
		mcp.WithBoolean("strict", mcp.Description("Strict JSON mode without persona prompt (default: false)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		topic, err := req.RequireString("topic")
		if err != nil || strings.TrimSpace(topic) == "" {
			return mcp.NewToolResultError("topic is required"), nil
		}
		r := ingest.Request{
			Topic:  strings.TrimSpace(topic),
			Domain: domain,
			Rounds: rounds,
			Expand: true,
		}
		if d, err := req.RequireString("domain"); err == nil && strings.TrimSpace(d) != "" {
			r.Domain = strings.TrimSpace(d)
		}
		if n, err := req.RequireFloat("rounds"); err == nil && n >= 1 {
			r.Rounds = min(int(n), 5)
		}
		if t, err := req.RequireString("type"); err == nil {
			r.TopicType = t
		}
		if b, err := req.RequireBool("strict"); err == nil {
			r.Strict = b
		}
		var log []string
		r.Progress = func(line string) { log = append(log, line) }

		res, err := in.Run(ctx, r)
		if err != nil {
			if errors.Is(err, ingest.ErrEmptyTopic) {
				return mcp.NewToolResultError("topic is empty after sanitizing"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("ingest error: %v", err)), nil
		}
		c := res.Payload.Count()
		return jsonResult(ingestSummary{
			RunID:       res.RunID,
			RoundsRun:   res.RoundsRun,
			Executed:    res.Executed,
			Persons:     c.Persons,
			Works:       c.Works,
			Credits:     c.Credits,
			ExternalIDs: c.ExternalIDs,
			NextKeyword: res.NextKeyword,
			Stats:       res.Stats,
			Log:         log,
		})
	})
}

func registerCleanupTool(s *server.MCPServer, cleanup func(context.Context, bool, bool) (*store.CleanupReport, error)) {
	tool := mcp.NewTool("kb_cleanup",
		mcp.WithDescription("Merge duplicate persons and works, collapse duplicate credits and external ids, and rebuild the search index. Dry run unless exec is true."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithBoolean("exec", mcp.Description("Apply the changes (default: false, dry run)")),
		mcp.WithBoolean("vacuum", mcp.Description("VACUUM after applying (default: false)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		exec, _ := req.RequireBool("exec")
		vacuum, _ := req.RequireBool("vacuum")
		rep, err := cleanup(ctx, !exec, vacuum)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cleanup error: %v", err)), nil
		}
		return jsonResult(rep)
	})
}

// --- Helpers ---

func idArg(req mcp.CallToolRequest) (int64, bool) {
	v, err := req.RequireFloat("id")
	if err != nil || v < 1 {
		return 0, false
	}
	return int64(v), true
}

func limitArg(req mcp.CallToolRequest, def int) int {
	v, err := req.RequireFloat("limit")
	if err != nil || v < 1 {
		return def
	}
	return min(int(v), maxLimit)
}

func lookupError(kind string, id int64, err error) *mcp.CallToolResult {
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("%s %d not found", kind, id))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s lookup error: %v", kind, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
