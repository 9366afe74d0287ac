package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/mediakb/internal/ingest"
	"github.com/hurttlocker/mediakb/internal/persona"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/store"
	"github.com/hurttlocker/mediakb/internal/web"
)

const defaultDomain = "映画"

// newOrchestrator wires the ingester over st from the resolved config.
func (a *app) newOrchestrator(st *store.SQLiteStore) (*ingest.Orchestrator, error) {
	planner := a.planner
	if planner == nil {
		planner = search.NewPlanner(search.PlannerOptions{
			DumpDir: a.cfg.LogDir.Value,
			Logger:  a.log.Named("search"),
		})
	}
	fetcher := a.fetcher
	if fetcher == nil {
		fetcher = web.NewFetcher(web.FetcherOptions{Logger: a.log.Named("fetch")})
	}
	return ingest.New(ingest.Options{
		Planner:     planner,
		Fetcher:     fetcher,
		Personas:    persona.FromConfig(a.cfg, a.log.Named("persona")),
		KB:          st,
		Logger:      a.log.Named("ingest"),
		ArtifactDir: a.cfg.LogDir.Value,
	})
}

func (a *app) domain() string {
	if d := strings.TrimSpace(a.cfg.Ingest.Domain); d != "" {
		return d
	}
	return defaultDomain
}

type ingestFlags struct {
	domain   string
	rounds   int
	noExpand bool
	strict   bool
	topic    string
	autoNext int
	asJSON   bool
}

func newIngestCmd(a *app) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <topic>",
		Short: "Search, extract and store one topic",
		Long: `Runs search and extraction rounds for a person name, a title or an
eiga.com person URL, then commits the merged result to the knowledge base.

Examples:
  mediakb ingest 吉沢亮 --rounds 2
  mediakb ingest https://eiga.com/person/12345/ --strict`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIngest(cmd, strings.Join(args, " "), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.domain, "domain", "", "domain label (default from config, else 映画)")
	fl.IntVar(&f.rounds, "rounds", 0, "round bound before auto-continuation (default from config)")
	fl.BoolVar(&f.noExpand, "no-expand", false, "do not follow suggested queries")
	fl.BoolVar(&f.strict, "strict", false, "skip personas and the strict retry")
	fl.StringVar(&f.topic, "type", "", "topic type: person or work (default inferred)")
	fl.IntVar(&f.autoNext, "auto-next", -1, "rounds allowed after the first while queries remain (default from config)")
	fl.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, topic string, f ingestFlags) error {
	switch f.topic {
	case "", ingest.TypePerson, ingest.TypeWork, ingest.TypeUnknown:
	default:
		return fmt.Errorf("--type must be person or work, got %q", f.topic)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := a.newOrchestrator(st)
	if err != nil {
		return err
	}

	req := ingest.Request{
		Topic:       topic,
		Domain:      f.domain,
		Rounds:      f.rounds,
		Expand:      a.cfg.Ingest.ExpandEnabled() && !f.noExpand,
		Strict:      f.strict || a.cfg.Ingest.Strict,
		TopicType:   f.topic,
		AutoNextMax: f.autoNext,
	}
	if req.Domain == "" {
		req.Domain = a.domain()
	}
	if req.Rounds <= 0 {
		req.Rounds = a.cfg.Ingest.Rounds
	}
	if req.AutoNextMax < 0 {
		req.AutoNextMax = a.cfg.Ingest.AutoNextMax
	}
	if !f.asJSON {
		req.Progress = func(line string) { fmt.Fprintln(a.out, line) }
	}

	res, err := orch.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	if f.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	s := res.Stats
	fmt.Fprintf(a.out, "\nRun %s: %d round(s), %d payload(s)\n", res.RunID, res.RoundsRun, res.Collected)
	fmt.Fprintf(a.out, "  Persons:  %d new, %d matched\n", s.PersonsCreated, s.PersonsMatched)
	fmt.Fprintf(a.out, "  Works:    %d new, %d matched\n", s.WorksCreated, s.WorksMatched)
	fmt.Fprintf(a.out, "  Credits:  %d new, %d existing\n", s.CreditsCreated, s.CreditsExisting)
	if res.Cancelled {
		fmt.Fprintln(a.out, "  Stopped early; collected data was committed.")
	}
	return nil
}
