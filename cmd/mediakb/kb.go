package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/mediakb/internal/store"
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printLogs(lines []string) {
	for _, ln := range lines {
		fmt.Fprintln(a.out, ln)
	}
}

func newInitCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the knowledge base schema",
		Long: `Creates the database and schema if missing. With --reset, the existing
database is backed up (the newest 3 backups are kept) and recreated empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := store.InitDB(cmd.Context(), store.InitOptions{
				DBPath: a.cfg.DBPath.Value,
				Reset:  reset,
				Logger: a.log,
			})
			if err != nil {
				return err
			}
			a.printLogs(report.Logs)
			c := report.Counts
			fmt.Fprintf(a.out, "%s: %d persons, %d works, %d credits\n", report.DBPath, c.Persons, c.Works, c.Credits)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "back up and recreate the database")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var exec, vacuum, asJSON bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Merge duplicate persons, works and credits",
		Long: `Finds duplicate rows left by repeated ingestion and merges them. Without
--exec it only reports what would change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.cleanup(cmd.Context(), !exec, vacuum)
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(report)
			}
			a.printLogs(report.Logs)
			if report.DryRun {
				fmt.Fprintln(a.out, "Re-run with --exec to apply.")
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&exec, "exec", false, "write the changes (after a backup)")
	fl.BoolVar(&vacuum, "vacuum", false, "VACUUM after an applied cleanup")
	fl.BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newNormalizeCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Re-normalize stored titles, names and roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := st.NormalizeKB(cmd.Context(), store.NormalizeOptions{DryRun: !apply})
			if err != nil {
				return err
			}
			if report.BackupPath != "" {
				fmt.Fprintf(a.out, "Backup: %s\n", report.BackupPath)
			}
			fmt.Fprintf(a.out, "Works:   %d/%d changed\n", report.WorksChanged, report.Works)
			fmt.Fprintf(a.out, "Persons: %d/%d changed, %d deleted\n", report.PersonsChanged, report.Persons, report.PersonsDeleted)
			fmt.Fprintf(a.out, "Aliases: %d/%d changed\n", report.AliasesChanged, report.Aliases)
			fmt.Fprintf(a.out, "Credits: %d/%d changed\n", report.CreditsChanged, report.Credits)
			if report.DryRun {
				fmt.Fprintln(a.out, "Dry-run: re-run with --apply to write.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write the changes (after a backup)")
	return cmd
}

type lookupFlags struct {
	limit  int
	asJSON bool
}

func (f *lookupFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 20, "maximum results")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
}

func newPersonCmd(a *app) *cobra.Command {
	var f lookupFlags
	cmd := &cobra.Command{
		Use:   "person <keyword|id>",
		Short: "Find persons, or show one person's credits by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			kw := strings.Join(args, " ")
			if id, err := strconv.ParseInt(kw, 10, 64); err == nil {
				d, err := st.PersonDetail(ctx, id)
				if err != nil {
					return err
				}
				credits, err := st.PersonCredits(ctx, id)
				if err != nil {
					return err
				}
				if f.asJSON {
					return a.printJSON(map[string]any{"person": d, "credits": credits})
				}
				fmt.Fprintf(a.out, "[%d] %s%s\n", d.ID, d.Name, yearSuffix(d.BirthYear))
				if len(d.Aliases) > 0 {
					fmt.Fprintf(a.out, "  aliases: %s\n", strings.Join(d.Aliases, ", "))
				}
				for _, c := range credits {
					fmt.Fprintf(a.out, "  %s%s  %s%s\n", c.Title, yearSuffix(c.Year), c.Role, characterSuffix(c.Character))
				}
				return nil
			}

			persons, err := st.SearchPersons(ctx, kw, f.limit)
			if err != nil {
				return err
			}
			if f.asJSON {
				return a.printJSON(persons)
			}
			if len(persons) == 0 {
				fmt.Fprintln(a.out, "No persons found.")
			}
			for _, p := range persons {
				fmt.Fprintf(a.out, "[%d] %s%s\n", p.ID, p.Name, yearSuffix(p.BirthYear))
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newWorkCmd(a *app) *cobra.Command {
	var f lookupFlags
	cmd := &cobra.Command{
		Use:   "work <keyword|id>",
		Short: "Find works, or show one work's cast by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			kw := strings.Join(args, " ")
			if id, err := strconv.ParseInt(kw, 10, 64); err == nil {
				d, err := st.WorkDetail(ctx, id)
				if err != nil {
					return err
				}
				cast, err := st.WorkCast(ctx, id)
				if err != nil {
					return err
				}
				if f.asJSON {
					return a.printJSON(map[string]any{"work": d, "cast": cast})
				}
				fmt.Fprintf(a.out, "[%d] %s%s  %s\n", d.ID, d.Title, yearSuffix(d.Year), d.Category)
				for _, c := range cast {
					fmt.Fprintf(a.out, "  %s  %s%s\n", c.Name, c.Role, characterSuffix(c.Character))
				}
				return nil
			}

			works, err := st.SearchWorks(ctx, kw, f.limit)
			if err != nil {
				return err
			}
			if f.asJSON {
				return a.printJSON(works)
			}
			if len(works) == 0 {
				fmt.Fprintln(a.out, "No works found.")
			}
			for _, w := range works {
				fmt.Fprintf(a.out, "[%d] %s%s  %s\n", w.ID, w.Title, yearSuffix(w.Year), w.Category)
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var f lookupFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over names, titles and roles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			hits, err := st.SearchFTS(cmd.Context(), strings.Join(args, " "), f.limit)
			if err != nil {
				return err
			}
			if f.asJSON {
				return a.printJSON(hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(a.out, "No results.")
			}
			for _, h := range hits {
				fmt.Fprintf(a.out, "%-6s %4d  %s\n", h.Kind, h.RefID, h.Snippet)
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func yearSuffix(y int) string {
	if y <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%d)", y)
}

func characterSuffix(c string) string {
	if c == "" {
		return ""
	}
	return " as " + c
}
