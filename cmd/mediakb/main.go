package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/config"
	"github.com/hurttlocker/mediakb/internal/ingest"
	"github.com/hurttlocker/mediakb/internal/logging"
	"github.com/hurttlocker/mediakb/internal/store"
	"github.com/hurttlocker/mediakb/internal/web"
)

const version = "0.3.0"

// app carries global flags and what PersistentPreRunE derives from them.
type app struct {
	configPath string
	dbPath     string
	llm        string
	logDir     string
	logMode    string
	verbose    bool

	out io.Writer
	cfg config.ResolvedConfig
	log *zap.Logger

	// test overrides; nil means the real web search and fetcher
	planner ingest.Planner
	fetcher web.Getter
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	return newApp(out).rootCmd()
}

func newApp(out io.Writer) *app { return &app{out: out} }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediakb",
		Short: "Build a Japanese film and drama knowledge base from the web",
		Long: `mediakb searches the web for a person or title, asks an LLM to extract
persons, works and credits from what it finds, and stores the result in a
local SQLite knowledge base.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.mediakb/config.yaml)")
	pf.StringVar(&a.dbPath, "db", "", "knowledge base path")
	pf.StringVar(&a.llm, "llm", "", "default LLM as provider/model")
	pf.StringVar(&a.logDir, "log-dir", "", "directory for run artifacts")
	pf.StringVar(&a.logMode, "log-format", logging.ModeDev, "log output: dev or prod")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newIngestCmd(a),
		newCleanupCmd(a),
		newNormalizeCmd(a),
		newInitCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newPersonCmd(a),
		newWorkCmd(a),
		newSearchCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	listen := ""
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		listen = f.Value.String()
	}
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: a.configPath,
		CLILLM:     a.llm,
		CLIDBPath:  a.dbPath,
		CLILogDir:  a.logDir,
		CLIListen:  listen,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	opts := logging.Options{Mode: a.logMode, Verbose: a.verbose}
	// stdout carries the MCP protocol
	if cmd.Name() == "mcp" {
		opts.Mode = logging.ModeProd
		opts.OutputPaths = []string{"stderr"}
	}
	a.log, err = logging.New(opts)
	if err != nil {
		return err
	}
	return nil
}

// openStore opens the configured knowledge base, creating it if needed.
func (a *app) openStore() (*store.SQLiteStore, error) {
	st, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value, Logger: a.log})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.cfg.DBPath.Value, err)
	}
	return st, nil
}

// cleanup adapts store.RunCleanup to the front-ends' callback shape.
func (a *app) cleanup(ctx context.Context, dryRun, vacuum bool) (*store.CleanupReport, error) {
	return store.RunCleanup(ctx, store.CleanupOptions{
		DBPath: a.cfg.DBPath.Value,
		DryRun: dryRun,
		Vacuum: vacuum,
		Logger: a.log,
	})
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "mediakb %s\n", version)
		},
	}
}
