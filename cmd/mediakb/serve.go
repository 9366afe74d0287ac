package main

import (
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/mcp"
	"github.com/hurttlocker/mediakb/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves read endpoints over the knowledge base, background ingest jobs,
cleanup and Prometheus metrics. Ctrl-C stops running jobs at their next
round and waits for their commits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := a.newOrchestrator(st)
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				KB:       st,
				Ingester: orch,
				Cleanup:  a.cleanup,
				Defaults: server.IngestDefaults{
					Domain:      a.domain(),
					Rounds:      a.cfg.Ingest.Rounds,
					AutoNextMax: a.cfg.Ingest.AutoNextMax,
					Strict:      a.cfg.Ingest.Strict,
					Expand:      a.cfg.Ingest.ExpandEnabled(),
				},
				Logger: a.log.Named("http"),
			})
			// jobs commit before the store closes
			defer srv.Wait()
			return srv.ListenAndServe(cmd.Context(), a.cfg.Listen.Value)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default 127.0.0.1:8088)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the knowledge base as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := a.newOrchestrator(st)
			if err != nil {
				return err
			}
			s := mcp.NewServer(mcp.ServerConfig{
				KB:       st,
				Ingester: orch,
				Cleanup:  a.cleanup,
				Domain:   a.domain(),
				Rounds:   a.cfg.Ingest.Rounds,
				Version:  version,
			})
			stdio := mcpserver.NewStdioServer(s)
			stdio.SetErrorLogger(zap.NewStdLog(a.log))
			a.log.Info("mcp server ready", zap.String("db", st.Path()))
			return stdio.Listen(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
