package main

import (
	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/mcpserver"
)

func newServeCmd(appFn appProvider) *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scribe as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			if background {
				stop := a.startBackground(cmd.Context())
				defer stop()
			}

			s := mcpserver.New(version, mcpserver.Deps{
				Orchestrator: a.orchestrator,
				Router:       a.router,
				Doctor:       a.doctor,
				Compactor:    a.engine,
				SaveStrategy: a.saveStrategy,
				Logger:       a.logger,
			})
			a.logger.Info("serving MCP over stdio", "version", version)
			return mcpserver.Serve(s)
		},
	}
	cmd.Flags().BoolVar(&background, "supervise", true, "run Doctor supervision and periodic compaction while serving")
	return cmd
}
