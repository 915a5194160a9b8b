package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/mcp"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the stepflow MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			srv, err := mcp.NewServer(mcp.ServerDeps{
				Loader:       a.loader,
				Store:        a.registry(s),
				Renderer:     a.renderer(),
				BuildOptions: a.buildOptions(),
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}

			a.logger.InfoContext(ctx, "stepflow MCP server listening on stdio", "db", a.cfg.DBPath)
			return srv.Serve(ctx)
		},
	}
}
