package main

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pinpoint/annotator"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr, mcpPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a session and serve its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if mcpPath != "" {
				cfg.HTTP.MCPPath = mcpPath
			}
			rt, err := annotator.Start(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Serve(cmd.Context(), version)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&mcpPath, "mcp-path", "", "mount MCP over streamable HTTP at this path")
	return cmd
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run a session and serve its MCP tools on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			go func() {
				if err := rt.Session.Run(cmd.Context()); err != nil {
					slog.Error("pinpoint: tracker stopped", "error", err)
				}
			}()
			srv := annotator.NewMCPServer(rt.Session, version)
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
