package main

import (
	"github.com/spf13/cobra"

	"github.com/ankur0405/personal-documents-handler/internal/httpapi"
	"github.com/ankur0405/personal-documents-handler/internal/mcp"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API for search, sync and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		addr := a.cfg.Server.Addr
		if flagAddr != "" {
			addr = flagAddr
		}
		srv := httpapi.New(httpapi.Deps{
			Indexer:  a.indexer,
			Searcher: a.searcher,
			Store:    a.store,
			Root:     a.cfg.Paths.Root,
			Logger:   a.logger,
		})
		return srv.Run(cmd.Context(), addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server on stdio exposing sync, search and status tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		srv := mcp.NewServer(mcp.Deps{
			Indexer:  a.indexer,
			Searcher: a.searcher,
			Store:    a.store,
			Root:     a.cfg.Paths.Root,
			Logger:   a.logger,
		})
		return srv.Serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}
