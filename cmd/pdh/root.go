package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ankur0405/personal-documents-handler/internal/storage"
)

var (
	flagConfig  string
	flagDB      string
	flagRoot    string
	flagWorkers int
	flagDebug   bool
	flagLogJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "pdh",
	Short: "Index personal documents into a local vector store and search them",
	Long: `pdh keeps a searchable index of a folder of personal documents.

Each sync walks the document root, extracts text from new or modified files,
embeds it, and removes rows for files that no longer exist. Unchanged files
are never re-read.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(cmd.ErrOrStderr(), flagDebug, flagLogJSON))
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pdh {{.Version}}\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\nVector Extension: %v\n",
		buildTime, storage.BuildMode, storage.DriverName, storage.VectorExtensionAvailable,
	))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "settings file (default $PDH_CONFIG or ./pdh.yaml)")
	pf.StringVar(&flagDB, "db", "", "index database path (overrides paths.db_path)")
	pf.StringVar(&flagRoot, "root", "", "document root (overrides paths.root)")
	pf.IntVar(&flagWorkers, "workers", 0, "extraction workers and batch size (overrides index.workers)")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.BoolVar(&flagLogJSON, "log-json", false, "log as JSON")
}

// newLogger writes to w, never stdout: stdout carries MCP frames, worker
// frames and command results.
func newLogger(w io.Writer, debug, asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
