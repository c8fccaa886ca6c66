package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
)

const snippetLen = 240

var flagLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search indexed documents with a natural language query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		query := strings.Join(args, " ")
		resp, err := a.searcher.Search(cmd.Context(), searcher.SearchRequest{Query: query, Limit: flagLimit})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(resp.Results) == 0 {
			fmt.Fprintf(w, "No results for %q\n", query)
			return nil
		}
		for i, hit := range resp.Results {
			fmt.Fprintf(w, "%d. %s (page %d)  score %.3f\n", i+1, hit.Filename, hit.PageNumber, hit.Score)
			fmt.Fprintf(w, "   %s\n", hit.FilePath)
			fmt.Fprintf(w, "   %s\n\n", snippet(hit.Content))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics and the last sync run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		status, err := a.store.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), a.cfg.Paths.Root, a.cfg.DBPath(), status)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	rootCmd.AddCommand(searchCmd, statusCmd)
}

func printStatus(w io.Writer, root, dbPath string, s *storage.Status) {
	fmt.Fprintf(w, "Root:       %s\n", root)
	fmt.Fprintf(w, "Database:   %s (%.2f MB, %s build)\n", dbPath, s.SizeMB, s.BuildMode)
	if s.Settings != nil {
		fmt.Fprintf(w, "Embedding:  %s, %d dims, %s metric\n", s.Settings.Model, s.Settings.Dimension, s.Settings.Metric)
	} else {
		fmt.Fprintln(w, "Embedding:  not pinned yet (no sync has run)")
	}
	fmt.Fprintf(w, "Rows:       %d across %d files (%d embedded, %d pending)\n", s.Records, s.Files, s.Embedded, s.Pending)
	fmt.Fprintf(w, "Skipped:    %d files\n", s.SkippedFiles)

	run := s.LastRun
	if run == nil {
		fmt.Fprintln(w, "Last sync:  never")
		return
	}
	fmt.Fprintf(w, "Last sync:  %s, started %s\n", run.Status, run.StartedAt.Local().Format(time.DateTime))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "            took %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "            %d chunks written, %d files indexed, %d deleted, %d skipped, %d failed\n",
		run.ChunksWritten, run.FilesIndexed, run.FilesDeleted, run.FilesSkipped, run.FilesFailed)
	if run.Error != "" {
		fmt.Fprintf(w, "            error: %s\n", run.Error)
	}
}

// snippet collapses whitespace and truncates on a rune boundary.
func snippet(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "..."
}
