package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
)

var flagResetYes bool

var syncCmd = &cobra.Command{
	Use:   "sync [root]",
	Short: "Bring the index up to date with the document root",
	Long: `Walk the document root, delete rows for files that are gone, and extract,
embed and write chunks for new or modified files. Interrupting stops the run
after the batch in flight; the next sync picks up where it left off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(firstArg(args))
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.indexer.Sync(cmd.Context(), a.cfg.Paths.Root)
		if res != nil {
			printSyncResult(cmd.OutOrStdout(), res)
		}
		if errors.Is(err, context.Canceled) {
			return errors.New("sync interrupted; completed batches were kept")
		}
		return err
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Register files as metadata-only rows without extracting them",
	Long: `Record every supported file under the root with its content hash, an empty
body and a zero vector. The next sync extracts and embeds them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(firstArg(args))
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.indexer.Scan(cmd.Context(), a.cfg.Paths.Root)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Scanned %s in %s\n", res.Root, res.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  files:     %d seen, %d registered, %d already indexed\n", res.FilesSeen, res.Inserted, res.Known)
		fmt.Fprintf(w, "  duplicate: %d files repeat registered content\n", res.Duplicates)
		fmt.Fprintf(w, "  skipped:   %d\n", res.FilesSkipped)
		return nil
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove duplicate and superseded rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.indexer.Dedupe(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate rows\n", n)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every row, skip record and the pinned embedding settings",
	Long: `Empty the index. Required after changing the embedding model, dimension
or metric, since the index refuses vectors that do not match the ones it
was built with.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagResetYes {
			return errors.New("reset deletes the whole index; pass --yes to confirm")
		}
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.store.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Index at %s reset\n", a.cfg.DBPath())
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&flagResetYes, "yes", false, "confirm deleting the index")
	rootCmd.AddCommand(syncCmd, scanCmd, dedupeCmd, resetCmd)
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// printSyncResult reports every counter so that a run with no changes is
// distinguishable from a run whose failures hid changes.
func printSyncResult(w io.Writer, res *indexer.SyncResult) {
	fmt.Fprintf(w, "Synced %s in %s (run %s)\n", res.Root, res.Duration.Round(time.Millisecond), res.RunID)
	if res.FullReindex {
		fmt.Fprintln(w, "  full reindex: index was emptied and rebuilt")
	}
	fmt.Fprintf(w, "  written:     %d chunks from %d files (%d modified)\n", res.ChunksWritten, res.FilesIndexed, res.FilesReindexed)
	fmt.Fprintf(w, "  deleted:     %d files, %d rows\n", res.FilesDeleted, res.RowsDeleted)
	fmt.Fprintf(w, "  unchanged:   %d files\n", res.Unchanged)
	fmt.Fprintf(w, "  skipped:     %d files, %d duplicates of indexed content\n", res.FilesSkipped, res.DuplicateContent)
	fmt.Fprintf(w, "  collapsed:   %d duplicate rows\n", res.DuplicatesRemoved)
	fmt.Fprintf(w, "  failed:      %d files, %d batches\n", res.FilesFailed, res.BatchesFailed)

	switch {
	case res.FilesFailed > 0 || res.BatchesFailed > 0:
		fmt.Fprintln(w, "Completed with failures; failed files are retried on the next sync.")
		for _, msg := range res.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	case !res.Changed():
		fmt.Fprintln(w, "No changes.")
	}
}
