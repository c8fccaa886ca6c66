package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankur0405/personal-documents-handler/internal/config"
	"github.com/ankur0405/personal-documents-handler/internal/extract"
	"github.com/ankur0405/personal-documents-handler/internal/workerpool"
)

// extractWorkerCmd is started by the process pool, one per worker. It reads
// extraction requests on stdin and answers on stdout until stdin closes.
var extractWorkerCmd = &cobra.Command{
	Use:    workerCommand,
	Short:  "Serve extraction requests on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only the extractor settings matter here; the parent validated the rest.
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		table, err := extract.NewTable(cfg.Extensions)
		if err != nil {
			return err
		}

		logger := slog.Default().With("worker_pid", os.Getpid())
		d := newDispatcher(cfg, table, logger)
		defer func() { _ = d.Close() }()

		if err := workerpool.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), d); err != nil {
			return fmt.Errorf("extract worker: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractWorkerCmd)
}
