package admin

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/jobs"
	"github.com/cloo-solutions/creditrust/internal/logger"
	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/cloo-solutions/creditrust/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// IngestCmd embeds the chunked dataset into the vector store.
func IngestCmd() *cobra.Command {
	var (
		src       string
		batchSize int
		watch     time.Duration
		follow    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed chunked complaints into the vector store",
		Long: `Embeds every chunk not yet recorded in the checkpoint ledger and writes it
to the vector store, batch by batch. Interrupted runs resume where they stopped.

--watch re-runs at a fixed interval; --follow re-runs whenever a local source
file changes. Both keep running until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := cli.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer rt.Close()

			if cmd.Flags().Changed("batch-size") {
				rt.Config.BatchSize = batchSize
			}

			a, err := rt.App(ctx)
			if err != nil {
				return err
			}
			ingestion, err := a.Ingestion()
			if err != nil {
				return err
			}
			store, err := a.OpenStore(ctx, true)
			if err != nil {
				return err
			}
			defer store.Close()

			source := a.ChunkSource(src)
			if follow && storage.IsURI(source.Location()) {
				return domain.NewConfigurationError("source", "--follow needs a local file")
			}

			workerLog := logger.Component(rt.Log, "ingest")
			processor := jobs.NewIngestWorker(ingestion, source, store, a.Ledger(), rt.Config.BatchSize, workerLog)

			if watch <= 0 && !follow {
				err := processor.ProcessJobs(ctx)
				if report := processor.LastReport(); report != nil {
					printReport(cmd.OutOrStdout(), report)
				}
				return err
			}

			return runContinuous(ctx, processor, source.Location(), watch, follow, workerLog)
		},
	}

	cmd.Flags().StringVarP(&src, "source", "s", "", "Chunked dataset location (default CREDITRUST_CHUNKED_PATH)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Records per batch (default CREDITRUST_BATCH_SIZE)")
	cmd.Flags().DurationVar(&watch, "watch", 0, "Re-run at this interval")
	cmd.Flags().BoolVar(&follow, "follow", false, "Re-run when the source file changes")
	cli.OverridesEnv(cmd, "source", "CREDITRUST_CHUNKED_PATH")
	cli.OverridesEnv(cmd, "batch-size", "CREDITRUST_BATCH_SIZE")

	return cmd
}

func runContinuous(ctx context.Context, processor jobs.JobProcessor, location string, interval time.Duration, follow bool, log zerolog.Logger) error {
	if interval <= 0 {
		// Follow-only runs still poll in case an event is missed.
		interval = time.Hour
	}
	worker := jobs.NewWorker(processor, interval, jobs.WithWorkerLogger(log), jobs.WithRunOnStart())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 1)
	if follow {
		watcher := jobs.NewFileWatcher(location, worker, jobs.DefaultDebounce, log)
		go func() {
			err := watcher.Run(ctx)
			errs <- err
			if err != nil {
				cancel()
			}
		}()
	}

	worker.Start(ctx)

	if follow {
		return <-errs
	}
	return nil
}

func printReport(w io.Writer, r *service.IngestReport) {
	fmt.Fprintf(w, "records:          %d\n", r.Total)
	fmt.Fprintf(w, "already ingested: %d\n", r.AlreadyIngested)
	fmt.Fprintf(w, "written:          %d\n", r.Written)
	fmt.Fprintf(w, "batches:          %d (written %d, skipped %d, invalid %d, failed %d)\n",
		r.Batches, r.BatchesWritten, r.BatchesSkipped, r.BatchesInvalid, r.BatchesFailed)
}
