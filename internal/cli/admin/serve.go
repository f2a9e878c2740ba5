package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/creditrust/internal/api/handlers"
	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/jobs"
	"github.com/cloo-solutions/creditrust/internal/logger"
	"github.com/cloo-solutions/creditrust/internal/server"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the question answering API on the specified port.

With --ingest-interval the chunked dataset is re-ingested in the background;
only chunks missing from the checkpoint ledger are embedded.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CREDITRUST_PORT)")
	cmd.Flags().Duration("ingest-interval", 0, "Re-ingest the chunked dataset at this interval (0 disables)")
	cli.OverridesEnv(cmd, "port", "CREDITRUST_PORT")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cli.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer rt.Close()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		rt.Config.Port = port
	}
	interval, _ := cmd.Flags().GetDuration("ingest-interval")

	a, err := rt.App(ctx)
	if err != nil {
		return err
	}

	store, err := a.OpenStore(ctx, interval > 0)
	if err != nil {
		return err
	}
	defer store.Close()

	assistant, err := a.Assistant(store)
	if err != nil {
		return err
	}

	var worker *jobs.Worker
	if interval > 0 {
		ingestion, err := a.Ingestion()
		if err != nil {
			return err
		}
		workerLog := logger.Component(rt.Log, "ingest_worker")
		processor := jobs.NewIngestWorker(ingestion, a.ChunkSource(""), store, a.Ledger(), rt.Config.BatchSize, workerLog)
		worker = jobs.NewWorker(processor, interval, jobs.WithWorkerLogger(workerLog), jobs.WithRunOnStart())
		go worker.Start(ctx)
	}

	router := server.NewRouter(server.RouterConfig{
		AskHandler: handlers.NewAskHandler(assistant, store, rt.Config.ProductChoices(), rt.Config.Collection),
		Logger:     logger.Component(rt.Log, "http"),
		Gatherer:   a.Registry,
		Collection: rt.Config.Collection,
	})

	srv := &http.Server{
		Addr:              ":" + rt.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.Log.Info().Str("port", rt.Config.Port).Str("backend", rt.Config.StoreBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	rt.Log.Info().Msg("shutting down...")

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	rt.Log.Info().Msg("server exited")
	return nil
}
