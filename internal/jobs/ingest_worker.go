package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/rs/zerolog"
)

// Ingester runs one checkpointed ingestion pass.
type Ingester interface {
	Ingest(ctx context.Context, source service.RecordSource, store service.VectorStore, ledger service.Ledger, batchSize int) (*service.IngestReport, error)
}

// IngestWorker re-runs ingestion over the same source, store and ledger.
// Each run picks up only records the ledger does not hold yet.
type IngestWorker struct {
	ingester  Ingester
	source    service.RecordSource
	store     service.VectorStore
	ledger    service.Ledger
	batchSize int
	log       zerolog.Logger

	mu         sync.Mutex
	lastReport *service.IngestReport
	failures   int
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(ingester Ingester, source service.RecordSource, store service.VectorStore, ledger service.Ledger, batchSize int, log zerolog.Logger) *IngestWorker {
	return &IngestWorker{
		ingester:  ingester,
		source:    source,
		store:     store,
		ledger:    ledger,
		batchSize: batchSize,
		log:       log,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	report, err := w.ingester.Ingest(ctx, w.source, w.store, w.ledger, w.batchSize)

	w.mu.Lock()
	defer w.mu.Unlock()

	if report != nil {
		w.lastReport = report
	}
	if err != nil {
		w.failures++
		w.log.Warn().Err(err).Int("consecutive_failures", w.failures).Msg("ingestion run failed, will retry on next tick")
		return fmt.Errorf("ingestion run failed (attempt %d): %w", w.failures, err)
	}

	w.failures = 0
	if report != nil && report.Written > 0 {
		w.log.Info().Int("written", report.Written).Int("total", report.Total).Msg("ingestion run complete")
	}
	return nil
}

// LastReport returns the report of the most recent run, or nil.
func (w *IngestWorker) LastReport() *service.IngestReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReport
}

// ConsecutiveFailures counts failed runs since the last success.
func (w *IngestWorker) ConsecutiveFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}
