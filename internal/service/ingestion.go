package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/metrics"
	"github.com/cloo-solutions/creditrust/internal/telemetry"
	"github.com/rs/zerolog"
)

// Embedder maps text to vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists embedded chunks and answers top-k similarity queries.
// Upsert is atomic per call and keyed by chunk id. An empty product searches
// the whole collection.
type VectorStore interface {
	Upsert(ctx context.Context, docs []domain.EmbeddedDocument) error
	Search(ctx context.Context, embedding []float32, topK int, product string) ([]domain.RetrievedDocument, error)
	Count(ctx context.Context) (int, error)
}

// Ledger is the durable set of chunk ids already written to the store.
type Ledger interface {
	Load() (map[string]struct{}, error)
	Append(ids []string) error
}

// RecordSource yields chunk records in file order, batchSize at a time.
// Scan may be called more than once and restarts from the first record.
type RecordSource interface {
	Scan(ctx context.Context, batchSize int, fn func(batch []domain.ChunkRecord) error) error
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Total           int
	AlreadyIngested int
	Remaining       int
	Written         int
	Batches         int
	BatchesWritten  int
	BatchesSkipped  int
	BatchesInvalid  int
	BatchesFailed   int
}

// IngestionService embeds chunk records into a vector store, resuming from a
// checkpoint ledger.
type IngestionService struct {
	embedder   Embedder
	log        zerolog.Logger
	metrics    *metrics.Metrics
	collection string
}

type IngestOption func(*IngestionService)

func WithIngestLogger(log zerolog.Logger) IngestOption {
	return func(s *IngestionService) { s.log = log }
}

func WithIngestMetrics(m *metrics.Metrics) IngestOption {
	return func(s *IngestionService) { s.metrics = m }
}

// WithCollection tags spans and logs with the target collection name.
func WithCollection(name string) IngestOption {
	return func(s *IngestionService) { s.collection = name }
}

func NewIngestionService(embedder Embedder, opts ...IngestOption) *IngestionService {
	s := &IngestionService{
		embedder: embedder,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest writes every record of source that the ledger does not already hold.
//
// The ledger is read once. A batch with missing fields is skipped with a
// warning. A batch whose embed or write fails is left out of the ledger and
// the run moves on. The ledger is appended only after the store write for
// that batch succeeded. An unavailable store or a failed ledger append aborts
// the run. The report is returned even when the run aborts.
func (s *IngestionService) Ingest(ctx context.Context, source RecordSource, store VectorStore, ledger Ledger, batchSize int) (*IngestReport, error) {
	if batchSize <= 0 {
		return nil, domain.NewConfigurationError("batch_size", "must be positive")
	}

	done, err := ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint ledger: %w", err)
	}

	report := &IngestReport{}
	err = source.Scan(ctx, batchSize, func(batch []domain.ChunkRecord) error {
		for _, r := range batch {
			report.Total++
			if _, ok := done[r.ChunkID]; ok {
				report.AlreadyIngested++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk source: %w", err)
	}
	report.Remaining = report.Total - report.AlreadyIngested

	s.log.Info().
		Str("collection", s.collection).
		Int("total", report.Total).
		Int("already_ingested", report.AlreadyIngested).
		Int("remaining", report.Remaining).
		Msg("ingestion starting")

	if report.Remaining == 0 {
		s.log.Info().Msg("all chunks already ingested, nothing to do")
		return report, nil
	}

	err = source.Scan(ctx, batchSize, func(batch []domain.ChunkRecord) error {
		report.Batches++
		return s.ingestBatch(ctx, report.Batches, batch, store, ledger, done, report)
	})

	s.log.Info().
		Int("written", report.Written).
		Int("batches", report.Batches).
		Int("batches_skipped", report.BatchesSkipped).
		Int("batches_invalid", report.BatchesInvalid).
		Int("batches_failed", report.BatchesFailed).
		Err(err).
		Msg("ingestion finished")

	return report, err
}

func (s *IngestionService) ingestBatch(
	ctx context.Context,
	n int,
	batch []domain.ChunkRecord,
	store VectorStore,
	ledger Ledger,
	done map[string]struct{},
	report *IngestReport,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := s.log.With().Int("batch", n).Int("records", len(batch)).Logger()

	if err := validateBatch(batch); err != nil {
		report.BatchesInvalid++
		s.metrics.RecordBatch(metrics.OutcomeInvalid, 0)
		log.Warn().Err(err).Msg("skipping batch with missing fields")
		return nil
	}

	pending := pendingRecords(batch, done)
	if len(pending) == 0 {
		report.BatchesSkipped++
		s.metrics.RecordBatch(metrics.OutcomeSkipped, 0)
		log.Debug().Msg("batch already ingested")
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "ingest.batch", telemetry.SpanAttributes{
		Collection: s.collection,
		Batch:      n,
		Operation:  "embed_and_upsert",
	})
	defer span.End()
	span.SetData("pending", len(pending))

	texts := make([]string, len(pending))
	for i, r := range pending {
		texts[i] = r.ChunkText
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(embeddings) != len(pending) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(pending))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.failBatch(log, span, report, "embedding failed, batch left for the next run", err)
	}

	docs := make([]domain.EmbeddedDocument, len(pending))
	ids := make([]string, len(pending))
	for i, r := range pending {
		docs[i] = domain.NewEmbeddedDocument(r, embeddings[i])
		ids[i] = r.ChunkID
	}

	if err := store.Upsert(ctx, docs); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			span.SetError(err)
			report.BatchesFailed++
			s.metrics.RecordBatch(metrics.OutcomeFailed, 0)
			return fmt.Errorf("batch %d: %w", n, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.failBatch(log, span, report, "vector store write failed, batch left for the next run", err)
	}

	if err := ledger.Append(ids); err != nil {
		span.SetError(err)
		return fmt.Errorf("batch %d written but checkpoint append failed: %w", n, err)
	}
	for _, id := range ids {
		done[id] = struct{}{}
	}

	report.Written += len(ids)
	report.BatchesWritten++
	s.metrics.RecordBatch(metrics.OutcomeWritten, len(ids))
	log.Info().Int("written", len(ids)).Int("total_written", report.Written).Msg("batch ingested")

	return nil
}

func (s *IngestionService) failBatch(log zerolog.Logger, span *telemetry.Span, report *IngestReport, msg string, err error) error {
	report.BatchesFailed++
	s.metrics.RecordBatch(metrics.OutcomeFailed, 0)
	span.SetError(err)
	log.Error().Err(err).Msg(msg)
	return nil
}

// validateBatch rejects a batch if any record lacks a required field.
func validateBatch(batch []domain.ChunkRecord) error {
	for i, r := range batch {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// pendingRecords drops records already in done. Within the batch a repeated
// id keeps its first position and its last content.
func pendingRecords(batch []domain.ChunkRecord, done map[string]struct{}) []domain.ChunkRecord {
	pending := make([]domain.ChunkRecord, 0, len(batch))
	index := make(map[string]int, len(batch))
	for _, r := range batch {
		if _, ok := done[r.ChunkID]; ok {
			continue
		}
		if i, seen := index[r.ChunkID]; seen {
			pending[i] = r
			continue
		}
		index[r.ChunkID] = len(pending)
		pending = append(pending, r)
	}
	return pending
}
