// Package app wires configuration into the services used by the commands
// and the HTTP server.
package app

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/creditrust/internal/checkpoint"
	"github.com/cloo-solutions/creditrust/internal/config"
	"github.com/cloo-solutions/creditrust/internal/database"
	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/logger"
	"github.com/cloo-solutions/creditrust/internal/metrics"
	"github.com/cloo-solutions/creditrust/internal/openai"
	"github.com/cloo-solutions/creditrust/internal/repository"
	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/cloo-solutions/creditrust/internal/source"
	"github.com/cloo-solutions/creditrust/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"
)

// Store is a vector store that owns a connection.
type Store interface {
	service.VectorStore
	Close() error
}

// Model is the embedding and generation endpoint.
type Model interface {
	service.Embedder
	service.TextGenerator
}

// App holds the shared dependencies of one process.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Locations source.Locations

	model Model
}

type Option func(*App)

// WithModel replaces the OpenAI client, mostly for tests.
func WithModel(m Model) Option {
	return func(a *App) { a.model = m }
}

// WithObjectStore replaces the S3 client used for s3:// locations.
func WithObjectStore(objects source.ObjectStore) Option {
	return func(a *App) { a.Locations = source.Locations{Objects: objects} }
}

// New validates cfg and builds the shared dependencies. The model client and
// the store are built on demand since not every command needs them.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		Metrics:  metrics.New(registry),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Locations.Objects == nil && cfg.HasS3() {
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		a.Locations = source.Locations{Objects: client}
		log.Debug().Str("endpoint", cfg.S3Endpoint).Msg("object storage configured")
	}

	return a, nil
}

// Model returns the embedding and generation client.
func (a *App) Model() (Model, error) {
	if a.model != nil {
		return a.model, nil
	}
	if err := a.Config.RequireOpenAI(); err != nil {
		return nil, err
	}
	a.model = openai.NewClientWithConfig(openai.Config{
		APIKey:              a.Config.OpenAIAPIKey,
		BaseURL:             a.Config.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(a.Config.EmbeddingModel),
		EmbeddingDimensions: a.Config.EmbeddingDimensions,
		GenerationModel:     a.Config.GenerationModel,
		MaxTokens:           a.Config.GenerationMaxTokens,
		RequestsPerSecond:   a.Config.OpenAIRequestsPerSecond,
		Burst:               a.Config.OpenAIBurst,
	})
	return a.model, nil
}

// OpenStore connects to the configured backend. With create false a missing
// sqlite index is reported as StoreUnavailable. With create true the
// pgvector schema is migrated first.
func (a *App) OpenStore(ctx context.Context, create bool) (Store, error) {
	switch a.Config.StoreBackend {
	case config.BackendPgVector:
		if create {
			if _, err := database.Migrate(a.Config.DatabaseURL, a.Config.MigrationsPath, a.Log); err != nil {
				return nil, domain.NewStoreUnavailableError("failed to migrate vector store", err)
			}
		}
		pool, err := database.NewPool(ctx, database.Config{URL: a.Config.DatabaseURL})
		if err != nil {
			return nil, domain.NewStoreUnavailableError("failed to connect to vector store", err)
		}
		return repository.NewPgVectorStore(pool, a.Config.Collection), nil
	default:
		return repository.OpenSQLiteStore(a.Config.VectorStorePath, a.Config.Collection, repository.SQLiteOptions{
			CreateIfMissing: create,
		})
	}
}

// Ledger returns the checkpoint file ledger.
func (a *App) Ledger() *checkpoint.FileLedger {
	return checkpoint.NewFileLedger(a.Config.CheckpointPath)
}

// ChunkSource reads the chunked dataset at location, or the configured
// default when location is blank.
func (a *App) ChunkSource(location string) *source.CSVSource {
	if location == "" {
		location = a.Config.ChunkedPath
	}
	return source.NewCSVSource(location, a.Locations)
}

// Ingestion builds the batch ingestion service.
func (a *App) Ingestion() (*service.IngestionService, error) {
	model, err := a.Model()
	if err != nil {
		return nil, err
	}
	return service.NewIngestionService(model,
		service.WithIngestLogger(logger.Component(a.Log, "ingest")),
		service.WithIngestMetrics(a.Metrics),
		service.WithCollection(a.Config.Collection),
	), nil
}

// Assistant builds the question answering pipeline over store.
func (a *App) Assistant(store service.VectorStore) (*service.Assistant, error) {
	model, err := a.Model()
	if err != nil {
		return nil, err
	}
	retriever := service.NewRetriever(model, store,
		service.WithDefaultTopK(a.Config.TopK),
		service.WithRetrieverLogger(logger.Component(a.Log, "retriever")),
		service.WithRetrieverMetrics(a.Metrics),
	)
	generator := service.NewGenerator(model,
		service.WithGeneratorLogger(logger.Component(a.Log, "generator")),
		service.WithGeneratorMetrics(a.Metrics),
	)
	return service.NewAssistant(retriever, generator,
		service.WithAssistantLogger(logger.Component(a.Log, "assistant")),
	), nil
}

// ChunkReport summarizes a chunking run.
type ChunkReport struct {
	Complaints int
	Chunks     int
}

// ChunkDataset reads complaints from input, splits every narrative and
// writes the chunk records to output.
func (a *App) ChunkDataset(ctx context.Context, input, output string, cfg service.ChunkConfig) (*ChunkReport, error) {
	if output == "" {
		output = a.Config.ChunkedPath
	}

	r, err := a.Locations.Open(ctx, input)
	if err != nil {
		return nil, err
	}
	complaints, err := source.ReadComplaints(r)
	r.Close()
	if err != nil {
		return nil, err
	}

	records := service.ChunkComplaints(complaints, cfg)

	w, err := a.Locations.Create(ctx, output)
	if err != nil {
		return nil, err
	}
	if err := source.WriteChunkRecords(w, records); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write %s: %w", output, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", output, err)
	}

	a.Log.Info().
		Int("complaints", len(complaints)).
		Int("chunks", len(records)).
		Str("output", output).
		Msg("chunked dataset written")

	return &ChunkReport{Complaints: len(complaints), Chunks: len(records)}, nil
}
