package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/metrics"
	"github.com/cloo-solutions/creditrust/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultTopK is the number of excerpts retrieved when the caller does not ask for more.
const DefaultTopK = 5

// Retriever runs filtered top-k similarity search over the complaint index.
// It holds no mutable state and is safe for concurrent use.
type Retriever struct {
	embedder    Embedder
	store       VectorStore
	defaultTopK int
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

type RetrieverOption func(*Retriever)

func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) { r.defaultTopK = k }
}

func WithRetrieverLogger(log zerolog.Logger) RetrieverOption {
	return func(r *Retriever) { r.log = log }
}

func WithRetrieverMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

func NewRetriever(embedder Embedder, store VectorStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: DefaultTopK,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type retrieveOptions struct {
	topK    int
	product string
}

// RetrieveOption adjusts a single Retrieve call.
type RetrieveOption func(*retrieveOptions)

// WithTopK overrides the default result count. Zero yields an empty result.
func WithTopK(k int) RetrieveOption {
	return func(o *retrieveOptions) { o.topK = k }
}

// WithProduct restricts results to documents whose product equals p exactly.
// An empty p searches the whole corpus.
func WithProduct(p string) RetrieveOption {
	return func(o *retrieveOptions) { o.product = p }
}

// Retrieve returns at most top-k documents ordered by descending similarity.
// Store errors, including an uninitialized index, are returned as-is; no
// partial result is ever returned alongside an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...RetrieveOption) ([]domain.RetrievedDocument, error) {
	o := retrieveOptions{topK: r.defaultTopK}
	for _, opt := range opts {
		opt(&o)
	}

	if o.topK < 0 {
		return nil, domain.ErrInvalidTopK
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if o.topK == 0 {
		return []domain.RetrievedDocument{}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "retriever.retrieve", telemetry.SpanAttributes{
		Product:   o.product,
		Operation: "similarity_search",
	})
	defer span.End()

	start := time.Now()

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.Search(ctx, embedding, o.topK, o.product)
	if err != nil {
		span.SetError(err)
		r.log.Error().Err(err).Str("product", o.product).Msg("similarity search failed")
		return nil, err
	}
	if len(results) > o.topK {
		results = results[:o.topK]
	}
	if results == nil {
		results = []domain.RetrievedDocument{}
	}

	r.metrics.RecordRetrieval(time.Since(start), len(results))
	r.log.Debug().
		Int("top_k", o.topK).
		Str("product", o.product).
		Int("results", len(results)).
		Dur("duration", time.Since(start)).
		Msg("retrieved excerpts")

	return results, nil
}
