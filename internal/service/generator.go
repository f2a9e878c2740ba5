package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/metrics"
	"github.com/cloo-solutions/creditrust/internal/telemetry"
	"github.com/rs/zerolog"
)

// InsufficientInformation is returned without calling the model when nothing was retrieved.
const InsufficientInformation = "I don't have enough information to answer this question based on the available complaint data."

const promptTemplate = `
You are a financial analyst assistant for CrediTrust.
Your task is to answer questions about customer complaints.
Use the following retrieved complaint excerpts to formulate your answer.
If the context doesn't contain the answer, say you don't have enough information.

Context:
{context}

Question:
{question}

Answer:
`

// TextGenerator completes a filled prompt.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BuildPrompt fills the analyst template with the retrieved excerpts, in
// retrieval order and separated by a blank line, and the verbatim question.
// Placeholders occurring inside the excerpts or question are left as-is.
func BuildPrompt(results []domain.RetrievedDocument, question string) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}

	return strings.NewReplacer(
		"{context}", strings.Join(texts, "\n\n"),
		"{question}", question,
	).Replace(promptTemplate)
}

// Generator turns retrieved excerpts and a question into an answer.
type Generator struct {
	model   TextGenerator
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type GeneratorOption func(*Generator)

func WithGeneratorLogger(log zerolog.Logger) GeneratorOption {
	return func(g *Generator) { g.log = log }
}

func WithGeneratorMetrics(m *metrics.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(model TextGenerator, opts ...GeneratorOption) *Generator {
	g := &Generator{
		model: model,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate never fails: an empty result set short-circuits to
// InsufficientInformation and a model failure becomes an "Error: ..." string.
func (g *Generator) Generate(ctx context.Context, results []domain.RetrievedDocument, question string) string {
	if len(results) == 0 {
		return InsufficientInformation
	}

	ctx, span := telemetry.StartSpan(ctx, "generator.generate", telemetry.SpanAttributes{
		Operation: "chat_completion",
	})
	defer span.End()
	span.SetData("excerpts", len(results))

	start := time.Now()
	out, err := g.model.Complete(ctx, BuildPrompt(results, question))
	g.metrics.RecordGeneration(time.Since(start), err)
	if err != nil {
		failure := domain.NewGenerationFailure(err)
		span.SetError(failure)
		telemetry.CaptureError(ctx, failure)
		g.log.Error().Err(failure).Msg("generation failed")
		return "Error: " + err.Error()
	}

	return strings.TrimSpace(out)
}
