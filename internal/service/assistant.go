package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// NoSourceAvailable is shown when retrieval found nothing.
	NoSourceAvailable = "No source available"

	sourceExcerptRunes  = 200
	sourcePreviewRunes  = 150
	evaluationTopSource = 2
)

// DefaultEvaluationQuestions is the standard question set for evaluation reports.
var DefaultEvaluationQuestions = []string{
	"Credit card late payment issues",
	"Unauthorized transactions in my bank account",
	"Problems with BNPL refunds",
	"Difficulties with personal loan repayment",
	"Delays in money transfers abroad",
}

// DocumentRetriever finds excerpts relevant to a question.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string, opts ...RetrieveOption) ([]domain.RetrievedDocument, error)
}

// AnswerGenerator answers a question from excerpts.
type AnswerGenerator interface {
	Generate(ctx context.Context, results []domain.RetrievedDocument, question string) string
}

// Assistant answers complaint questions end to end.
type Assistant struct {
	retriever DocumentRetriever
	generator AnswerGenerator
	log       zerolog.Logger
}

type AssistantOption func(*Assistant)

func WithAssistantLogger(log zerolog.Logger) AssistantOption {
	return func(a *Assistant) { a.log = log }
}

func NewAssistant(retriever DocumentRetriever, generator AnswerGenerator, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		retriever: retriever,
		generator: generator,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AskInput describes one question. TopK <= 0 uses the retriever default.
type AskInput struct {
	Question string
	Product  string
	TopK     int
}

type AskResult struct {
	Answer    string
	Source    string
	Sources   []string
	Documents []domain.RetrievedDocument
}

// Ask retrieves excerpts and generates an answer. Retrieval errors are
// returned to the caller; generation failures arrive inside Answer.
func (a *Assistant) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, domain.ErrEmptyQuestion
	}

	var opts []RetrieveOption
	if product := NormalizeProduct(input.Product); product != "" {
		opts = append(opts, WithProduct(product))
	}
	if input.TopK > 0 {
		opts = append(opts, WithTopK(input.TopK))
	}

	docs, err := a.retriever.Retrieve(ctx, input.Question, opts...)
	if err != nil {
		return nil, err
	}

	answer := a.generator.Generate(ctx, docs, input.Question)
	a.log.Info().
		Str("product", input.Product).
		Int("excerpts", len(docs)).
		Msg("question answered")

	return &AskResult{
		Answer:    answer,
		Source:    SampleSource(docs),
		Sources:   FormatSources(docs),
		Documents: docs,
	}, nil
}

// NormalizeProduct maps the "All" choice and blanks to no filter.
func NormalizeProduct(product string) string {
	product = strings.TrimSpace(product)
	if product == domain.AllProducts {
		return ""
	}
	return product
}

// SampleSource shows the start of the best excerpt.
func SampleSource(docs []domain.RetrievedDocument) string {
	if len(docs) == 0 {
		return NoSourceAvailable
	}
	return truncateRunes(docs[0].Text, sourceExcerptRunes) + "..."
}

// FormatSources renders each excerpt as a one-line preview with its provenance.
func FormatSources(docs []domain.RetrievedDocument) []string {
	sources := make([]string, len(docs))
	for i, d := range docs {
		preview := strings.ReplaceAll(truncateRunes(d.Text, sourcePreviewRunes), "\n", " ")
		sources[i] = fmt.Sprintf("%s... [Product: %s, Complaint ID: %s]", preview, orNA(d.Product), orNA(d.ComplaintID))
	}
	return sources
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// EvaluationRow is one line of the evaluation report.
type EvaluationRow struct {
	Question string
	Answer   string
	Sources  []string
}

// Questioner answers one question. Assistant is the in-process implementation.
type Questioner interface {
	Ask(ctx context.Context, input AskInput) (*AskResult, error)
}

// Evaluate asks every question with the same product filter.
func (a *Assistant) Evaluate(ctx context.Context, questions []string, product string) ([]EvaluationRow, error) {
	return EvaluateWith(ctx, a, questions, product)
}

// EvaluateWith runs the evaluation through any Questioner. It stops at the
// first error and returns the rows answered so far.
func EvaluateWith(ctx context.Context, q Questioner, questions []string, product string) ([]EvaluationRow, error) {
	rows := make([]EvaluationRow, 0, len(questions))
	for _, question := range questions {
		res, err := q.Ask(ctx, AskInput{Question: question, Product: product})
		if err != nil {
			return rows, fmt.Errorf("evaluating %q: %w", question, err)
		}
		rows = append(rows, EvaluationRow{Question: question, Answer: res.Answer, Sources: res.Sources})
	}
	return rows, nil
}

// WriteEvaluationReport writes rows as a Markdown table with empty columns
// for a reviewer's score and comments.
func WriteEvaluationReport(w io.Writer, rows []EvaluationRow) error {
	var b strings.Builder
	b.WriteString("# RAG Evaluation Results\n\n")
	b.WriteString("| Question | Generated Answer | Retrieved Sources | Quality Score (1-5) | Comments |\n")
	b.WriteString("|---|---|---|---|---|\n")

	for _, row := range rows {
		sources := row.Sources
		if len(sources) > evaluationTopSource {
			sources = sources[:evaluationTopSource]
		}
		fmt.Fprintf(&b, "| %s | %s | %s |  |  |\n",
			markdownCell(row.Question),
			markdownCell(row.Answer),
			markdownCell(strings.Join(sources, "\n")),
		)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "<br>")
}
