package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAssistant_Ask(t *testing.T) {
	store, embedder := seededStore(t)
	model := new(MockTextGenerator)
	model.On("Complete", mock.Anything, mock.Anything).Return("Mostly escrow problems.", nil)
	a := NewAssistant(NewRetriever(embedder, store), NewGenerator(model))

	res, err := a.Ask(context.Background(), AskInput{Question: "escrow", Product: "Mortgage", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, "Mostly escrow problems.", res.Answer)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "3_0", res.Documents[0].ChunkID)
	assert.Equal(t, "escrow...", res.Source)
	assert.Equal(t, "escrow... [Product: Mortgage, Complaint ID: c-3_0]", res.Sources[0])
}

func TestAssistant_Ask_AllProductsSearchesEverything(t *testing.T) {
	mockEmbedder := new(MockEmbedder)
	mockStore := new(MockVectorStore)
	mockEmbedder.On("EmbedQuery", mock.Anything, "fees").Return([]float32{1}, nil)
	mockStore.On("Search", mock.Anything, mock.Anything, DefaultTopK, "").Return([]domain.RetrievedDocument{}, nil)

	a := NewAssistant(NewRetriever(mockEmbedder, mockStore), NewGenerator(new(MockTextGenerator)))

	for _, product := range []string{domain.AllProducts, "", "  "} {
		res, err := a.Ask(context.Background(), AskInput{Question: "fees", Product: product})
		require.NoError(t, err)
		assert.Equal(t, InsufficientInformation, res.Answer)
		assert.Equal(t, NoSourceAvailable, res.Source)
		assert.Empty(t, res.Sources)
	}
	mockStore.AssertExpectations(t)
}

func TestAssistant_Ask_EmptyQuestion(t *testing.T) {
	a := NewAssistant(NewRetriever(new(MockEmbedder), new(MockVectorStore)), NewGenerator(new(MockTextGenerator)))

	_, err := a.Ask(context.Background(), AskInput{Question: " "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestAssistant_Ask_RetrievalError(t *testing.T) {
	mockEmbedder := new(MockEmbedder)
	mockStore := new(MockVectorStore)
	mockEmbedder.On("EmbedQuery", mock.Anything, "fees").Return([]float32{1}, nil)
	mockStore.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewStoreUnavailableError("closed", errors.New("sql: database is closed")))
	model := new(MockTextGenerator)

	_, err := NewAssistant(NewRetriever(mockEmbedder, mockStore), NewGenerator(model)).
		Ask(context.Background(), AskInput{Question: "fees"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	model.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestSampleSource_Truncates(t *testing.T) {
	long := strings.Repeat("é", 250)
	assert.Equal(t, strings.Repeat("é", 200)+"...", SampleSource(docs(long)))
}

func TestFormatSources(t *testing.T) {
	in := []domain.RetrievedDocument{
		{Text: "line one\nline two", Product: "Payday loan", ComplaintID: "42"},
		{Text: strings.Repeat("a", 160)},
	}
	out := FormatSources(in)
	require.Len(t, out, 2)
	assert.Equal(t, "line one line two... [Product: Payday loan, Complaint ID: 42]", out[0])
	assert.Equal(t, strings.Repeat("a", 150)+"... [Product: N/A, Complaint ID: N/A]", out[1])
}

func TestAssistant_EvaluateAndReport(t *testing.T) {
	store, embedder := seededStore(t)
	model := new(MockTextGenerator)
	model.On("Complete", mock.Anything, mock.Anything).Return("Fees | charges\nrecur.", nil)
	a := NewAssistant(NewRetriever(embedder, store), NewGenerator(model))

	rows, err := a.Evaluate(context.Background(), []string{"late fee", "escrow"}, "Credit card")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row.Sources, 3)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEvaluationReport(&buf, rows))
	report := buf.String()

	lines := strings.Split(strings.TrimSpace(report), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "# RAG Evaluation Results", lines[0])
	assert.Equal(t, "| Question | Generated Answer | Retrieved Sources | Quality Score (1-5) | Comments |", lines[2])
	assert.True(t, strings.HasPrefix(lines[4], `| late fee | Fees \| charges<br>recur. | late fee... [Product: Credit card, Complaint ID: c-1_0]<br>`))
	assert.Equal(t, 1, strings.Count(lines[4], "<br>late")+strings.Count(lines[4], "<br>interest")+strings.Count(lines[4], "<br>card"))
	assert.True(t, strings.HasSuffix(lines[4], "|  |  |"))
}

func TestAssistant_Evaluate_StopsOnError(t *testing.T) {
	a := NewAssistant(NewRetriever(new(MockEmbedder), new(MockVectorStore)), NewGenerator(new(MockTextGenerator)))

	rows, err := a.Evaluate(context.Background(), []string{""}, domain.AllProducts)
	require.Error(t, err)
	assert.Empty(t, rows)
}
