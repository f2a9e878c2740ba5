package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel is the model used for complaint chunk embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the output size of text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
	// DefaultGenerationModel answers questions over retrieved excerpts
	DefaultGenerationModel = openai.GPT4oMini
	// DefaultMaxTokens bounds the generated answer
	DefaultMaxTokens = 300

	// maxInputsPerRequest is the embeddings endpoint limit on inputs per call.
	maxInputsPerRequest = 2048
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrEmptyResponse is returned when the API answers without data
	ErrEmptyResponse = errors.New("no data returned")
)

// API is the subset of the OpenAI surface the assistant needs.
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	CreateCompletion(ctx context.Context, prompt string) (string, error)
}

// Client wraps the OpenAI API client
type Client struct {
	api        API
	dimensions int
	limiter    *rate.Limiter
}

type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	dimensions     int
	chatModel      string
	maxTokens      int
}

// NewOpenAIAdapter talks to api.openai.com, or to any compatible server at baseURL.
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	chatModel := cfg.GenerationModel
	if chatModel == "" {
		chatModel = DefaultGenerationModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIAdapter{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: embeddingModel,
		dimensions:     requestDimensions(embeddingModel, cfg.EmbeddingDimensions),
		chatModel:      chatModel,
		maxTokens:      maxTokens,
	}
}

// CreateEmbeddings embeds texts in one request, returning vectors in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      a.embeddingModel,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmptyResponse, len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// requestDimensions is the output size to ask for. Only the text-embedding-3
// family can shorten its vectors; other models return their native size and
// the client checks it.
func requestDimensions(model openai.EmbeddingModel, dimensions int) int {
	if dimensions <= 0 || !strings.HasPrefix(string(model), "text-embedding-3") {
		return 0
	}
	return dimensions
}

// CreateCompletion sends prompt as a single user message.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	GenerationModel     string
	MaxTokens           int

	// RequestsPerSecond throttles API calls; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg),
		dimensions: dimensions,
		limiter:    newLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// wait blocks until the limiter admits another request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// EmbedDocuments embeds texts in as few requests as the endpoint allows.
// The result has one vector per input, in input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxInputsPerRequest {
		end := start + maxInputsPerRequest
		if end > len(texts) {
			end = len(texts)
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		batch, err := c.api.CreateEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmptyResponse, end-start, len(batch))
		}
		for _, embedding := range batch {
			if err := c.checkDimensions(embedding); err != nil {
				return nil, err
			}
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embeddings, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Complete runs the generation model on a filled prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyText
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.api.CreateCompletion(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	return out, nil
}

func (c *Client) checkDimensions(embedding []float32) error {
	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, expected, len(embedding))
	}
	return nil
}
