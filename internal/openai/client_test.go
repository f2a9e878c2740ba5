package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockOpenAIAPI) CreateCompletion(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func vectors(n, dims int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dims)
		out[i][0] = float32(i)
	}
	return out
}

func TestClient_EmbedDocuments_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 3}

	ctx := context.Background()
	texts := []string{"late fee", "closed account"}
	expected := vectors(2, 3)

	mockAPI.On("CreateEmbeddings", ctx, texts).Return(expected, nil)

	embeddings, err := client.EmbedDocuments(ctx, texts)

	assert.NoError(t, err)
	assert.Equal(t, expected, embeddings)
	mockAPI.AssertExpectations(t)
}

func TestClient_EmbedDocuments_SplitsLargeBatches(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 2}

	texts := make([]string, maxInputsPerRequest+5)
	for i := range texts {
		texts[i] = "chunk"
	}

	mockAPI.On("CreateEmbeddings", mock.Anything, mock.MatchedBy(func(in []string) bool {
		return len(in) == maxInputsPerRequest
	})).Return(vectors(maxInputsPerRequest, 2), nil).Once()
	mockAPI.On("CreateEmbeddings", mock.Anything, mock.MatchedBy(func(in []string) bool {
		return len(in) == 5
	})).Return(vectors(5, 2), nil).Once()

	embeddings, err := client.EmbedDocuments(context.Background(), texts)

	require.NoError(t, err)
	assert.Len(t, embeddings, len(texts))
	mockAPI.AssertExpectations(t)
}

func TestClient_EmbedDocuments_EmptyText(t *testing.T) {
	client := NewClient("")

	embeddings, err := client.EmbedDocuments(context.Background(), []string{"ok", ""})

	assert.Nil(t, embeddings)
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_EmbedDocuments_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 1536}

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"text"}).Return(vectors(1, 8), nil)

	_, err := client.EmbedDocuments(context.Background(), []string{"text"})

	assert.True(t, errors.Is(err, ErrWrongDimensions))
}

func TestClient_EmbedDocuments_APIError(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 3}

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"text"}).Return(nil, errors.New("API rate limit exceeded"))

	embeddings, err := client.EmbedDocuments(context.Background(), []string{"text"})

	assert.Error(t, err)
	assert.Nil(t, embeddings)
	assert.Contains(t, err.Error(), "failed to create embeddings")
	mockAPI.AssertExpectations(t)
}

func TestClient_EmbedQuery(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 3}

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"why late fees?"}).Return(vectors(1, 3), nil)

	embedding, err := client.EmbedQuery(context.Background(), "why late fees?")
	require.NoError(t, err)
	assert.Len(t, embedding, 3)

	_, err = client.EmbedQuery(context.Background(), "")
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_Complete(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	mockAPI.On("CreateCompletion", mock.Anything, "prompt").Return("  answer  ", nil)

	out, err := client.Complete(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "  answer  ", out)
}

func TestClient_Complete_APIError(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	mockAPI.On("CreateCompletion", mock.Anything, "prompt").Return("", errors.New("model overloaded"))

	_, err := client.Complete(context.Background(), "prompt")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClient_RateLimitedCallRespectsContext(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, limiter: newLimiter(0.001, 1)}

	mockAPI.On("CreateCompletion", mock.Anything, "prompt").Return("first", nil).Once()

	out, err := client.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	// The single token is spent; the next call would wait far past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Complete(ctx, "prompt")
	require.Error(t, err)
	mockAPI.AssertNumberOfCalls(t, "CreateCompletion", 1)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0, 5))
	l := newLimiter(3, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
	assert.Equal(t, DefaultEmbeddingDimensions, client.dimensions)
}

func TestRequestDimensions(t *testing.T) {
	tests := []struct {
		name       string
		model      openai.EmbeddingModel
		dimensions int
		want       int
	}{
		{"shortened small", openai.SmallEmbedding3, 512, 512},
		{"large", openai.LargeEmbedding3, 1024, 1024},
		{"unset", openai.SmallEmbedding3, 0, 0},
		{"ada has a fixed size", openai.AdaEmbeddingV2, 1536, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, requestDimensions(tt.model, tt.dimensions))
		})
	}
}

func TestOpenAIAdapter_AgainstCompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/embeddings":
			var req struct {
				Input      []string `json:"input"`
				Model      string   `json:"model"`
				Dimensions int      `json:"dimensions"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "text-embedding-3-small", req.Model)
			assert.Equal(t, 2, req.Dimensions)

			// answer out of order to exercise index sorting
			data := make([]map[string]interface{}, 0, len(req.Input))
			for i := len(req.Input) - 1; i >= 0; i-- {
				data = append(data, map[string]interface{}{
					"object":    "embedding",
					"index":     i,
					"embedding": []float32{float32(i), 1},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
		case "/v1/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"index": 0, "message": map[string]string{"role": "assistant", "content": "Customers report late fees."}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClientWithConfig(Config{APIKey: "test", BaseURL: srv.URL + "/v1", EmbeddingDimensions: 2})

	embeddings, err := client.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, embeddings)

	answer, err := client.Complete(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "Customers report late fees.", answer)
}
