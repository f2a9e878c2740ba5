//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// askEnvelope mirrors the POST /ask response.
type askEnvelope struct {
	Data struct {
		Answer    string   `json:"answer"`
		Source    string   `json:"source"`
		Sources   []string `json:"sources"`
		Documents []struct {
			ChunkID     string  `json:"chunk_id"`
			Product     string  `json:"product"`
			ComplaintID string  `json:"complaint_id"`
			Score       float64 `json:"score"`
		} `json:"documents"`
	} `json:"data"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (e *E2ETestEnv) ask(serverURL string, body map[string]interface{}) (int, askEnvelope) {
	raw, err := json.Marshal(body)
	require.NoError(e.T, err)
	resp, err := e.HTTPClient.Post(serverURL+"/ask", "application/json", bytes.NewReader(raw))
	require.NoError(e.T, err)
	defer resp.Body.Close()

	var out askEnvelope
	data, err := io.ReadAll(resp.Body)
	require.NoError(e.T, err)
	require.NoError(e.T, json.Unmarshal(data, &out), string(data))
	return resp.StatusCode, out
}

func TestE2E_LocalPipeline(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.BuildBinary()

	input := env.WriteFile("complaints.csv", complaintsCSV)

	t.Run("ask before ingest reports a missing index", func(t *testing.T) {
		output, err := env.Run("ask", "late fees")
		require.Error(t, err)
		assert.Contains(t, output, "STORE_UNAVAILABLE")
	})

	t.Run("chunk writes one row per chunk", func(t *testing.T) {
		output, err := env.Run("chunk", "--input", input)
		require.NoError(t, err, output)
		assert.Contains(t, output, "6 complaints -> 5 chunks")

		content, err := os.ReadFile(filepath.Join(env.WorkDir, "chunked.csv"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(content), "chunk_id,product,complaint_id,chunk_text,original_narrative"))
		assert.Contains(t, string(content), "1_0,Mortgage,9002")
	})

	t.Run("ingest embeds every chunk once", func(t *testing.T) {
		output, err := env.Run("ingest")
		require.NoError(t, err, output)
		assert.Contains(t, output, "written:          5")
		assert.Equal(t, 5, env.OpenAI.EmbeddedTexts())

		ledger, err := os.ReadFile(filepath.Join(env.WorkDir, "embedded_ids.txt"))
		require.NoError(t, err)
		assert.Len(t, strings.Fields(string(ledger)), 5)
	})

	t.Run("re-ingest is a no-op", func(t *testing.T) {
		output, err := env.Run("ingest")
		require.NoError(t, err, output)
		assert.Contains(t, output, "already ingested: 5")
		assert.Contains(t, output, "written:          0")
		assert.Equal(t, 5, env.OpenAI.EmbeddedTexts())
	})

	t.Run("ask answers with sources", func(t *testing.T) {
		output, err := env.Run("ask", "escrow problems", "--product", "Mortgage", "--output")
		require.NoError(t, err, output)

		var result struct {
			Answer  string   `json:"answer"`
			Sources []string `json:"sources"`
		}
		require.NoError(t, json.Unmarshal([]byte(output), &result), output)
		assert.Equal(t, fakeAnswer, result.Answer)
		require.Len(t, result.Sources, 1)
		assert.Contains(t, result.Sources[0], "Complaint ID: 9002")
	})

	t.Run("ask with an empty product skips generation", func(t *testing.T) {
		before := env.OpenAI.ChatRequests()
		output, err := env.Run("ask", "anything", "--product", "Savings account")
		require.NoError(t, err, output)
		assert.Contains(t, output, "I don't have enough information")
		assert.Equal(t, before, env.OpenAI.ChatRequests())
	})

	t.Run("eval writes a markdown report", func(t *testing.T) {
		questions := env.WriteFile("questions.txt", "# smoke\nlate fees\nfraud on my account\n")
		report := filepath.Join(env.WorkDir, "report.md")

		output, err := env.Run("eval", "--file", questions, "--out", report)
		require.NoError(t, err, output)

		content, err := os.ReadFile(report)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		assert.Equal(t, "# RAG Evaluation Results", lines[0])
		assert.Len(t, lines, 6)
		assert.Contains(t, lines[4], "| late fees | "+fakeAnswer)
	})

	t.Run("help-json describes the commands", func(t *testing.T) {
		output, err := env.Run("ingest", "--help-json")
		require.NoError(t, err, output)
		assert.Contains(t, output, `"env": "CREDITRUST_BATCH_SIZE"`)
	})
}

func TestE2E_PgVectorAndObjectStorage(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.WithContainers()
	env.BuildBinary()

	require.NoError(t, env.S3Client.Put(env.Ctx, datasetBucket, "raw/complaints.csv", "text/csv", strings.NewReader(complaintsCSV)))

	t.Run("migrate", func(t *testing.T) {
		output, err := env.Run("migrate")
		require.NoError(t, err, output)
		assert.Contains(t, output, "schema version 1")
	})

	t.Run("chunk between buckets", func(t *testing.T) {
		output, err := env.Run("chunk",
			"--input", "s3://"+datasetBucket+"/raw/complaints.csv",
			"--output", "s3://"+datasetBucket+"/chunked/chunks.csv")
		require.NoError(t, err, output)

		meta, err := env.S3Client.HeadObject(env.Ctx, datasetBucket, "chunked/chunks.csv")
		require.NoError(t, err)
		assert.Positive(t, meta.ContentLength)
	})

	t.Run("ingest from object storage into pgvector", func(t *testing.T) {
		output, err := env.Run("ingest", "--source", "s3://"+datasetBucket+"/chunked/chunks.csv")
		require.NoError(t, err, output)
		assert.Contains(t, output, "written:          5")

		output, err = env.Run("ingest", "--source", "s3://"+datasetBucket+"/chunked/chunks.csv")
		require.NoError(t, err, output)
		assert.Contains(t, output, "written:          0")
	})

	serverURL, stop := env.StartServer()
	defer stop()

	t.Run("ask over HTTP", func(t *testing.T) {
		status, out := env.ask(serverURL, map[string]interface{}{
			"question": "duplicate late fee",
			"product":  "Credit card",
			"top_k":    2,
		})
		require.Equal(t, http.StatusOK, status, out.Error)
		assert.Equal(t, fakeAnswer, out.Data.Answer)
		require.Len(t, out.Data.Documents, 1)
		assert.Equal(t, "Credit card", out.Data.Documents[0].Product)
		assert.Equal(t, "9001", out.Data.Documents[0].ComplaintID)
	})

	t.Run("unfiltered ask ranks by similarity", func(t *testing.T) {
		status, out := env.ask(serverURL, map[string]interface{}{"question": "fraud fraud", "product": "All"})
		require.Equal(t, http.StatusOK, status, out.Error)
		require.NotEmpty(t, out.Data.Documents)
		assert.Equal(t, "Checking account", out.Data.Documents[0].Product)
		for i := 1; i < len(out.Data.Documents); i++ {
			assert.GreaterOrEqual(t, out.Data.Documents[i-1].Score, out.Data.Documents[i].Score)
		}
		assert.LessOrEqual(t, len(out.Data.Documents), 3)
	})

	t.Run("validation errors", func(t *testing.T) {
		status, out := env.ask(serverURL, map[string]interface{}{"question": " "})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", out.Code)
	})

	t.Run("stats and metrics", func(t *testing.T) {
		resp, err := env.HTTPClient.Get(serverURL + "/stats")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), `"chunks":5`)

		resp, err = env.HTTPClient.Get(serverURL + "/metrics")
		require.NoError(t, err)
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), "creditrust_retrieval_duration_seconds")
	})

	t.Run("cli ask through the server", func(t *testing.T) {
		output, err := env.Run("ask", "escrow", "--api-url", serverURL)
		require.NoError(t, err, output)
		assert.Contains(t, output, fakeAnswer)
		assert.Contains(t, output, "Sources:")
	})
}
