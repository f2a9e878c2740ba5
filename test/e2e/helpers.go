//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/creditrust/internal/api/handlers"
	"github.com/cloo-solutions/creditrust/internal/app"
	"github.com/cloo-solutions/creditrust/internal/config"
	"github.com/cloo-solutions/creditrust/internal/server"
	"github.com/cloo-solutions/creditrust/internal/storage"
	"github.com/cloo-solutions/creditrust/internal/testutil"
	"github.com/rs/zerolog"
)

const (
	embeddingDimensions = 6
	datasetBucket       = "datasets"
	fakeAnswer          = "Customers mostly report duplicate late fees and escrow miscalculations."
)

// keywords drive the fake embedding model: one dimension per keyword plus a
// constant so no vector is all zeros.
var keywords = []string{"fee", "escrow", "fraud", "transfer", "loan"}

const complaintsCSV = `Product,Complaint ID,cleaned_narrative
Credit card,9001,i was charged a late fee twice even though i paid on time. the fee was not refunded.
Mortgage,9002,my escrow account was miscalculated and the escrow payment doubled without notice
Checking account,9003,someone committed fraud on my account and the bank refused to investigate the fraud
Money transfer,9004,my international transfer has been delayed for three weeks
Personal loan,9005,
Payday loan,9006,the loan servicer added fees i never agreed to on my payday loan
`

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	RustFSC    *testutil.RustFSContainer
	S3Client   *storage.S3Client
	OpenAI     *FakeOpenAI
	WorkDir    string
	BinaryDir  string
	HTTPClient *http.Client
}

// SetupE2EEnv creates a local environment: a fake model endpoint and a
// scratch directory. Containers are started by WithContainers.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	return &E2ETestEnv{
		T:          t,
		Ctx:        context.Background(),
		OpenAI:     NewFakeOpenAI(t),
		WorkDir:    t.TempDir(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithContainers starts Postgres with pgvector and RustFS and creates the
// dataset bucket.
func (e *E2ETestEnv) WithContainers() {
	e.PostgresC = testutil.NewPostgresContainer(e.Ctx, e.T)
	e.RustFSC = testutil.NewRustFSContainer(e.Ctx, e.T)

	s3Client, err := storage.NewS3Client(e.Ctx, storage.S3ClientConfig{
		Endpoint:        e.RustFSC.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		UsePathStyle:    true,
	})
	if err != nil {
		e.T.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(e.Ctx, datasetBucket); err != nil {
		e.T.Fatalf("failed to create bucket: %v", err)
	}
	e.S3Client = s3Client
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// Env returns the CREDITRUST_* settings for a run against the sqlite store,
// or against pgvector and S3 when containers are running.
func (e *E2ETestEnv) Env() map[string]string {
	env := map[string]string{
		"CREDITRUST_OPENAI_API_KEY":       "sk-e2e",
		"CREDITRUST_OPENAI_BASE_URL":      e.OpenAI.URL(),
		"CREDITRUST_EMBEDDING_DIMENSIONS": fmt.Sprint(embeddingDimensions),
		"CREDITRUST_BATCH_SIZE":           "2",
		"CREDITRUST_TOP_K":                "3",
		"CREDITRUST_CHUNKED_PATH":         filepath.Join(e.WorkDir, "chunked.csv"),
		"CREDITRUST_VECTOR_STORE_PATH":    filepath.Join(e.WorkDir, "index"),
		"CREDITRUST_CHECKPOINT_PATH":      filepath.Join(e.WorkDir, "embedded_ids.txt"),
		"CREDITRUST_STORE_BACKEND":        config.BackendSQLite,
		"CREDITRUST_LOG_LEVEL":            "warn",
	}
	if e.PostgresC != nil {
		env["CREDITRUST_STORE_BACKEND"] = config.BackendPgVector
		env["CREDITRUST_DATABASE_URL"] = e.PostgresC.ConnectionString()
		migrations, _ := filepath.Abs("../../migrations")
		env["CREDITRUST_MIGRATIONS_PATH"] = migrations
	}
	if e.RustFSC != nil {
		env["CREDITRUST_S3_ENDPOINT"] = e.RustFSC.Endpoint()
		env["CREDITRUST_S3_ACCESS_KEY_ID"] = "rustfsadmin"
		env["CREDITRUST_S3_SECRET_ACCESS_KEY"] = "rustfsadmin"
	}
	return env
}

// Config loads the same settings in-process.
func (e *E2ETestEnv) Config() *config.Config {
	for k, v := range e.Env() {
		e.T.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		e.T.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// BuildBinary builds the creditrust binary
func (e *E2ETestEnv) BuildBinary() {
	tmpDir, err := os.MkdirTemp("", "creditrust-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "creditrust"), "./cmd/creditrust")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build creditrust: %v\n%s", err, out)
	}
}

// Run runs the creditrust CLI with the environment from Env. It returns
// stdout, with stderr appended when the command fails.
func (e *E2ETestEnv) Run(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "creditrust"), args...)
	cmd.Dir = e.WorkDir
	cmd.Env = os.Environ()
	for k, v := range e.Env() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String() + stderr.String(), err
	}
	return stdout.String(), nil
}

// WriteFile writes a file under the work directory and returns its path.
func (e *E2ETestEnv) WriteFile(name, content string) string {
	path := filepath.Join(e.WorkDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.T.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// StartServer serves the API in-process on a free port.
func (e *E2ETestEnv) StartServer() (string, func()) {
	cfg := e.Config()
	a, err := app.New(e.Ctx, cfg, zerolog.Nop())
	if err != nil {
		e.T.Fatalf("failed to build app: %v", err)
	}
	store, err := a.OpenStore(e.Ctx, false)
	if err != nil {
		e.T.Fatalf("failed to open store: %v", err)
	}
	assistant, err := a.Assistant(store)
	if err != nil {
		e.T.Fatalf("failed to build assistant: %v", err)
	}

	router := server.NewRouter(server.RouterConfig{
		AskHandler: handlers.NewAskHandler(assistant, store, cfg.ProductChoices(), cfg.Collection),
		Logger:     zerolog.Nop(),
		Gatherer:   a.Registry,
		Collection: cfg.Collection,
	})

	port, err := getFreePort()
	if err != nil {
		e.T.Fatalf("failed to get free port: %v", err)
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FakeOpenAI serves the embeddings and chat completion endpoints.
type FakeOpenAI struct {
	server        *httptest.Server
	embedRequests atomic.Int32
	embeddedTexts atomic.Int32
	chatRequests  atomic.Int32
}

func NewFakeOpenAI(t *testing.T) *FakeOpenAI {
	f := &FakeOpenAI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", f.handleEmbeddings)
	mux.HandleFunc("/chat/completions", f.handleChat)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeOpenAI) URL() string { return f.server.URL }

func (f *FakeOpenAI) EmbeddedTexts() int { return int(f.embeddedTexts.Load()) }

func (f *FakeOpenAI) ChatRequests() int { return int(f.chatRequests.Load()) }

func (f *FakeOpenAI) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.embedRequests.Add(1)
	f.embeddedTexts.Add(int32(len(req.Input)))

	data := make([]map[string]interface{}, len(req.Input))
	for i, text := range req.Input {
		data[i] = map[string]interface{}{
			"object":    "embedding",
			"index":     i,
			"embedding": keywordVector(text),
		}
	}
	writeJSON(w, map[string]interface{}{
		"object": "list",
		"model":  req.Model,
		"data":   data,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func (f *FakeOpenAI) handleChat(w http.ResponseWriter, r *http.Request) {
	f.chatRequests.Add(1)
	writeJSON(w, map[string]interface{}{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": "  " + fakeAnswer + "\n"},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	})
}

func keywordVector(text string) []float32 {
	vec := make([]float32, embeddingDimensions)
	lower := strings.ToLower(text)
	for i, k := range keywords {
		vec[i] = float32(strings.Count(lower, k))
	}
	vec[len(keywords)] = 0.1
	return vec
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
