//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veldt-labs/quarry/internal/api/handlers"
	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/repository"
	"github.com/veldt-labs/quarry/internal/server"
	"github.com/veldt-labs/quarry/internal/service"
	"github.com/veldt-labs/quarry/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	OrgID        string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts a PostgreSQL container, runs migrations, and serves the
// full HTTP API in-process with deterministic embedding and chat fakes.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		OrgID:        "e2e-org",
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Put performs a PUT request
func (e *E2ETestEnv) Put(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PUT", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-Org-ID", e.OrgID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires repositories, the manager, and handlers, and serves on
// the given port.
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	store := repository.NewKnowledgeBaseRepository(pool)
	queryLogs := repository.NewQueryLogRepository(pool)

	manager := service.NewKnowledgeBaseManager(store, &keywordEmbedder{}, &cannedChat{},
		service.WithQueryLogs(queryLogs),
	)

	router := server.NewRouter(server.RouterConfig{
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(manager),
		DocumentHandler:      handlers.NewDocumentHandler(manager),
		QueryHandler:         handlers.NewQueryHandler(manager),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
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

// embeddingKeywords maps recognized topics to distinct embedding directions.
// Text mentioning the same keyword always embeds to the same unit vector, so
// retrieval over pgvector behaves deterministically without a live provider.
var embeddingKeywords = []string{"postgres", "sailing", "chunking"}

// keywordEmbedder is a deterministic EmbeddingClient for E2E tests.
type keywordEmbedder struct{}

func (e *keywordEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return keywordVector(text), nil
}

func (e *keywordEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = keywordVector(text)
	}
	return out, nil
}

func (e *keywordEmbedder) EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0))
}

func (e *keywordEmbedder) ModelInfo() domain.EmbeddingModelInfo {
	return domain.EmbeddingModelInfo{Model: "keyword-embedder", Dimensions: 1536, MaxTokens: 8191}
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	index := len(embeddingKeywords)
	for i, kw := range embeddingKeywords {
		if strings.Contains(lower, kw) {
			index = i
			break
		}
	}

	vec := make([]float32, 1536)
	vec[index] = 1
	return vec
}

// cannedChat is a deterministic ChatClient for E2E tests.
type cannedChat struct{}

func (c *cannedChat) Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float32) (string, int, error) {
	return "Based on the provided context, the answer references [Source 1].", 42, nil
}
