package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/sentinelstream/internal/anomaly"
	"github.com/opensource-finance/sentinelstream/internal/bus"
	"github.com/opensource-finance/sentinelstream/internal/cache"
	"github.com/opensource-finance/sentinelstream/internal/decision"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/engine"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
	"github.com/opensource-finance/sentinelstream/internal/repository"
	"github.com/opensource-finance/sentinelstream/internal/rules"
	"github.com/opensource-finance/sentinelstream/internal/users"
	"github.com/opensource-finance/sentinelstream/internal/worker"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []domain.AlertTask
}

func (d *recordingDispatcher) Enqueue(task domain.AlertTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type testEnv struct {
	server     *Server
	handler    *Handler
	engine     *engine.Engine
	users      *users.Directory
	repo       *repository.SQLRepository
	dispatcher *recordingDispatcher
}

// createTestServer wires a full server over a temp SQLite store and the bundled model.
// A nil model leaves the scorer unloaded.
func createTestServer(t *testing.T, model anomaly.Model) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ruleEngine, err := rules.NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	c := cache.NewLRUCache(100)
	d := &recordingDispatcher{}
	eng := engine.New(ruleEngine, anomaly.NewScorer(model), decision.NewProcessor(), d)
	dir := users.NewDirectory(repo, c, time.Minute)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8000, ReadTimeout: 30, WriteTimeout: 30}
	h := NewHandler(eng, dir, repo, c, "test-v1")
	return &testEnv{
		server:     NewServer(cfg, h, true),
		handler:    h,
		engine:     eng,
		users:      dir,
		repo:       repo,
		dispatcher: d,
	}
}

func loadModel(t *testing.T) anomaly.Model {
	t.Helper()
	forest, err := anomaly.LoadForestFile("../../models/isolation_forest.json")
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}
	return forest
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestCreateTransaction(t *testing.T) {
	env := createTestServer(t, loadModel(t))

	t.Run("RejectsHighRisk", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-1","user_id":"alice","amount":12000,"currency":"USD","merchant":"m","location":"Nigeria"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.TransactionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Status != domain.DecisionRejected {
			t.Errorf("expected REJECTED, got %s", resp.Status)
		}
		if resp.TransactionID != "tx-1" {
			t.Errorf("expected transaction_id tx-1, got %s", resp.TransactionID)
		}
		if !resp.Alerted || env.dispatcher.count() != 1 {
			t.Errorf("expected one alert, got alerted=%v enqueued=%d", resp.Alerted, env.dispatcher.count())
		}
	})

	t.Run("AcceptsSmallAmount", func(t *testing.T) {
		before := env.dispatcher.count()
		rr := post(t, env.server, `{"transaction_id":"tx-2","user_id":"alice","amount":"500","currency":"GBP","merchant":"m","location":"UK"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.TransactionResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Status != domain.DecisionAccepted {
			t.Errorf("expected ACCEPTED, got %s", resp.Status)
		}
		if env.dispatcher.count() != before {
			t.Error("small amounts must not alert")
		}
	})

	t.Run("PersistsFactRecord", func(t *testing.T) {
		tx, err := env.repo.GetTransaction(context.Background(), "tx-1")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.Decision != domain.DecisionRejected {
			t.Errorf("expected stored decision REJECTED, got %s", tx.Decision)
		}
		if tx.UserKey == 0 {
			t.Error("expected resolved user key")
		}
		other, _ := env.repo.GetTransaction(context.Background(), "tx-2")
		if other.UserKey != tx.UserKey {
			t.Errorf("expected same user key for alice, got %d and %d", tx.UserKey, other.UserKey)
		}
	})

	t.Run("DuplicateIsConflict", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-1","user_id":"alice","amount":12000,"location":"Nigeria"}`)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := post(t, env.server, "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonNumericAmount", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-3","user_id":"bob","amount":"lots"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-4","user_id":"bob","amount":-5}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "amount") {
			t.Errorf("expected reason to mention amount, got %s", rr.Body.String())
		}
	})

	t.Run("MissingAmount", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-6","user_id":"bob","location":"Nigeria"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "amount is required") {
			t.Errorf("expected amount is required, got %s", rr.Body.String())
		}
		if ok, _ := env.repo.TransactionExists(context.Background(), "tx-6"); ok {
			t.Error("request without amount must not be persisted")
		}
	})

	t.Run("NullAmount", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-7","user_id":"bob","amount":null,"location":"Nigeria"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
		if ok, _ := env.repo.TransactionExists(context.Background(), "tx-7"); ok {
			t.Error("request with null amount must not be persisted")
		}
	})

	t.Run("MissingTransactionID", func(t *testing.T) {
		rr := post(t, env.server, `{"user_id":"bob","amount":10}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := post(t, env.server, `{"transaction_id":"tx-5","user_id":"carol","amount":1500,"location":"USA"}`)
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", rr.Header().Get("Content-Type"))
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
	})
}

func TestScorerUnavailable(t *testing.T) {
	env := createTestServer(t, nil)

	rr := post(t, env.server, `{"transaction_id":"tx-1","user_id":"alice","amount":12000,"location":"Nigeria"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "scorer unavailable") {
		t.Errorf("expected scorer unavailable error, got %s", rr.Body.String())
	}
	if _, err := env.repo.GetTransaction(context.Background(), "tx-1"); err == nil {
		t.Error("failed evaluation must not be persisted")
	}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr = httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503 without model, got %d", rr.Code)
	}
}

// brokenStore fails every save with a storage error.
type brokenStore struct {
	domain.Repository
}

func (brokenStore) SaveTransaction(context.Context, *domain.Transaction) error {
	return errors.New("disk full")
}

func TestSaveFailure(t *testing.T) {
	env := createTestServer(t, loadModel(t))
	h := NewHandler(env.engine, env.users, brokenStore{env.repo}, nil, "test-v1")
	s := NewServer(domain.ServerConfig{Host: "localhost", Port: 8000}, h, false)

	before := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("http"))
	rr := post(t, s, `{"transaction_id":"tx-lost","user_id":"dave","amount":700,"location":"UK"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "ACCEPTED") {
		t.Errorf("unsaved decision must not be returned, got %s", rr.Body.String())
	}
	after := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("http"))
	if after != before+1 {
		t.Errorf("expected persist failure counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestGetTransaction(t *testing.T) {
	env := createTestServer(t, loadModel(t))
	post(t, env.server, `{"transaction_id":"tx-get","user_id":"dave","amount":8000,"location":"USA"}`)

	t.Run("Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-get", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var tx domain.Transaction
		if err := json.Unmarshal(rr.Body.Bytes(), &tx); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if tx.ID != "tx-get" || tx.Rule != domain.RuleHighAmount {
			t.Errorf("unexpected transaction %+v", tx)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/missing", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t, loadModel(t))

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		post(t, env.server, `{"transaction_id":"tx-m","user_id":"erin","amount":700}`)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "sentinel_decisions_total") {
			t.Error("expected decision counter in metrics output")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareKeepsRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("expected X-Request-ID req-123, got %s", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/transaction", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("unexpected allow origin %s", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

func TestIngestBulk(t *testing.T) {
	env := createTestServer(t, loadModel(t))

	t.Run("DisabledWithoutBus", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transactions/bulk", bytes.NewBufferString("[]"))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("QueuesForWorker", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := worker.NewWorker(eventBus, env.repo, env.engine, env.users)
		if err := w.Start(); err != nil {
			t.Fatalf("worker start failed: %v", err)
		}
		defer w.Stop()
		env.handler.EnableBulkIngest(eventBus)

		body := `[
			{"transaction_id":"bulk-a","user_id":"zoe","amount":12000,"location":"Russia"},
			{"transaction_id":"","user_id":"zoe","amount":10},
			{"transaction_id":"bulk-b","user_id":"zoe","amount":300,"location":"USA"},
			{"transaction_id":"bulk-c","user_id":"zoe","location":"USA"}
		]`
		req := httptest.NewRequest(http.MethodPost, "/transactions/bulk", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp BulkResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Accepted != 2 || len(resp.Rejected) != 2 || resp.Rejected[0].Index != 1 || resp.Rejected[1].Index != 3 {
			t.Errorf("unexpected bulk response %+v", resp)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			ok, _ := env.repo.TransactionExists(context.Background(), "bulk-b")
			okA, _ := env.repo.TransactionExists(context.Background(), "bulk-a")
			if ok && okA {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Error("bulk transactions were not persisted")
	})
}
