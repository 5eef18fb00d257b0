// Package api exposes the decision engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/logging"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
	"github.com/opensource-finance/sentinelstream/internal/worker"
)

// Evaluator produces final decisions. *engine.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in *domain.TransactionInput) (*domain.FinalDecision, error)
	Ready() bool
	ModelVersion() string
}

// UserResolver maps an external user code to its internal key.
type UserResolver interface {
	Resolve(ctx context.Context, code string) (int64, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  Evaluator
	users   UserResolver
	repo    domain.Repository
	cache   domain.Cache
	ingest  domain.EventBus
	version string
}

// NewHandler creates a new API handler. users, repo and cache may be nil.
func NewHandler(engine Evaluator, users UserResolver, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		engine:  engine,
		users:   users,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// EnableBulkIngest routes POST /transactions/bulk to the ingest topic of bus.
func (h *Handler) EnableBulkIngest(bus domain.EventBus) {
	h.ingest = bus
}

const (
	// maxBodyBytes bounds single transaction request bodies.
	maxBodyBytes = 1 << 20

	maxBulkBodyBytes = 16 << 20
	maxBulkSize      = 1000
)

// CreateTransaction handles POST /transaction: resolve the user, evaluate,
// persist the fact record and return the decision.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.L(ctx)

	var req domain.TransactionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.repo != nil {
		exists, err := h.repo.TransactionExists(ctx, req.TransactionID)
		if err != nil {
			log.Error("failed to check transaction", "tx_id", req.TransactionID, "error", err)
			writeError(w, http.StatusInternalServerError, "transaction store unavailable")
			return
		}
		if exists {
			writeError(w, http.StatusConflict, "transaction already processed")
			return
		}
	}

	var userKey int64
	if h.users != nil {
		key, err := h.users.Resolve(ctx, req.UserID)
		if err != nil {
			log.Error("failed to resolve user", "user", req.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		userKey = key
	}

	in := req.ToInput(userKey)
	result, err := h.engine.Evaluate(ctx, in)
	if err != nil {
		h.writeEvaluateError(ctx, w, in.ID, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, domain.NewTransaction(in, result)); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				writeError(w, http.StatusConflict, "transaction already processed")
				return
			}
			metrics.PersistFailuresTotal.WithLabelValues("http").Inc()
			log.Error("failed to save transaction", "tx_id", in.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist transaction")
			return
		}
	}

	log.Info("transaction decided",
		"tx_id", result.TxID,
		"decision", result.Decision,
		"score", result.Score,
		"alerted", result.Alerted,
		"latency_ms", result.LatencyMs,
	)
	writeJSON(w, http.StatusOK, result.ToResponse())
}

func (h *Handler) writeEvaluateError(ctx context.Context, w http.ResponseWriter, txID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrScorerUnavailable):
		logging.L(ctx).Error("scorer unavailable", "tx_id", txID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "scorer unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.L(ctx).Warn("evaluation abandoned", "tx_id", txID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logging.L(ctx).Error("evaluation failed", "tx_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
	}
}

// BulkRejection reports one bulk item that could not be queued.
type BulkRejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResponse is the response for POST /transactions/bulk.
type BulkResponse struct {
	Accepted int             `json:"accepted"`
	Rejected []BulkRejection `json:"rejected,omitempty"`
}

// IngestBulk handles POST /transactions/bulk. Items are queued for the
// ingest worker and evaluated asynchronously; decisions appear on the
// decision topic and in the store.
func (h *Handler) IngestBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.ingest == nil {
		writeError(w, http.StatusServiceUnavailable, "bulk ingest not enabled")
		return
	}

	var reqs []domain.TransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBulkBodyBytes)).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(reqs) > maxBulkSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d transactions per batch", maxBulkSize))
		return
	}

	var resp BulkResponse
	for i := range reqs {
		if err := worker.Submit(ctx, h.ingest, &reqs[i]); err != nil {
			resp.Rejected = append(resp.Rejected, BulkRejection{Index: i, Error: err.Error()})
			continue
		}
		resp.Accepted++
	}

	logging.L(ctx).Info("bulk ingest queued", "accepted", resp.Accepted, "rejected", len(resp.Rejected))
	writeJSON(w, http.StatusAccepted, resp)
}

// GetTransaction retrieves a persisted transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to get transaction", "id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the model is loaded and the store reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"model": "ok", "repository": "ok"}
	ready := true

	if !h.engine.Ready() {
		checks["model"] = "not loaded"
		ready = false
	}
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			checks["repository"] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":         ready,
		"model_version": h.engine.ModelVersion(),
		"checks":        checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
