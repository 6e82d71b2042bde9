// Package api implements the HTTP surface: video CRUD, ingest, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"reelhouse/internal/ingestion"
	"reelhouse/internal/models"
	"reelhouse/internal/storage"
)

// Pipeline is the slice of the ingestion coordinator the handlers use; tests
// substitute a fake.
type Pipeline interface {
	Ingest(ctx context.Context, req ingestion.IngestRequest) (models.Asset, error)
	Reingest(ctx context.Context, assetID string) (models.Asset, error)
	Remove(ctx context.Context, assetID string) error
}

// Handler bundles the datastore and pipeline behind the HTTP endpoints.
type Handler struct {
	Store          storage.Repository
	Pipeline       Pipeline
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(store storage.Repository, pipeline Pipeline) *Handler {
	return &Handler{Store: store, Pipeline: pipeline}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// writeFailure maps a pipeline failure onto its HTTP status and emits the
// failure kind alongside the message so clients can branch without string
// matching.
func writeFailure(w http.ResponseWriter, failure *ingestion.Failure, assetID string) {
	payload := map[string]string{
		"error": failure.Message,
		"kind":  string(failure.Kind),
	}
	if assetID != "" {
		payload["assetId"] = assetID
	}
	writeJSON(w, failureStatus(failure.Kind), payload)
}

func failureStatus(kind ingestion.FailureKind) int {
	switch kind {
	case ingestion.KindValidation:
		return http.StatusUnprocessableEntity
	case ingestion.KindAssetBusy:
		return http.StatusConflict
	case ingestion.KindConcurrencyLimit:
		return http.StatusTooManyRequests
	case ingestion.KindInputUnreadable:
		return http.StatusUnprocessableEntity
	case ingestion.KindEncoderCrashed, ingestion.KindEncodingTimeout,
		ingestion.KindEncodingCancelled, ingestion.KindIncompleteManifest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handlePipelineError routes any ingest/reingest/remove error to the right
// response.
func handlePipelineError(w http.ResponseWriter, err error, assetID string) {
	if errors.Is(err, storage.ErrAssetNotFound) {
		writeError(w, http.StatusNotFound, errors.New("video not found"))
		return
	}
	if failure, ok := ingestion.AsFailure(err); ok {
		writeFailure(w, failure, assetID)
		return
	}
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

// Health reports liveness plus datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}
