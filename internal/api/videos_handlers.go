package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"reelhouse/internal/ingestion"
	"reelhouse/internal/models"
	"reelhouse/internal/storage"
)

type videoResponse struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status"`
	SizeBytes       int64  `json:"sizeBytes"`
	ThumbnailFailed bool   `json:"thumbnailFailed,omitempty"`
	HasThumbnail    bool   `json:"hasThumbnail"`
	ErrorKind       string `json:"errorKind,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func newVideoResponse(asset models.Asset) videoResponse {
	return videoResponse{
		ID:              asset.ID,
		OwnerID:         asset.OwnerID,
		Title:           asset.Title,
		Description:     asset.Description,
		Status:          string(asset.Status),
		SizeBytes:       asset.SizeBytes,
		ThumbnailFailed: asset.ThumbnailFailed,
		HasThumbnail:    asset.ThumbnailPath != "",
		ErrorKind:       asset.ErrorKind,
		Error:           asset.Error,
		CreatedAt:       asset.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       asset.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// Videos handles the collection endpoint: GET lists, POST ingests.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
		assets, err := h.Store.ListAssets(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("could not list videos"))
			return
		}
		response := make([]videoResponse, 0, len(assets))
		for _, asset := range assets {
			response = append(response, newVideoResponse(asset))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		h.createVideo(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// VideoByID handles /api/videos/{id} and its subresources.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	if path == "" {
		writeError(w, http.StatusNotFound, errors.New("video id missing"))
		return
	}
	parts := strings.Split(path, "/")
	id := strings.TrimSpace(parts[0])

	if id == "latest" && len(parts) == 1 {
		h.latestVideo(w, r)
		return
	}
	if len(parts) == 2 && strings.TrimSpace(parts[1]) == "reingest" {
		h.reingestVideo(w, r, id)
		return
	}
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		asset, err := h.Store.GetAsset(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrAssetNotFound) {
				writeError(w, http.StatusNotFound, errors.New("video not found"))
				return
			}
			writeError(w, http.StatusInternalServerError, errors.New("could not load video"))
			return
		}
		writeJSON(w, http.StatusOK, newVideoResponse(asset))
	case http.MethodDelete:
		if err := h.Pipeline.Remove(r.Context(), id); err != nil {
			handlePipelineError(w, err, id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) latestVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	asset, err := h.Store.LatestAsset(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, errors.New("no videos available"))
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("could not load latest video"))
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(asset))
}

func (h *Handler) reingestVideo(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	asset, err := h.Pipeline.Reingest(r.Context(), id)
	if err != nil {
		handlePipelineError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(asset))
}

// uploadedMedia is a multipart file part spooled to a temp file so the
// pipeline can read it after the form fields have been consumed, regardless
// of part order.
type uploadedMedia struct {
	tempPath     string
	size         int64
	originalName string
}

func (m *uploadedMedia) discard() {
	if m != nil && m.tempPath != "" {
		_ = os.Remove(m.tempPath)
	}
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		writeError(w, http.StatusUnsupportedMediaType, errors.New("multipart/form-data required"))
		return
	}
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid multipart payload"))
		return
	}

	req := ingestion.IngestRequest{}
	var media *uploadedMedia
	defer func() { media.discard() }()

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, statusForBodyError(err), fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "video" {
			if media != nil {
				_ = part.Close()
				continue
			}
			saved, saveErr := saveMultipartFile(part)
			if saveErr != nil {
				writeError(w, statusForBodyError(saveErr), saveErr)
				return
			}
			media = saved
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			writeError(w, statusForBodyError(readErr), fmt.Errorf("read form field: %w", readErr))
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "ownerId":
			req.OwnerID = value
		case "title":
			req.Title = value
		case "description":
			req.Description = value
		}
	}

	if media != nil {
		req.Filename = media.originalName
		file, err := os.Open(media.tempPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errors.New("upload unavailable"))
			return
		}
		defer file.Close()
		req.Content = file
	}

	asset, err := h.Pipeline.Ingest(r.Context(), req)
	if err != nil {
		handlePipelineError(w, err, asset.ID)
		return
	}
	writeJSON(w, http.StatusCreated, newVideoResponse(asset))
}

func saveMultipartFile(part *multipart.Part) (*uploadedMedia, error) {
	defer part.Close()
	tmp, err := os.CreateTemp("", "reelhouse-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &uploadedMedia{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: part.FileName(),
	}, nil
}

// statusForBodyError distinguishes an oversized body from a malformed one.
func statusForBodyError(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	if strings.Contains(err.Error(), "request body too large") {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
