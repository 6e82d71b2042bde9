package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelhouse/internal/models"
)

type dataset struct {
	Assets map[string]models.Asset `json:"assets"`
}

func newDataset() dataset {
	return dataset{Assets: make(map[string]models.Asset)}
}

// Storage is the JSON-file-backed repository. The whole dataset lives in
// memory behind a RWMutex; every mutation is persisted to disk atomically
// before it becomes visible, and rolled back when persistence fails.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage opens (or creates) the JSON store at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Assets == nil {
		s.data.Assets = make(map[string]models.Asset)
	}
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the backing file's directory is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// Close flushes the current dataset to disk.
func (s *Storage) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

func (s *Storage) CreateAsset(ctx context.Context, params CreateAssetParams) (models.Asset, error) {
	owner := strings.TrimSpace(params.OwnerID)
	if owner == "" {
		return models.Asset{}, fmt.Errorf("owner id is required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Asset{}, fmt.Errorf("title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	asset := models.Asset{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Status:      models.AssetPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.data.Assets[asset.ID] = asset
	if err := s.persist(); err != nil {
		delete(s.data.Assets, asset.ID)
		return models.Asset{}, err
	}
	return asset, nil
}

func (s *Storage) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.data.Assets[id]
	if !ok {
		return models.Asset{}, ErrAssetNotFound
	}
	return asset, nil
}

// ListAssets returns assets newest first. An empty ownerID lists every asset.
func (s *Storage) ListAssets(ctx context.Context, ownerID string) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]models.Asset, 0, len(s.data.Assets))
	for _, asset := range s.data.Assets {
		if ownerID != "" && asset.OwnerID != ownerID {
			continue
		}
		assets = append(assets, asset)
	}
	sortAssets(assets)
	return assets, nil
}

// LatestAsset returns the most recently created asset that is ready for
// playback.
func (s *Storage) LatestAsset(ctx context.Context) (models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest models.Asset
	found := false
	for _, asset := range s.data.Assets {
		if asset.Status != models.AssetReady {
			continue
		}
		if !found || asset.CreatedAt.After(latest.CreatedAt) ||
			(asset.CreatedAt.Equal(latest.CreatedAt) && asset.ID > latest.ID) {
			latest = asset
			found = true
		}
	}
	if !found {
		return models.Asset{}, ErrAssetNotFound
	}
	return latest, nil
}

func (s *Storage) UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.Assets[id]
	if !ok {
		return models.Asset{}, ErrAssetNotFound
	}
	asset := prev
	if err := applyAssetUpdate(&asset, update); err != nil {
		return models.Asset{}, err
	}
	asset.UpdatedAt = s.now()
	s.data.Assets[id] = asset
	if err := s.persist(); err != nil {
		s.data.Assets[id] = prev
		return models.Asset{}, err
	}
	return asset, nil
}

func (s *Storage) DeleteAsset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.Assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	delete(s.data.Assets, id)
	if err := s.persist(); err != nil {
		s.data.Assets[id] = prev
		return err
	}
	return nil
}

func applyAssetUpdate(asset *models.Asset, update AssetUpdate) error {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return fmt.Errorf("title cannot be empty")
		}
		asset.Title = title
	}
	if update.Description != nil {
		asset.Description = strings.TrimSpace(*update.Description)
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return fmt.Errorf("invalid asset status %q", *update.Status)
		}
		asset.Status = *update.Status
	}
	if update.OriginalPath != nil {
		asset.OriginalPath = *update.OriginalPath
	}
	if update.ThumbnailPath != nil {
		asset.ThumbnailPath = *update.ThumbnailPath
	}
	if update.ManifestPath != nil {
		asset.ManifestPath = *update.ManifestPath
	}
	if update.ThumbnailFailed != nil {
		asset.ThumbnailFailed = *update.ThumbnailFailed
	}
	if update.SizeBytes != nil {
		asset.SizeBytes = *update.SizeBytes
	}
	if update.ErrorKind != nil {
		asset.ErrorKind = *update.ErrorKind
	}
	if update.Error != nil {
		asset.Error = *update.Error
	}
	return nil
}

func sortAssets(assets []models.Asset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID < assets[j].ID
		}
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
}
