// Package ingestion drives an upload from raw bytes to a playable asset:
// register the record, store the original, grab a thumbnail, package to DASH,
// verify the output, and flip the record to ready. Each step either advances
// the asset's status or rolls back what the failed step left behind.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"reelhouse/internal/manifest"
	"reelhouse/internal/media"
	"reelhouse/internal/models"
	"reelhouse/internal/observability/logging"
	"reelhouse/internal/observability/metrics"
	"reelhouse/internal/storage"
	"reelhouse/internal/transcode"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
)

// Packager runs the DASH packaging job for one asset.
type Packager interface {
	Run(ctx context.Context, assetID, inputPath, outputDir string) (transcode.Result, error)
}

// Thumbnailer produces the still image for one asset. Its failures are
// recorded but never fail an ingest.
type Thumbnailer interface {
	Generate(ctx context.Context, inputPath, outputPath string) error
}

// VerifyFunc checks packaging output for completeness.
type VerifyFunc func(dashDir string, ladder transcode.Ladder) error

// IngestRequest carries one upload into the pipeline.
type IngestRequest struct {
	OwnerID     string
	Title       string
	Description string
	Filename    string
	Content     io.Reader
}

// Config wires the coordinator's collaborators.
type Config struct {
	Repository  storage.Repository
	Layout      media.Layout
	FS          media.FS
	Packager    Packager
	Thumbnailer Thumbnailer
	Verify      VerifyFunc
	Ladder      transcode.Ladder
	Cleaner     *Cleaner
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Coordinator owns the ingest pipeline.
type Coordinator struct {
	repo    storage.Repository
	layout  media.Layout
	fs      media.FS
	pack    Packager
	thumbs  Thumbnailer
	verify  VerifyFunc
	ladder  transcode.Ladder
	cleaner *Cleaner
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg.FS == nil {
		cfg.FS = media.DiskFS{}
	}
	if cfg.Packager == nil {
		return nil, fmt.Errorf("packager is required")
	}
	if cfg.Ladder.Video == nil {
		cfg.Ladder = transcode.DefaultLadder()
	}
	if cfg.Verify == nil {
		cfg.Verify = manifest.Verify
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = NewCleaner(cfg.Layout, cfg.FS, cfg.Logger, cfg.Metrics)
	}
	return &Coordinator{
		repo:    cfg.Repository,
		layout:  cfg.Layout,
		fs:      cfg.FS,
		pack:    cfg.Packager,
		thumbs:  cfg.Thumbnailer,
		verify:  cfg.Verify,
		ladder:  cfg.Ladder,
		cleaner: cfg.Cleaner,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Ingest runs the full pipeline for one upload. On success the returned asset
// is ready for playback. On failure the returned error is a *Failure whose
// kind identifies the failed stage; the asset record, if it survives, carries
// the same kind.
func (c *Coordinator) Ingest(ctx context.Context, req IngestRequest) (models.Asset, error) {
	if err := validateRequest(req); err != nil {
		c.metrics.IngestCompleted("rejected")
		return models.Asset{}, err
	}

	asset, err := c.repo.CreateAsset(ctx, storage.CreateAssetParams{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		c.metrics.IngestCompleted("failed")
		return models.Asset{}, failStorage("could not register asset", err)
	}

	ctx = logging.ContextWithAssetID(ctx, asset.ID)
	log := logging.WithContext(ctx, c.logger)
	log.Info("ingest accepted", "owner_id", asset.OwnerID, "title", asset.Title)

	dir := c.layout.AssetDir(asset.OwnerID, asset.ID)
	if err := c.fs.Ensure(dir); err != nil {
		// No artifacts exist yet; drop the orphan record instead of
		// leaving a pending asset nothing can ever advance.
		c.discardRecord(ctx, asset, log)
		c.metrics.IngestCompleted("failed")
		return models.Asset{}, failStorage("could not create asset directory", err)
	}

	originalPath := c.layout.OriginalPath(dir, media.NormalizeExt(req.Filename))
	size, err := c.fs.Store(originalPath, req.Content)
	if err != nil {
		c.rollbackEmptyAsset(ctx, asset, log)
		c.metrics.IngestCompleted("failed")
		return models.Asset{}, failStorage("could not store upload", err)
	}

	stored := models.AssetStored
	asset, err = c.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{
		Status:       &stored,
		OriginalPath: &originalPath,
		SizeBytes:    &size,
	})
	if err != nil {
		c.rollbackEmptyAsset(ctx, asset, log)
		c.metrics.IngestCompleted("failed")
		return models.Asset{}, failStorage("could not record stored upload", err)
	}
	log.Info("original stored", "path", originalPath, "size_bytes", size)

	asset = c.generateThumbnail(ctx, asset, dir, originalPath, log)

	asset, ferr := c.packageAsset(ctx, asset, dir, originalPath, log)
	if ferr != nil {
		c.metrics.IngestCompleted("failed")
		return asset, ferr
	}
	c.metrics.IngestCompleted("success")
	return asset, nil
}

// Reingest re-runs packaging for an asset whose original is still on disk:
// ready assets after a ladder change, or stored assets whose packaging was
// rejected for capacity. Failed assets have no files left and are rejected.
func (c *Coordinator) Reingest(ctx context.Context, assetID string) (models.Asset, error) {
	asset, err := c.repo.GetAsset(ctx, assetID)
	if err != nil {
		if err == storage.ErrAssetNotFound {
			return models.Asset{}, err
		}
		return models.Asset{}, failStorage("could not load asset", err)
	}
	if asset.Status == models.AssetPending || asset.OriginalPath == "" {
		return models.Asset{}, failValidation("asset has no stored original to package")
	}

	ctx = logging.ContextWithAssetID(ctx, asset.ID)
	log := logging.WithContext(ctx, c.logger)
	log.Info("reingest requested", "status", string(asset.Status))

	dir := c.layout.AssetDir(asset.OwnerID, asset.ID)
	if asset.ThumbnailPath == "" || asset.ThumbnailFailed {
		asset = c.generateThumbnail(ctx, asset, dir, asset.OriginalPath, log)
	}
	asset, ferr := c.packageAsset(ctx, asset, dir, asset.OriginalPath, log)
	if ferr != nil {
		return asset, ferr
	}
	return asset, nil
}

// Remove deletes the asset record and its entire directory tree.
func (c *Coordinator) Remove(ctx context.Context, assetID string) error {
	asset, err := c.repo.GetAsset(ctx, assetID)
	if err != nil {
		if err == storage.ErrAssetNotFound {
			return err
		}
		return failStorage("could not load asset", err)
	}
	if c.pack != nil {
		if inFlight, ok := c.pack.(interface{ InFlight(string) bool }); ok && inFlight.InFlight(assetID) {
			return &Failure{Kind: KindAssetBusy, Message: "asset is being packaged"}
		}
	}
	if err := c.repo.DeleteAsset(ctx, assetID); err != nil {
		if err == storage.ErrAssetNotFound {
			return err
		}
		return failStorage("could not delete asset record", err)
	}
	if err := c.cleaner.PurgeAsset(asset); err != nil {
		// The record is gone; the directory is now an orphan the sweeper
		// will pick up.
		logging.WithContext(ctx, c.logger).Warn("asset directory not removed", "asset_id", assetID, "error", err)
	}
	return nil
}

// packageAsset runs transcode, verifies the output, and advances the record
// to ready. On terminal failures it marks the record failed and removes the
// asset's files.
func (c *Coordinator) packageAsset(ctx context.Context, asset models.Asset, dir, originalPath string, log *slog.Logger) (models.Asset, *Failure) {
	if inFlight, ok := c.pack.(interface{ InFlight(string) bool }); ok && inFlight.InFlight(asset.ID) {
		return asset, &Failure{Kind: KindAssetBusy, Message: "asset is already being packaged"}
	}

	prevStatus := asset.Status
	dashDir := c.layout.ManifestDir(dir)
	if err := c.fs.Remove(dashDir); err != nil {
		return c.failAsset(ctx, asset, failStorage("could not reset packaging directory", err), log)
	}
	if err := c.fs.Ensure(dashDir); err != nil {
		return c.failAsset(ctx, asset, failStorage("could not create packaging directory", err), log)
	}

	packaging := models.AssetPackaging
	empty := ""
	asset, err := c.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{
		Status:    &packaging,
		ErrorKind: &empty,
		Error:     &empty,
	})
	if err != nil {
		return asset, failStorage("could not mark asset packaging", err)
	}

	result, err := c.pack.Run(ctx, asset.ID, originalPath, dashDir)
	if err != nil {
		failure := classifyPackaging(err)
		if !failure.terminal() {
			// Admission rejections are retryable; put the record back
			// where it was instead of stranding it in packaging.
			log.Warn("packaging not admitted", "kind", string(failure.Kind))
			if reverted, uerr := c.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{Status: &prevStatus}); uerr == nil {
				asset = reverted
			}
			return asset, failure
		}
		return c.failAsset(ctx, asset, failure, log)
	}
	if err := c.verify(dashDir, c.ladder); err != nil {
		return c.failAsset(ctx, asset, classifyPackaging(err), log)
	}

	ready := models.AssetReady
	asset, err = c.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{
		Status:       &ready,
		ManifestPath: &result.ManifestPath,
	})
	if err != nil {
		return c.failAsset(ctx, asset, failStorage("could not mark asset ready", err), log)
	}
	log.Info("asset ready", "manifest", result.ManifestPath, "elapsed", result.Elapsed)
	return asset, nil
}

// failAsset records a terminal failure and removes every file under the
// asset's directory. The record survives with the failure kind so callers can
// see what happened; the artifacts do not. Non-terminal failures pass through
// untouched.
func (c *Coordinator) failAsset(ctx context.Context, asset models.Asset, failure *Failure, log *slog.Logger) (models.Asset, *Failure) {
	log.Error("ingest step failed", "kind", string(failure.Kind), "error", failure.Error())
	if !failure.terminal() {
		return asset, failure
	}

	failed := models.AssetFailed
	kind := string(failure.Kind)
	detail := failure.Message
	empty := ""
	updated, err := c.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{
		Status:        &failed,
		ErrorKind:     &kind,
		Error:         &detail,
		OriginalPath:  &empty,
		ThumbnailPath: &empty,
		ManifestPath:  &empty,
	})
	if err != nil {
		log.Error("could not mark asset failed", "error", err)
	} else {
		asset = updated
	}
	if err := c.cleaner.PurgeAsset(asset); err != nil {
		log.Warn("failed asset directory not removed", "error", err)
	}
	return asset, failure
}

// generateThumbnail is best-effort: a failure flags the record and moves on.
func (c *Coordinator) generateThumbnail(ctx context.Context, asset models.Asset, dir, originalPath string, log *slog.Logger) models.Asset {
	if c.thumbs == nil {
		return asset
	}
	thumbPath := c.layout.ThumbnailPath(dir)
	update := storage.AssetUpdate{}
	if err := c.thumbs.Generate(ctx, originalPath, thumbPath); err != nil {
		log.Warn("thumbnail generation failed", "error", err)
		c.metrics.ThumbnailFailed()
		flag := true
		update.ThumbnailFailed = &flag
	} else {
		flag := false
		update.ThumbnailFailed = &flag
		update.ThumbnailPath = &thumbPath
	}
	updated, err := c.repo.UpdateAsset(ctx, asset.ID, update)
	if err != nil {
		log.Warn("could not record thumbnail outcome", "error", err)
		return asset
	}
	return updated
}

func (c *Coordinator) discardRecord(ctx context.Context, asset models.Asset, log *slog.Logger) {
	if err := c.repo.DeleteAsset(ctx, asset.ID); err != nil && err != storage.ErrAssetNotFound {
		log.Warn("orphan asset record not removed", "asset_id", asset.ID, "error", err)
	}
}

func (c *Coordinator) rollbackEmptyAsset(ctx context.Context, asset models.Asset, log *slog.Logger) {
	if err := c.cleaner.PurgeAsset(asset); err != nil {
		log.Warn("asset directory not removed", "asset_id", asset.ID, "error", err)
	}
	c.discardRecord(ctx, asset, log)
}

func validateRequest(req IngestRequest) *Failure {
	if strings.TrimSpace(req.OwnerID) == "" {
		return failValidation("ownerId is required")
	}
	if !media.ValidID(strings.TrimSpace(req.OwnerID)) {
		return failValidation("ownerId contains invalid characters")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return failValidation("title is required")
	}
	if len(title) > maxTitleLength {
		return failValidation(fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	}
	if len(req.Description) > maxDescriptionLength {
		return failValidation(fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
	}
	if strings.TrimSpace(req.Filename) == "" {
		return failValidation("a video file is required")
	}
	if req.Content == nil {
		return failValidation("a video file is required")
	}
	return nil
}
