package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"reelhouse/internal/media"
	"reelhouse/internal/models"
	"reelhouse/internal/observability/metrics"
	"reelhouse/internal/storage"
)

// Cleaner removes on-disk artifacts for assets. Every operation is
// idempotent: removing something that is already gone succeeds.
type Cleaner struct {
	layout  media.Layout
	fs      media.FS
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewCleaner constructs a Cleaner over the given media layout.
func NewCleaner(layout media.Layout, fs media.FS, logger *slog.Logger, recorder *metrics.Recorder) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{layout: layout, fs: fs, logger: logger, metrics: recorder}
}

// PurgeAsset removes the asset's entire directory tree. Used when an asset
// record is deleted, when an ingest is rolled back, and when packaging fails
// terminally: a failed asset keeps its record but no files.
func (c *Cleaner) PurgeAsset(asset models.Asset) error {
	dir := c.layout.AssetDir(asset.OwnerID, asset.ID)
	if err := c.fs.Remove(dir); err != nil {
		return fmt.Errorf("purge asset %s: %w", asset.ID, err)
	}
	c.metrics.CleanupPerformed()
	return nil
}

// SweepOrphans walks the media root and removes asset directories that no
// longer have a datastore record. It returns how many directories were
// removed.
func (c *Cleaner) SweepOrphans(ctx context.Context, repo storage.Repository) (int, error) {
	usersDir := filepath.Join(c.layout.Root, media.UsersDirName)
	owners, err := os.ReadDir(usersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list owners: %w", err)
	}

	removed := 0
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		ownerDir := filepath.Join(usersDir, owner.Name())
		entries, err := os.ReadDir(ownerDir)
		if err != nil {
			return removed, fmt.Errorf("list assets of %s: %w", owner.Name(), err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.IsDir() {
				continue
			}
			_, err := repo.GetAsset(ctx, entry.Name())
			if err == nil {
				continue
			}
			if err != storage.ErrAssetNotFound {
				return removed, fmt.Errorf("look up asset %s: %w", entry.Name(), err)
			}
			if err := c.fs.Remove(filepath.Join(ownerDir, entry.Name())); err != nil {
				return removed, fmt.Errorf("remove orphan %s: %w", entry.Name(), err)
			}
			c.logger.Info("removed orphaned asset directory", "owner", owner.Name(), "asset_id", entry.Name())
			c.metrics.CleanupPerformed()
			removed++
		}
	}
	return removed, nil
}
