package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		original_path TEXT NOT NULL DEFAULT '',
		thumbnail_path TEXT NOT NULL DEFAULT '',
		manifest_path TEXT NOT NULL DEFAULT '',
		thumbnail_failed BOOLEAN NOT NULL DEFAULT FALSE,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		error_kind TEXT NOT NULL DEFAULT '',
		error_detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assets_owner_created_idx ON assets (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS assets_status_created_idx ON assets (status, created_at DESC)`,
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// importSnapshot bulk-loads a JSON store snapshot into Postgres inside a
// single transaction. Existing rows win over snapshot rows.
func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(snapshot.Assets))
	for id := range snapshot.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, key := range ids {
		asset := snapshot.Assets[key]
		id := strings.TrimSpace(asset.ID)
		if id == "" {
			id = key
		}
		createdAt := asset.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		} else {
			createdAt = createdAt.UTC()
		}
		updatedAt := asset.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		} else {
			updatedAt = updatedAt.UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO assets (id, owner_id, title, description, status, original_path, thumbnail_path, manifest_path, thumbnail_failed, size_bytes, error_kind, error_detail, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (id) DO NOTHING`,
			id, strings.TrimSpace(asset.OwnerID), strings.TrimSpace(asset.Title), asset.Description,
			string(asset.Status), asset.OriginalPath, asset.ThumbnailPath, asset.ManifestPath,
			asset.ThumbnailFailed, asset.SizeBytes, asset.ErrorKind, asset.Error,
			createdAt, updatedAt)
		if err != nil {
			return fmt.Errorf("insert asset %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}
