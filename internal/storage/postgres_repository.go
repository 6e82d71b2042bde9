package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelhouse/internal/models"
)

const assetColumns = "id, owner_id, title, description, status, original_path, thumbnail_path, manifest_path, thumbnail_failed, size_bytes, error_kind, error_detail, created_at, updated_at"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration before returning.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not initialised")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreateAsset(ctx context.Context, params CreateAssetParams) (models.Asset, error) {
	owner := strings.TrimSpace(params.OwnerID)
	if owner == "" {
		return models.Asset{}, fmt.Errorf("owner id is required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Asset{}, fmt.Errorf("title is required")
	}

	now := r.now()
	asset := models.Asset{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Status:      models.AssetPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.pool.Exec(ctx,
		"INSERT INTO assets (id, owner_id, title, description, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		asset.ID, asset.OwnerID, asset.Title, asset.Description, string(asset.Status), asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return models.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return models.Asset{}, fmt.Errorf("select asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) ListAssets(ctx context.Context, ownerID string) ([]models.Asset, error) {
	query := "SELECT " + assetColumns + " FROM assets ORDER BY created_at DESC, id"
	args := []any{}
	if ownerID != "" {
		query = "SELECT " + assetColumns + " FROM assets WHERE owner_id = $1 ORDER BY created_at DESC, id"
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (r *postgresRepository) LatestAsset(ctx context.Context) (models.Asset, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		string(models.AssetReady))
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return models.Asset{}, fmt.Errorf("select latest asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.Asset, error) {
	sets := make([]string, 0, 10)
	args := make([]any, 0, 12)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Asset{}, fmt.Errorf("title cannot be empty")
		}
		add("title", title)
	}
	if update.Description != nil {
		add("description", strings.TrimSpace(*update.Description))
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return models.Asset{}, fmt.Errorf("invalid asset status %q", *update.Status)
		}
		add("status", string(*update.Status))
	}
	if update.OriginalPath != nil {
		add("original_path", *update.OriginalPath)
	}
	if update.ThumbnailPath != nil {
		add("thumbnail_path", *update.ThumbnailPath)
	}
	if update.ManifestPath != nil {
		add("manifest_path", *update.ManifestPath)
	}
	if update.ThumbnailFailed != nil {
		add("thumbnail_failed", *update.ThumbnailFailed)
	}
	if update.SizeBytes != nil {
		add("size_bytes", *update.SizeBytes)
	}
	if update.ErrorKind != nil {
		add("error_kind", *update.ErrorKind)
	}
	if update.Error != nil {
		add("error_detail", *update.Error)
	}
	add("updated_at", r.now())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE assets SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), assetColumns)

	row := r.pool.QueryRow(ctx, query, args...)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return models.Asset{}, fmt.Errorf("update asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) DeleteAsset(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM assets WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func scanAsset(row pgx.Row) (models.Asset, error) {
	var (
		asset  models.Asset
		status string
	)
	err := row.Scan(
		&asset.ID,
		&asset.OwnerID,
		&asset.Title,
		&asset.Description,
		&status,
		&asset.OriginalPath,
		&asset.ThumbnailPath,
		&asset.ManifestPath,
		&asset.ThumbnailFailed,
		&asset.SizeBytes,
		&asset.ErrorKind,
		&asset.Error,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if err != nil {
		return models.Asset{}, err
	}
	asset.Status = models.AssetStatus(status)
	asset.CreatedAt = asset.CreatedAt.UTC()
	asset.UpdatedAt = asset.UpdatedAt.UTC()
	return asset, nil
}
