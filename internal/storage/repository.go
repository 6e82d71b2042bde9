// Package storage persists asset records. Two backends implement the same
// Repository contract: a JSON snapshot store for single-node deployments and
// a Postgres repository for anything larger.
package storage

import (
	"context"
	"errors"

	"reelhouse/internal/models"
)

// ErrAssetNotFound is returned by lookups and updates that reference an asset
// id absent from the datastore.
var ErrAssetNotFound = errors.New("asset not found")

// CreateAssetParams captures the attributes set when registering a new asset.
// The record starts in the pending state with a generated id.
type CreateAssetParams struct {
	OwnerID     string
	Title       string
	Description string
}

// AssetUpdate mutates a stored asset. Nil fields are left untouched, so the
// ingestion pipeline can advance status and attach artifact paths in separate
// steps without clobbering concurrent writes to other fields.
type AssetUpdate struct {
	Title           *string
	Description     *string
	Status          *models.AssetStatus
	OriginalPath    *string
	ThumbnailPath   *string
	ManifestPath    *string
	ThumbnailFailed *bool
	SizeBytes       *int64
	ErrorKind       *string
	Error           *string
}

// Repository exposes the datastore operations required by API handlers and
// the ingestion pipeline.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateAsset(ctx context.Context, params CreateAssetParams) (models.Asset, error)
	GetAsset(ctx context.Context, id string) (models.Asset, error)
	ListAssets(ctx context.Context, ownerID string) ([]models.Asset, error)
	LatestAsset(ctx context.Context) (models.Asset, error)
	UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.Asset, error)
	DeleteAsset(ctx context.Context, id string) error
}

var (
	_ Repository = (*Storage)(nil)
	_ Repository = (*postgresRepository)(nil)
)
