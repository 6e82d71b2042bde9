package models

import "time"

// AssetStatus tracks an asset through the ingestion pipeline. Transitions are
// strictly ordered: pending -> stored -> packaging -> ready | failed. Ready
// and failed are terminal.
type AssetStatus string

const (
	AssetPending   AssetStatus = "pending"
	AssetStored    AssetStatus = "stored"
	AssetPackaging AssetStatus = "packaging"
	AssetReady     AssetStatus = "ready"
	AssetFailed    AssetStatus = "failed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s AssetStatus) Valid() bool {
	switch s {
	case AssetPending, AssetStored, AssetPackaging, AssetReady, AssetFailed:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline transitions are allowed.
func (s AssetStatus) Terminal() bool {
	return s == AssetReady || s == AssetFailed
}

// Asset is one uploaded media item and its derived artifacts. The ingestion
// coordinator owns the record until it reaches a terminal status; afterwards
// it is read-only to the pipeline.
type Asset struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Status          AssetStatus `json:"status"`
	OriginalPath    string      `json:"originalPath,omitempty"`
	ThumbnailPath   string      `json:"thumbnailPath,omitempty"`
	ManifestPath    string      `json:"manifestPath,omitempty"`
	ThumbnailFailed bool        `json:"thumbnailFailed,omitempty"`
	SizeBytes       int64       `json:"sizeBytes,omitempty"`
	ErrorKind       string      `json:"errorKind,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
