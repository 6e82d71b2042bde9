// Package media defines the on-disk layout for ingested assets and the
// filesystem operations the pipeline performs against it. Paths are a pure
// function of (owner, asset) so the manifest, the pipeline, and any static
// file server agree on names without a lookup table.
package media

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	// OriginalBaseName is the stem for the stored original; the normalized
	// source extension is appended.
	OriginalBaseName = "video"
	// DefaultOriginalExt is used when the upload carries no usable extension.
	DefaultOriginalExt = ".mp4"
	// ThumbnailName is the fixed name of the best-effort still image.
	ThumbnailName = "thumbnail.jpg"
	// ManifestDirName holds all DASH output for an asset.
	ManifestDirName = "dash"
	// ManifestName is the DASH manifest file inside ManifestDirName.
	ManifestName = "manifest.mpd"
	// UsersDirName groups asset directories by owner under the root.
	UsersDirName = "users"
)

// Layout maps asset identifiers onto a directory tree rooted at Root:
// <root>/users/<ownerID>/<assetID>/{video<ext>, thumbnail.jpg, dash/...}.
type Layout struct {
	Root string
}

// NewLayout constructs a layout rooted at the provided directory.
func NewLayout(root string) (Layout, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return Layout{}, fmt.Errorf("media root is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve media root: %w", err)
	}
	return Layout{Root: abs}, nil
}

// AssetDir returns the directory holding every artifact for one asset. The
// mapping is collision-free: distinct (owner, asset) pairs always yield
// distinct paths because each identifier occupies its own path segment.
func (l Layout) AssetDir(ownerID, assetID string) string {
	return filepath.Join(l.Root, UsersDirName, ownerID, assetID)
}

// OriginalPath returns the location of the stored original within dir, using
// the normalized extension ext (must include the leading dot).
func (l Layout) OriginalPath(dir, ext string) string {
	return filepath.Join(dir, OriginalBaseName+ext)
}

// ThumbnailPath returns the location of the asset's thumbnail within dir.
func (l Layout) ThumbnailPath(dir string) string {
	return filepath.Join(dir, ThumbnailName)
}

// ManifestDir returns the DASH output directory within dir.
func (l Layout) ManifestDir(dir string) string {
	return filepath.Join(dir, ManifestDirName)
}

// ManifestPath returns the DASH manifest location within dir.
func (l Layout) ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestDirName, ManifestName)
}

// NormalizeExt lowercases the extension of the provided filename and falls
// back to DefaultOriginalExt when the name carries none.
func NormalizeExt(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(path.Ext(filename)))
	if ext == "" || ext == "." {
		return DefaultOriginalExt
	}
	return ext
}

// InitSegmentName returns the fixed init segment name for a representation.
func InitSegmentName(representationID int) string {
	return fmt.Sprintf("init-stream%d.m4s", representationID)
}

// SegmentName returns the templated media segment name for a representation
// and 1-based sequence number.
func SegmentName(representationID, sequence int) string {
	return fmt.Sprintf("chunk-stream%d-%05d.m4s", representationID, sequence)
}

// InitSegmentTemplate and SegmentTemplate are the ffmpeg-side naming
// templates matching InitSegmentName and SegmentName.
const (
	InitSegmentTemplate = "init-stream$RepresentationID$.m4s"
	SegmentTemplate     = "chunk-stream$RepresentationID$-$Number%05d$.m4s"
)

// SegmentPrefix returns the prefix shared by every media segment of a
// representation, used when scanning output directories.
func SegmentPrefix(representationID int) string {
	return fmt.Sprintf("chunk-stream%d-", representationID)
}

// ValidID reports whether an identifier is safe to use as a single path
// segment under the layout root.
func ValidID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	if strings.ContainsAny(id, "/\\") {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	return true
}
