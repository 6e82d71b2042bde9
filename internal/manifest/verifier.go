// Package manifest checks DASH packaging output for structural completeness.
// The external encoder is untrusted: it can exit zero while emitting partial
// output, so the verifier is the final gate before an asset becomes ready.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reelhouse/internal/media"
	"reelhouse/internal/transcode"
)

// ErrIncompleteManifest marks a verification failure. Use errors.Is to detect
// it; the concrete VerificationError carries what exactly was missing.
var ErrIncompleteManifest = errors.New("incomplete manifest")

// VerificationError lists the artifacts expected by the ladder that were not
// found in the output directory.
type VerificationError struct {
	Missing []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("incomplete manifest: missing %s", strings.Join(e.Missing, ", "))
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrIncompleteManifest
}

// Verify confirms that the DASH directory contains a usable manifest for the
// ladder: a non-empty manifest file, and for every video representation an
// init segment plus at least one media segment. The audio representation is
// optional; its absence never fails verification.
func Verify(dashDir string, ladder transcode.Ladder) error {
	manifestPath := filepath.Join(dashDir, media.ManifestName)
	info, err := os.Stat(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &VerificationError{Missing: []string{media.ManifestName}}
		}
		return fmt.Errorf("stat manifest: %w", err)
	}
	if info.Size() == 0 {
		return &VerificationError{Missing: []string{media.ManifestName + " (empty)"}}
	}

	entries, err := os.ReadDir(dashDir)
	if err != nil {
		return fmt.Errorf("list output: %w", err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names[entry.Name()] = struct{}{}
		}
	}

	var missing []string
	for _, rep := range ladder.Video {
		if _, ok := names[media.InitSegmentName(rep.ID)]; !ok {
			missing = append(missing, media.InitSegmentName(rep.ID))
		}
		if !hasSegment(names, rep.ID) {
			missing = append(missing, media.SegmentPrefix(rep.ID)+"*")
		}
	}
	if len(missing) > 0 {
		return &VerificationError{Missing: missing}
	}
	return nil
}

func hasSegment(names map[string]struct{}, representationID int) bool {
	prefix := media.SegmentPrefix(representationID)
	for name := range names {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".m4s") {
			return true
		}
	}
	return false
}
