package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"reelhouse/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the asset datastore
// so it can be exported from the JSON store and replayed into Postgres.
type Snapshot struct {
	Assets map[string]models.Asset `json:"assets"`
}

// SnapshotCounts summarises the size of a Snapshot so operators can see how
// much data an import will move.
type SnapshotCounts struct {
	Assets int
	Ready  int
	Failed int
}

// LoadSnapshotFromJSON reads a previously persisted JSON store file from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Assets == nil {
		s.Assets = make(map[string]models.Asset)
	}
}

// Counts walks a Snapshot and tallies the records that will be imported.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	counts := SnapshotCounts{Assets: len(s.Assets)}
	for _, asset := range s.Assets {
		switch asset.Status {
		case models.AssetReady:
			counts.Ready++
		case models.AssetFailed:
			counts.Failed++
		}
	}
	return counts
}

// ImportSnapshotToPostgres hands a Snapshot to the postgres repository so the
// serialised datastore state can be bulk-loaded.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}
