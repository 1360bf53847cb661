package registry

import "github.com/spachava753/deployeval/internal/models"

// FindByCheckpoint returns the first record registered for checkpointPath,
// or nil if there is none.
func FindByCheckpoint(records []models.ModelRecord, checkpointPath string) *models.ModelRecord {
	for i := range records {
		if records[i].CheckpointPath == checkpointPath {
			return &records[i]
		}
	}
	return nil
}
