package backup

import (
	"context"
	"fmt"
	"time"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

// CleanupResult lists what a retention sweep did.
type CleanupResult struct {
	Deleted []string          `json:"deleted"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

// Cleanup deletes every backup older than daysToKeep days. Backups owned by
// a worker are skipped; a failure on one backup does not stop the sweep.
func (e *Engine) Cleanup(ctx context.Context, daysToKeep int) (CleanupResult, error) {
	if daysToKeep < 1 {
		return CleanupResult{}, apperr.Validation("days_to_keep must be at least 1").WithDetail("days_to_keep", fmt.Sprint(daysToKeep))
	}
	cutoff := domain.Timestamp(e.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour))
	old, err := e.backups.Find(ctx, store.Where(store.Lt("created_at", cutoff)), store.SortBy("created_at", false))
	if err != nil {
		return CleanupResult{}, apperr.Storage(err)
	}

	res := CleanupResult{Deleted: []string{}, Skipped: []string{}, Failed: map[string]string{}}
	for _, info := range old {
		if info.InProgress() {
			res.Skipped = append(res.Skipped, info.ID)
			continue
		}
		if err := e.delete(ctx, info); err != nil {
			e.log.Warn().Err(err).Str("backup_id", info.ID).Msg("cleanup could not delete backup")
			res.Failed[info.ID] = err.Error()
			continue
		}
		res.Deleted = append(res.Deleted, info.ID)
	}
	e.log.Info().
		Int("days_to_keep", daysToKeep).
		Int("deleted", len(res.Deleted)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("backup cleanup finished")
	return res, nil
}

// Delete removes a backup's artifact and its record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	info, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	if info.InProgress() {
		return invalidState(fmt.Sprintf("backup %s is %s and cannot be deleted", id, info.Status))
	}
	if err := e.delete(ctx, info); err != nil {
		return apperr.Storage(err)
	}
	e.log.Info().Str("backup_id", id).Msg("backup deleted")
	return nil
}

// delete removes the record only when its status is still terminal, so a
// backup claimed for restore in the meantime survives.
func (e *Engine) delete(ctx context.Context, info domain.BackupInfo) error {
	if err := e.removeArtifacts(ctx, info); err != nil {
		return err
	}
	terminal := []any{string(domain.BackupCompleted), string(domain.BackupFailed), string(domain.BackupCorrupted)}
	_, err := e.store.DeleteOne(ctx, store.Backups, store.Where(store.Eq("id", info.ID), store.In("status", terminal...)))
	return err
}

// StorageInfo describes the artifact store and what it holds.
type StorageInfo struct {
	Driver         string                      `json:"driver"`
	BackupCount    int                         `json:"backup_count"`
	ArtifactCount  int                         `json:"artifact_count"`
	TotalSizeBytes int64                       `json:"total_size_bytes"`
	TotalSizeMB    float64                     `json:"total_size_mb"`
	ByStatus       map[domain.BackupStatus]int `json:"by_status"`
}

func (e *Engine) StorageInfo(ctx context.Context) (StorageInfo, error) {
	infos, err := e.backups.Find(ctx, store.Filter{})
	if err != nil {
		return StorageInfo{}, apperr.Storage(err)
	}
	blobs, err := e.blobs.List(ctx, "")
	if err != nil {
		return StorageInfo{}, apperr.Storage(err)
	}

	out := StorageInfo{
		Driver:        string(e.blobs.Driver()),
		BackupCount:   len(infos),
		ArtifactCount: len(blobs),
		ByStatus:      map[domain.BackupStatus]int{},
	}
	for _, info := range infos {
		out.ByStatus[info.Status]++
	}
	for _, b := range blobs {
		out.TotalSizeBytes += b.Size
	}
	out.TotalSizeMB = float64(out.TotalSizeBytes*100/(1024*1024)) / 100
	return out, nil
}
