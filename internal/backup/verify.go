package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"medipos/m/domain"
	"medipos/m/internal/blob/core"
	"medipos/m/internal/store"
)

// VerifyResult reports the outcome of an integrity check.
type VerifyResult struct {
	Valid              bool                `json:"valid"`
	Status             domain.BackupStatus `json:"status"`
	Message            string              `json:"message"`
	ExpectedChecksum   string              `json:"expected_checksum,omitempty"`
	CalculatedChecksum string              `json:"calculated_checksum,omitempty"`
	FileSize           int64               `json:"file_size"`
}

// Verify checks that a backup's artifact is present and intact. A failed
// check marks the backup corrupted; a passing check on a corrupted backup
// marks it completed again.
func (e *Engine) Verify(ctx context.Context, id string) (VerifyResult, error) {
	info, err := e.Get(ctx, id)
	if err != nil {
		return VerifyResult{}, err
	}
	if info.Status != domain.BackupCompleted && info.Status != domain.BackupCorrupted {
		return VerifyResult{}, invalidState(fmt.Sprintf("backup %s is %s and cannot be verified", id, info.Status))
	}

	start := time.Now()
	var res VerifyResult
	if info.Archived {
		res, err = e.verifyArchive(ctx, info)
	} else {
		res, err = e.verifyFolder(ctx, info)
	}
	if err != nil {
		e.metrics.RecordBackup("verify", false, time.Since(start))
		return VerifyResult{}, err
	}

	from := []domain.BackupStatus{domain.BackupCompleted, domain.BackupCorrupted}
	to := domain.BackupCompleted
	if !res.Valid {
		to = domain.BackupCorrupted
	}
	updated, err := e.transition(ctx, id, from, to, store.Document{})
	if err != nil {
		e.metrics.RecordBackup("verify", false, time.Since(start))
		return VerifyResult{}, err
	}
	res.Status = updated.Status
	e.metrics.RecordBackup("verify", res.Valid, time.Since(start))

	ev := e.log.Info()
	if !res.Valid {
		ev = e.log.Warn()
	}
	ev.Str("backup_id", id).Bool("valid", res.Valid).Str("message", res.Message).Msg("backup verified")
	return res, nil
}

func (e *Engine) verifyArchive(ctx context.Context, info domain.BackupInfo) (VerifyResult, error) {
	res := VerifyResult{ExpectedChecksum: info.Checksum}
	_, body, err := e.blobs.Get(ctx, info.FilePath)
	if errors.Is(err, core.ErrNotFound) {
		res.Message = "backup file not found"
		return res, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("open artifact: %w", err)
	}
	defer body.Close()

	scan, err := scanArchive(body)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read artifact: %w", err)
	}
	res.CalculatedChecksum = scan.checksum
	res.FileSize = scan.size

	switch {
	case info.Checksum != "" && scan.checksum != info.Checksum:
		res.Message = "checksum mismatch"
	case scan.readErr != nil:
		res.Message = "archive is unreadable: " + scan.readErr.Error()
	case !scan.hasManifest:
		res.Message = manifestFile + " missing from archive"
	default:
		res.Valid = true
		res.Message = "backup is valid"
	}
	return res, nil
}

func (e *Engine) verifyFolder(ctx context.Context, info domain.BackupInfo) (VerifyResult, error) {
	var res VerifyResult
	blobs, err := e.blobs.List(ctx, info.FilePath)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("list artifact: %w", err)
	}
	if len(blobs) == 0 {
		res.Message = "backup folder not found"
		return res, nil
	}

	present := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		present[path.Base(b.Key)] = true
		res.FileSize += b.Size
	}
	if !present[manifestFile] {
		res.Message = manifestFile + " missing from backup folder"
		return res, nil
	}
	for coll := range info.DatabaseCollections {
		if !present[coll+".json"] {
			res.Message = fmt.Sprintf("collection file %s.json missing", coll)
			return res, nil
		}
	}
	if info.IncludesSettings && !present[settingsFile] {
		res.Message = settingsFile + " missing from backup folder"
		return res, nil
	}
	res.Valid = true
	res.Message = "backup is valid"
	return res, nil
}
