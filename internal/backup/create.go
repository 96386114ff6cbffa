package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/blob/core"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

// manifest is the backup_metadata.json document written into every backup.
type manifest struct {
	BackupInfo       domain.BackupInfo `json:"backup_info"`
	Timestamp        string            `json:"timestamp"`
	Collections      map[string]int64  `json:"collections"`
	SettingsIncluded bool              `json:"settings_included"`
	FormatVersion    int               `json:"format_version"`
}

// Begin validates opts and records a new backup in the creating state.
func (e *Engine) Begin(ctx context.Context, opts CreateOptions) (domain.BackupInfo, error) {
	if err := validation.Struct(opts); err != nil {
		return domain.BackupInfo{}, err
	}
	if _, err := selectCollections(opts.IncludeDatabase, opts.Collections); err != nil {
		return domain.BackupInfo{}, err
	}
	if !opts.IncludeDatabase && !opts.IncludeSettings {
		return domain.BackupInfo{}, apperr.Validation("backup must include the database, the settings or both")
	}

	id := e.newID()
	now := e.now()
	artifact := fmt.Sprintf("backup_%s_%s", now.UTC().Format(nameLayout), shortID(id))
	name := opts.Name
	if name == "" {
		name = artifact
	}
	backupType := opts.BackupType
	if backupType == "" {
		backupType = domain.BackupManual
	}
	info := domain.BackupInfo{
		ID:                  id,
		Name:                name,
		ArtifactName:        artifact,
		Description:         opts.Description,
		BackupType:          backupType,
		Status:              domain.BackupCreating,
		Archived:            opts.CreateArchive,
		StorageDriver:       string(e.blobs.Driver()),
		CreatedAt:           domain.Timestamp(now),
		DatabaseCollections: map[string]int64{},
		AppVersion:          e.version,
		CreatedBy:           opts.CreatedBy,
	}
	if err := e.backups.Insert(ctx, info); err != nil {
		return domain.BackupInfo{}, apperr.Storage(err)
	}
	e.log.Info().Str("backup_id", id).Str("name", name).Msg("backup started")
	return info, nil
}

// Build writes the artifact for a backup recorded by Begin and moves it to
// completed, or to failed with the error recorded.
func (e *Engine) Build(ctx context.Context, info domain.BackupInfo, opts CreateOptions) (domain.BackupInfo, error) {
	start := time.Now()
	patch, buildErr := e.build(ctx, info, opts)
	if buildErr != nil {
		e.metrics.RecordBackup("create", false, time.Since(start))
		e.log.Error().Err(buildErr).Str("backup_id", info.ID).Msg("backup failed")
		if err := e.removeArtifacts(ctx, domain.BackupInfo{FilePath: artifactKey(info.ArtifactName, info.Archived), Archived: info.Archived}); err != nil {
			e.log.Warn().Err(err).Str("backup_id", info.ID).Msg("could not remove partial backup artifacts")
		}
		failed, err := e.transition(ctx, info.ID, []domain.BackupStatus{domain.BackupCreating}, domain.BackupFailed, store.Document{
			"error_message": buildErr.Error(),
			"completed_at":  e.timestamp(),
		})
		if err != nil {
			e.log.Error().Err(err).Str("backup_id", info.ID).Msg("could not mark backup failed")
			return info, apperr.Storage(buildErr)
		}
		return failed, apperr.Storage(buildErr).WithDetail("backup_id", info.ID)
	}

	done, err := e.transition(ctx, info.ID, []domain.BackupStatus{domain.BackupCreating}, domain.BackupCompleted, patch)
	if err != nil {
		e.metrics.RecordBackup("create", false, time.Since(start))
		return info, err
	}
	e.metrics.RecordBackup("create", true, time.Since(start))
	e.metrics.SetBackupBytes(done.FileSize)
	e.log.Info().
		Str("backup_id", done.ID).
		Str("file_path", done.FilePath).
		Int64("size", done.FileSize).
		Dur("took", time.Since(start)).
		Msg("backup completed")
	return done, nil
}

// Create runs Begin and Build in the caller's goroutine.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (domain.BackupInfo, error) {
	info, err := e.Begin(ctx, opts)
	if err != nil {
		return domain.BackupInfo{}, err
	}
	return e.Build(ctx, info, opts)
}

func (e *Engine) build(ctx context.Context, info domain.BackupInfo, opts CreateOptions) (store.Document, error) {
	scratch, err := os.MkdirTemp(e.scratchDir, "medipos-backup-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	collections, err := selectCollections(opts.IncludeDatabase, opts.Collections)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(collections))
	for _, coll := range collections {
		n, err := e.dumpCollection(ctx, coll, scratch)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", coll, err)
		}
		counts[coll] = n
	}

	settingsIncluded := false
	if opts.IncludeSettings {
		settingsIncluded, err = e.dumpSettings(ctx, scratch)
		if err != nil {
			return nil, fmt.Errorf("export settings: %w", err)
		}
	}

	info.DatabaseCollections = counts
	info.IncludesSettings = settingsIncluded
	m := manifest{
		BackupInfo:       info,
		Timestamp:        e.timestamp(),
		Collections:      counts,
		SettingsIncluded: settingsIncluded,
		FormatVersion:    formatVersion,
	}
	if err := writeJSON(filepath.Join(scratch, manifestFile), m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	var (
		key      = artifactKey(info.ArtifactName, info.Archived)
		size     int64
		checksum string
	)
	if info.Archived {
		checksum, size, err = e.storeArchive(ctx, scratch, info)
	} else {
		size, err = e.storeFolder(ctx, scratch, info)
	}
	if err != nil {
		return nil, err
	}

	patch := store.Document{
		"file_path":            key,
		"file_size":            size,
		"checksum":             checksum,
		"database_collections": counts,
		"includes_settings":    settingsIncluded,
		"completed_at":         e.timestamp(),
		"storage_driver":       string(e.blobs.Driver()),
	}
	if checksum != "" {
		patch["checksum_algorithm"] = checksumAlgorithm
	}
	return patch, nil
}

func (e *Engine) dumpCollection(ctx context.Context, coll, dir string) (int64, error) {
	docs, err := e.store.Find(ctx, coll, store.Filter{}, store.SortBy("id", false))
	if err != nil {
		return 0, err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	if err := writeJSON(filepath.Join(dir, coll+".json"), docs); err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (e *Engine) dumpSettings(ctx context.Context, dir string) (bool, error) {
	doc, err := e.store.FindOne(ctx, store.Settings, store.ByID(domain.SettingsID))
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := writeJSON(filepath.Join(dir, settingsFile), doc); err != nil {
		return false, err
	}
	return true, nil
}

// storeArchive packs dir into a temp file while hashing it, then hands the
// finished file to the blob store.
func (e *Engine) storeArchive(ctx context.Context, dir string, info domain.BackupInfo) (string, int64, error) {
	tmp, err := os.CreateTemp(e.scratchDir, "medipos-archive-*"+archiveExt)
	if err != nil {
		return "", 0, fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	checksum, size, err := writeArchive(dir, info.ArtifactName, tmp)
	if err != nil {
		return "", 0, fmt.Errorf("write archive: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return "", 0, err
	}
	_, err = e.blobs.Put(ctx, artifactKey(info.ArtifactName, true), tmp, core.PutOptions{
		ContentType: "application/gzip",
		Metadata: map[string]string{
			"backup_id": info.ID,
			"checksum":  checksum,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("store archive: %w", err)
	}
	return checksum, size, nil
}

func (e *Engine) storeFolder(ctx context.Context, dir string, info domain.BackupInfo) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	prefix := artifactKey(info.ArtifactName, false)
	var total int64
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		n, err := e.putFile(ctx, filepath.Join(dir, ent.Name()), prefix+ent.Name(), info.ID)
		if err != nil {
			return 0, fmt.Errorf("store %s: %w", ent.Name(), err)
		}
		total += n
	}
	return total, nil
}

func (e *Engine) putFile(ctx context.Context, src, key, backupID string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	bi, err := e.blobs.Put(ctx, key, f, core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"backup_id": backupID},
	})
	if err != nil {
		return 0, err
	}
	return bi.Size, nil
}

// selectCollections resolves the collections a backup or restore covers.
// An empty request means every domain collection.
func selectCollections(includeDatabase bool, requested []string) ([]string, error) {
	if !includeDatabase {
		return nil, nil
	}
	if len(requested) == 0 {
		return slices.Clone(store.DomainCollections), nil
	}
	out := make([]string, 0, len(requested))
	for _, c := range requested {
		if !slices.Contains(store.DomainCollections, c) {
			return nil, apperr.Validation(fmt.Sprintf("unknown collection %q", c)).WithDetail("collections", c)
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
