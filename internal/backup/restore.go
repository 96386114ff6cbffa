package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/blob/core"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

// RestoreResult summarizes a finished restore.
type RestoreResult struct {
	RestoredCollections []string `json:"restored_collections"`
	SettingsRestored    bool     `json:"settings_restored"`
	BackupName          string   `json:"backup_name"`
	BackupDate          string   `json:"backup_date"`
}

// BeginRestore claims a completed backup for restoring. A second caller
// racing for the same backup gets an invalid state error.
func (e *Engine) BeginRestore(ctx context.Context, id string) (domain.BackupInfo, error) {
	return e.transition(ctx, id, []domain.BackupStatus{domain.BackupCompleted}, domain.BackupRestoring, nil)
}

// RunRestore writes the backup's content back into the store. The archive
// checksum is checked before anything is written. The backup returns to
// completed afterwards, or to corrupted when its artifact failed an
// integrity check, with restored_at or restore_error describing the outcome.
func (e *Engine) RunRestore(ctx context.Context, info domain.BackupInfo, opts RestoreOptions) (RestoreResult, error) {
	e.restoring.Lock()
	defer e.restoring.Unlock()

	start := time.Now()
	res, restoreErr := e.restore(ctx, info, opts)

	patch := store.Document{}
	next := domain.BackupCompleted
	if restoreErr != nil {
		patch["restore_error"] = restoreErr.Error()
		if apperr.HasCode(restoreErr, apperr.CodeIntegrity) {
			next = domain.BackupCorrupted
		}
	} else {
		patch["restored_at"] = e.timestamp()
		patch["restore_error"] = nil
	}
	if _, err := e.transition(ctx, info.ID, []domain.BackupStatus{domain.BackupRestoring}, next, patch); err != nil {
		e.log.Error().Err(err).Str("backup_id", info.ID).Msg("could not release backup after restore")
		if restoreErr == nil {
			restoreErr = err
		}
	}

	e.metrics.RecordBackup("restore", restoreErr == nil, time.Since(start))
	if restoreErr != nil {
		e.log.Error().Err(restoreErr).Str("backup_id", info.ID).Msg("restore failed")
		var appErr *apperr.Error
		if errors.As(restoreErr, &appErr) {
			return RestoreResult{}, restoreErr
		}
		return RestoreResult{}, apperr.Storage(restoreErr).WithDetail("backup_id", info.ID)
	}
	e.log.Info().
		Str("backup_id", info.ID).
		Strs("collections", res.RestoredCollections).
		Bool("settings", res.SettingsRestored).
		Dur("took", time.Since(start)).
		Msg("restore completed")
	return res, nil
}

// Restore runs BeginRestore and RunRestore in the caller's goroutine.
func (e *Engine) Restore(ctx context.Context, id string, opts RestoreOptions) (RestoreResult, error) {
	if err := validation.Struct(opts); err != nil {
		return RestoreResult{}, err
	}
	info, err := e.BeginRestore(ctx, id)
	if err != nil {
		return RestoreResult{}, err
	}
	return e.RunRestore(ctx, info, opts)
}

// payload is a fully parsed backup, ready to be written.
type payload struct {
	manifest    manifest
	collections map[string][]store.Document
	order       []string
	settings    store.Document
}

func (e *Engine) restore(ctx context.Context, info domain.BackupInfo, opts RestoreOptions) (RestoreResult, error) {
	scratch, err := os.MkdirTemp(e.scratchDir, "medipos-restore-")
	if err != nil {
		return RestoreResult{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	dir, err := e.fetch(ctx, info, scratch)
	if err != nil {
		return RestoreResult{}, err
	}
	p, err := load(dir, opts)
	if err != nil {
		return RestoreResult{}, err
	}
	if err := e.apply(ctx, p, opts.ForceRestore); err != nil {
		return RestoreResult{}, err
	}
	return RestoreResult{
		RestoredCollections: p.order,
		SettingsRestored:    p.settings != nil,
		BackupName:          info.Name,
		BackupDate:          info.CreatedAt,
	}, nil
}

// fetch copies the artifact into scratch and returns the directory holding
// the manifest.
func (e *Engine) fetch(ctx context.Context, info domain.BackupInfo, scratch string) (string, error) {
	if info.Archived {
		_, body, err := e.blobs.Get(ctx, info.FilePath)
		if errors.Is(err, core.ErrNotFound) {
			return "", apperr.Integrity("backup artifact is missing").WithDetail("file_path", info.FilePath)
		}
		if err != nil {
			return "", fmt.Errorf("open artifact: %w", err)
		}
		defer body.Close()

		local := filepath.Join(scratch, "artifact"+archiveExt)
		sum, err := copyHashed(body, local)
		if err != nil {
			return "", fmt.Errorf("download artifact: %w", err)
		}
		if info.Checksum != "" && sum != info.Checksum {
			return "", apperr.Integrity("backup checksum mismatch").
				WithDetail("expected_checksum", info.Checksum).
				WithDetail("calculated_checksum", sum)
		}

		content := filepath.Join(scratch, "content")
		if err := os.Mkdir(content, 0o755); err != nil {
			return "", fmt.Errorf("create scratch dir: %w", err)
		}
		f, err := os.Open(local)
		if err != nil {
			return "", fmt.Errorf("open artifact: %w", err)
		}
		defer f.Close()
		if err := extractArchive(f, content); err != nil {
			return "", apperr.Integrity("backup archive is unreadable").Wrap(err)
		}
		dir, err := locateManifest(content)
		if err != nil {
			return "", apperr.Integrity(err.Error())
		}
		return dir, nil
	}

	blobs, err := e.blobs.List(ctx, info.FilePath)
	if err != nil {
		return "", fmt.Errorf("list artifact: %w", err)
	}
	if len(blobs) == 0 {
		return "", apperr.Integrity("backup artifact is missing").WithDetail("file_path", info.FilePath)
	}
	for _, b := range blobs {
		if err := e.download(ctx, b.Key, filepath.Join(scratch, path.Base(b.Key))); err != nil {
			return "", fmt.Errorf("download %s: %w", b.Key, err)
		}
	}
	return scratch, nil
}

// copyHashed writes r to dst and returns the hex sha256 of what it wrote.
func copyHashed(r io.Reader, dst string) (string, error) {
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *Engine) download(ctx context.Context, key, dst string) error {
	_, body, err := e.blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// load parses everything the restore will write before the live store is
// touched.
func load(dir string, opts RestoreOptions) (*payload, error) {
	var m manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		return nil, apperr.Integrity("backup manifest is unreadable").Wrap(err)
	}
	selected, err := selectCollections(opts.RestoreDatabase, opts.Collections)
	if err != nil {
		return nil, err
	}

	p := &payload{manifest: m, collections: map[string][]store.Document{}, order: []string{}}
	for _, coll := range selected {
		if _, ok := m.Collections[coll]; !ok {
			continue
		}
		var docs []store.Document
		if err := readJSON(filepath.Join(dir, coll+".json"), &docs); err != nil {
			return nil, apperr.Integrity(fmt.Sprintf("collection file %s is unreadable", coll)).Wrap(err)
		}
		for i, doc := range docs {
			if doc.ID() == "" {
				return nil, apperr.Integrity(fmt.Sprintf("record %d of %s has no id", i, coll))
			}
		}
		if docs == nil {
			docs = []store.Document{}
		}
		p.collections[coll] = docs
		p.order = append(p.order, coll)
	}

	if opts.RestoreSettings && m.SettingsIncluded {
		var doc store.Document
		if err := readJSON(filepath.Join(dir, settingsFile), &doc); err != nil {
			return nil, apperr.Integrity("settings file is unreadable").Wrap(err)
		}
		if doc == nil {
			return nil, apperr.Integrity("settings file is empty")
		}
		doc["id"] = domain.SettingsID
		p.settings = doc
	}
	return p, nil
}

// apply writes p collection by collection. When any write fails, the
// collections already written are put back from in-memory snapshots.
func (e *Engine) apply(ctx context.Context, p *payload, merge bool) error {
	snapshots := make(map[string][]store.Document, len(p.order)+1)
	written := make([]string, 0, len(p.order)+1)

	writeColl := func(coll string, docs []store.Document) error {
		current, err := e.store.Find(ctx, coll, store.Filter{})
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", coll, err)
		}
		snapshots[coll] = current
		written = append(written, coll)
		if merge {
			for _, doc := range docs {
				if err := e.store.Upsert(ctx, coll, doc); err != nil {
					return fmt.Errorf("merge %s: %w", coll, err)
				}
			}
			return nil
		}
		if err := e.store.ReplaceAll(ctx, coll, docs); err != nil {
			return fmt.Errorf("replace %s: %w", coll, err)
		}
		return nil
	}

	var err error
	for _, coll := range p.order {
		if err = writeColl(coll, p.collections[coll]); err != nil {
			break
		}
	}
	if err == nil && p.settings != nil {
		err = e.restoreSettings(ctx, p.settings, snapshots, &written)
	}
	if err == nil {
		return nil
	}

	for i := len(written) - 1; i >= 0; i-- {
		coll := written[i]
		if rbErr := e.store.ReplaceAll(ctx, coll, snapshots[coll]); rbErr != nil {
			e.log.Error().Err(rbErr).Str("collection", coll).Msg("rollback after failed restore did not complete")
			err = errors.Join(err, fmt.Errorf("rollback %s: %w", coll, rbErr))
		}
	}
	return err
}

func (e *Engine) restoreSettings(ctx context.Context, doc store.Document, snapshots map[string][]store.Document, written *[]string) error {
	current, err := e.store.Find(ctx, store.Settings, store.Filter{})
	if err != nil {
		return fmt.Errorf("snapshot settings: %w", err)
	}
	snapshots[store.Settings] = current
	*written = append(*written, store.Settings)
	if err := e.store.Upsert(ctx, store.Settings, doc); err != nil {
		return fmt.Errorf("restore settings: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
