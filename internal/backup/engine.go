// Package backup snapshots the record store into self-describing artifacts,
// restores them, and verifies their integrity. Every backup moves through a
// small state machine guarded by compare-and-set updates on its status:
//
//	creating  -> completed | failed
//	completed -> restoring -> completed
//	completed -> corrupted
package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/blob/core"
	"medipos/m/internal/metrics"
	"medipos/m/internal/store"
)

const (
	manifestFile      = "backup_metadata.json"
	settingsFile      = "settings.json"
	archiveExt        = ".tar.gz"
	checksumAlgorithm = "sha256"
	formatVersion     = 1
	nameLayout        = "20060102_150405"
)

var ErrInvalidState = errors.New("backup: invalid state")

type Engine struct {
	store      store.Store
	backups    store.Collection[domain.BackupInfo]
	blobs      core.Store
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
	version    string
	scratchDir string

	// restoring serializes restores across backups.
	restoring sync.Mutex
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVersion sets the application version recorded in every BackupInfo.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// WithScratchDir sets where temporary snapshot directories are created.
// The default is the OS temp dir.
func WithScratchDir(dir string) Option {
	return func(e *Engine) { e.scratchDir = dir }
}

func New(s store.Store, blobs core.Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		backups: store.Typed[domain.BackupInfo](s, store.Backups),
		blobs:   blobs,
		log:     log.With().Str("component", "backup").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
		version: "dev",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOptions selects what goes into a new backup.
type CreateOptions struct {
	Name            string            `json:"name,omitempty" validate:"omitempty,max=200"`
	Description     *string           `json:"description,omitempty"`
	BackupType      domain.BackupType `json:"backup_type,omitempty" validate:"omitempty,oneof=manual scheduled automatic"`
	Collections     []string          `json:"collections,omitempty"`
	IncludeDatabase bool              `json:"include_database"`
	IncludeSettings bool              `json:"include_settings"`
	CreateArchive   bool              `json:"create_archive"`
	CreatedBy       *string           `json:"created_by,omitempty"`
}

// DefaultCreateOptions snapshots every domain collection and the settings
// into one archive.
func DefaultCreateOptions() CreateOptions {
	return CreateOptions{
		BackupType:      domain.BackupManual,
		IncludeDatabase: true,
		IncludeSettings: true,
		CreateArchive:   true,
	}
}

// RestoreOptions selects what a restore writes back.
type RestoreOptions struct {
	Collections     []string `json:"collections,omitempty"`
	RestoreDatabase bool     `json:"restore_database"`
	RestoreSettings bool     `json:"restore_settings"`
	// ForceRestore merges by id instead of replacing whole collections.
	ForceRestore bool `json:"force_restore"`
}

func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{RestoreDatabase: true, RestoreSettings: true}
}

// Get loads one backup record.
func (e *Engine) Get(ctx context.Context, id string) (domain.BackupInfo, error) {
	info, err := e.backups.Get(ctx, id)
	if store.IsNotFound(err) {
		return domain.BackupInfo{}, apperr.NotFoundWithID("backup", id)
	}
	if err != nil {
		return domain.BackupInfo{}, apperr.Storage(err)
	}
	return info, nil
}

// List returns every backup, newest first.
func (e *Engine) List(ctx context.Context) ([]domain.BackupInfo, error) {
	infos, err := e.backups.Find(ctx, store.Filter{}, store.SortBy("created_at", true))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return infos, nil
}

// transition moves a backup to status `to` only if its current status is one
// of from. The patch is written in the same conditional update.
func (e *Engine) transition(ctx context.Context, id string, from []domain.BackupStatus, to domain.BackupStatus, patch store.Document) (domain.BackupInfo, error) {
	allowed := make([]any, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	if patch == nil {
		patch = store.Document{}
	}
	patch["status"] = string(to)

	matched, err := e.store.UpdateOne(ctx, store.Backups, store.Where(store.Eq("id", id), store.In("status", allowed...)), patch)
	if err != nil {
		return domain.BackupInfo{}, apperr.Storage(err)
	}
	if !matched {
		current, err := e.Get(ctx, id)
		if err != nil {
			return domain.BackupInfo{}, err
		}
		return domain.BackupInfo{}, invalidState(fmt.Sprintf("backup %s is %s, cannot move to %s", id, current.Status, to))
	}
	return e.Get(ctx, id)
}

func invalidState(msg string) error {
	return apperr.InvalidState(msg).Wrap(ErrInvalidState)
}

// artifactKey is where a backup's bytes live in the blob store. Archives are
// a single object, folders a key prefix.
func artifactKey(name string, archived bool) string {
	if archived {
		return name + archiveExt
	}
	return name + "/"
}

// removeArtifacts deletes every blob belonging to info. Missing blobs are
// not an error.
func (e *Engine) removeArtifacts(ctx context.Context, info domain.BackupInfo) error {
	if info.FilePath == "" {
		return nil
	}
	if info.Archived {
		_, err := e.blobs.Delete(ctx, info.FilePath)
		return err
	}
	return e.removePrefix(ctx, info.FilePath)
}

func (e *Engine) removePrefix(ctx context.Context, prefix string) error {
	blobs, err := e.blobs.List(ctx, prefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range blobs {
		if _, err := e.blobs.Delete(ctx, b.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) timestamp() string { return domain.Timestamp(e.now()) }

func strPtr(s string) *string { return &s }
