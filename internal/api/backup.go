package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medipos/m/internal/apperr"
	"medipos/m/internal/backup"
	"medipos/m/internal/validation"
)

const defaultDaysToKeep = 30

// Backup handlers

type restoreRequest struct {
	BackupID string `json:"backup_id" validate:"required"`
	backup.RestoreOptions
}

type cleanupRequest struct {
	DaysToKeep int `json:"days_to_keep" validate:"gte=1"`
}

// backupsReady reports whether the backup engine is configured, answering
// 503 when it is not.
func (h *Handler) backupsReady(w http.ResponseWriter) bool {
	if h.backups == nil {
		respondError(w, http.StatusServiceUnavailable, apperr.CodeInternal, "backups are not configured")
		return false
	}
	return true
}

func runnerErr(err error) error {
	if errors.Is(err, backup.ErrRunnerClosed) {
		return apperr.New(apperr.CodeInternal, "backup runner is shutting down", http.StatusServiceUnavailable).Wrap(err)
	}
	return err
}

// createBackup records the backup and builds it in the background. The
// response carries the record in its creating state.
func (h *Handler) createBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	opts := backup.DefaultCreateOptions()
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &opts); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	opts.CreatedBy = nullIfEmpty(principal(r).Username)

	if h.runner == nil {
		info, err := h.backups.Create(r.Context(), opts)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, info)
		return
	}
	info, err := h.runner.SubmitCreate(r.Context(), opts)
	if err != nil {
		h.fail(w, r, runnerErr(err))
		return
	}
	respondJSON(w, http.StatusAccepted, info)
}

func (h *Handler) listBackups(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	infos, err := h.backups.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

func (h *Handler) backupStorageInfo(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	info, err := h.backups.StorageInfo(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handler) getBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	info, err := h.backups.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// restoreBackup claims the backup and restores it in the background.
func (h *Handler) restoreBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	req := restoreRequest{RestoreOptions: backup.DefaultRestoreOptions()}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if h.runner == nil {
		res, err := h.backups.Restore(r.Context(), req.BackupID, req.RestoreOptions)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}
	info, err := h.runner.SubmitRestore(r.Context(), req.BackupID, req.RestoreOptions)
	if err != nil {
		h.fail(w, r, runnerErr(err))
		return
	}
	respondJSON(w, http.StatusAccepted, info)
}

func (h *Handler) verifyBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	res, err := h.backups.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) deleteBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	if err := h.backups.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Backup deleted successfully"})
}

// cleanupBackups takes days_to_keep from the body or the query string,
// 30 days by default.
func (h *Handler) cleanupBackups(w http.ResponseWriter, r *http.Request) {
	if !h.backupsReady(w) {
		return
	}
	days, err := queryInt(r, "days_to_keep", defaultDaysToKeep)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req := cleanupRequest{DaysToKeep: days}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := validation.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.backups.Cleanup(r.Context(), req.DaysToKeep)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
