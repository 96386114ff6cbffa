package domain

type BackupStatus string

const (
	BackupCreating  BackupStatus = "creating"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupRestoring BackupStatus = "restoring"
	BackupCorrupted BackupStatus = "corrupted"
)

type BackupType string

const (
	BackupManual    BackupType = "manual"
	BackupScheduled BackupType = "scheduled"
	BackupAutomatic BackupType = "automatic"
)

// BackupInfo describes one snapshot and tracks it through its lifecycle.
type BackupInfo struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	ArtifactName        string           `json:"artifact_name"`
	Description         *string          `json:"description,omitempty"`
	BackupType          BackupType       `json:"backup_type"`
	Status              BackupStatus     `json:"status"`
	Archived            bool             `json:"archived"`
	FilePath            string           `json:"file_path"`
	StorageDriver       string           `json:"storage_driver"`
	FileSize            int64            `json:"file_size"`
	Checksum            string           `json:"checksum"`
	ChecksumAlgorithm   string           `json:"checksum_algorithm,omitempty"`
	CreatedAt           string           `json:"created_at"`
	CompletedAt         *string          `json:"completed_at,omitempty"`
	DatabaseCollections map[string]int64 `json:"database_collections"`
	IncludesSettings    bool             `json:"includes_settings"`
	AppVersion          string           `json:"app_version"`
	CreatedBy           *string          `json:"created_by,omitempty"`
	ErrorMessage        *string          `json:"error_message,omitempty"`
	RestoredAt          *string          `json:"restored_at,omitempty"`
	RestoreError        *string          `json:"restore_error,omitempty"`
}

// InProgress reports whether a worker currently owns the backup.
func (b BackupInfo) InProgress() bool {
	return b.Status == BackupCreating || b.Status == BackupRestoring
}
