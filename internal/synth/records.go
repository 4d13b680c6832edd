// Package synth generates the forensic record shapes workers produce:
// encrypted-file metadata, session logs, memory artifacts, per-user
// behavior profiles, and reconstructed timelines. The simulated launcher
// and the type-specific cleanup use it to fabricate plausible findings.
package synth

import "time"

// Encryption algorithms observed on seized volumes.
const (
	AlgoAES256XTS        = "AES-256-XTS"
	AlgoChaCha20Poly1305 = "ChaCha20-Poly1305"
	AlgoAES128CBC        = "AES-128-CBC"
)

// Session actions recorded by the monitored file service.
const (
	ActionMountVolume  = "mount_encrypted_volume"
	ActionUploadFile   = "upload_file"
	ActionDownloadFile = "download_file"
	ActionDeleteFile   = "delete_file"
	ActionModifyFile   = "modify_file"
)

// Artifact types recognized in memory snapshots.
const (
	ArtifactKeyExtraction = "key-extraction"
	ArtifactMFTHeader     = "mft-header"
	ArtifactPlaintextDoc  = "plaintext-doc"
)

// Anomaly score sentinel values. Flagged profiles carry -1, the rest +1.
const (
	ScoreFlagged = -1
	ScoreNormal  = 1
)

// EncryptedFile describes one encrypted file recovered from a disk image.
type EncryptedFile struct {
	FileID              string    `json:"file_id"`
	UserID              string    `json:"user_id"`
	Timestamp           time.Time `json:"timestamp"`
	FileHash            string    `json:"file_hash"`
	EncryptionAlgorithm string    `json:"encryption_algorithm"`
	SizeBytes           int64     `json:"size_bytes"`
}

// SessionLog is one user action captured by the file service audit trail.
// FileID is set when the action touched a known encrypted file.
type SessionLog struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	FileID      string    `json:"file_id,omitempty"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	MemoryRef   string    `json:"memory_ref"`
	AnomalyFlag bool      `json:"anomaly_flag"`
}

// MemoryArtifact is a pattern match found while scanning a RAM snapshot.
type MemoryArtifact struct {
	SnapshotID   string    `json:"snapshot_id"`
	ProcessID    string    `json:"process_id"`
	ArtifactType string    `json:"artifact_type"`
	Match        string    `json:"match"`
	Offset       int       `json:"offset"`
	Timestamp    time.Time `json:"timestamp"`
}

// UserProfile aggregates one user's session behavior. AnomalyScore uses
// the flagged sentinel: -1 anomalous, +1 normal.
type UserProfile struct {
	UserID       string  `json:"user_id"`
	SessionCount int     `json:"session_count"`
	AvgActions   float64 `json:"avg_actions"`
	OffHourPct   float64 `json:"off_hour_pct"`
	AnomalyScore int     `json:"anomaly_score"`
}

// TimelineEvent joins an encrypted-file record to the closest session log
// for the same file within the reconstruction window.
type TimelineEvent struct {
	FileID       string    `json:"file_id"`
	MetadataTime time.Time `json:"metadata_time"`
	LogTime      time.Time `json:"log_time"`
	Action       string    `json:"action"`
	SizeBytes    int64     `json:"size_bytes"`
	SessionID    string    `json:"session_id"`
}
