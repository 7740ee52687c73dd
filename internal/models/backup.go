package models

import "time"

// BackupKind distinguishes full from incremental backups.
type BackupKind string

// Backup kinds.
const (
	BackupFull        BackupKind = "full"
	BackupIncremental BackupKind = "incremental"
)

// BackupArtifact is a backup entry from the metadata ledger. Checksum and flags are recorded
// at backup-creation time, separately from the artifact itself.
type BackupArtifact struct {
	ID         string     `json:"id"`
	Kind       BackupKind `json:"kind"`
	StorageKey string     `json:"storage_key"`
	Checksum   string     `json:"checksum"` // sha256, hex encoded
	SizeBytes  int64      `json:"size_bytes"`
	Encrypted  bool       `json:"encrypted"`
	Compressed bool       `json:"compressed"`
	CreatedAt  time.Time  `json:"created_at"`
}

// VerificationCheck names one of the four independent backup checks.
type VerificationCheck string

// Backup checks.
const (
	CheckIntegrity       VerificationCheck = "integrity"
	CheckRestorable      VerificationCheck = "restorable"
	CheckDataConsistency VerificationCheck = "data_consistency"
	CheckEncryption      VerificationCheck = "encryption"
)

// VerificationStage is a state of the backup verification state machine.
type VerificationStage string

// Verification stages, in order.
const (
	StageDownloaded         VerificationStage = "downloaded"
	StageIntegrityChecked   VerificationStage = "integrity_checked"
	StageDecrypted          VerificationStage = "decrypted"
	StageDecompressed       VerificationStage = "decompressed"
	StageRestoredToScratch  VerificationStage = "restored_to_scratch"
	StageConsistencyChecked VerificationStage = "consistency_checked"
	StageReported           VerificationStage = "reported"
)

// InvariantResult is the outcome of one production data-consistency query.
type InvariantResult struct {
	Name       string `json:"name"`
	Violations int64  `json:"violations"`
	Error      string `json:"error,omitempty"`
}

// VerificationResult is the terminal outcome of verifying one backup artifact.
type VerificationResult struct {
	ArtifactID      string              `json:"artifact_id"`
	Kind            BackupKind          `json:"kind"`
	Integrity       bool                `json:"integrity"`
	Restorable      bool                `json:"restorable"`
	DataConsistency bool                `json:"data_consistency"`
	Encryption      bool                `json:"encryption"`
	Errors          []string            `json:"errors,omitempty"`
	Stages          []VerificationStage `json:"stages"`
	SmokeCounts     map[string]int64    `json:"smoke_counts,omitempty"`
	Invariants      []InvariantResult   `json:"invariants,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

// Passed is true iff every check passed.
func (v *VerificationResult) Passed() bool {
	return v.Integrity && v.Restorable && v.DataConsistency && v.Encryption
}

// Status returns "passed" or "failed".
func (v *VerificationResult) Status() string {
	if v.Passed() {
		return "passed"
	}

	return "failed"
}

// FailedChecks lists exactly the checks that did not pass.
func (v *VerificationResult) FailedChecks() []VerificationCheck {
	var failed []VerificationCheck
	if !v.Integrity {
		failed = append(failed, CheckIntegrity)
	}
	if !v.Restorable {
		failed = append(failed, CheckRestorable)
	}
	if !v.DataConsistency {
		failed = append(failed, CheckDataConsistency)
	}
	if !v.Encryption {
		failed = append(failed, CheckEncryption)
	}

	return failed
}
