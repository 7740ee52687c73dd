package models

import "errors"

// Sentinel errors for configuration problems. These abort a run before any data is touched.
var (
	ErrDependencyCycle = errors.New("dependency cycle")
	ErrIDCollision     = errors.New("destination id collision")
	ErrMissingTable    = errors.New("target table missing")
	ErrUnknownRule     = errors.New("no rule for collection")
)

// Sentinel errors for collection-level problems. The collection is skipped with a warning.
var (
	ErrMissingSource          = errors.New("source file missing")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
)

// Sentinel errors for record-level problems.
var (
	ErrMissingSourceID = errors.New("source id is required")
	ErrDanglingRef     = errors.New("dangling reference")
)

// Sentinel errors for backup verification.
var (
	ErrArtifactNotFound  = errors.New("backup artifact not found")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrEncryptionKey     = errors.New("backup encryption key not configured")
	ErrUnencryptedBackup = errors.New("backup is not encrypted")
)
