package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Wrap with the typed errors below where the caller needs
// context; match with errors.Is.
var (
	ErrEmptyAccount   = errors.New("account number is required")
	ErrNoRecords      = errors.New("no records to generate")
	ErrUnknownField   = errors.New("unknown field")
	ErrReadOnlyField  = errors.New("read-only field")
	ErrLastRow        = errors.New("at least one row must be kept")
	ErrRowOutOfRange  = errors.New("row out of range")
	ErrImportInFlight = errors.New("import already running")
	// ErrImportCancelled is returned when a run is cancelled before finishing.
	ErrImportCancelled   = errors.New("import cancelled")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrNothingStaged     = errors.New("no staged import")
	ErrNoImportSession   = errors.New("no import session")
	ErrNoFile            = errors.New("no file provided")
	ErrEmptyFile         = errors.New("empty file: no data rows after header")
)

// ValidationError reports input that cannot be accepted as is.
type ValidationError struct {
	Field string // Field id, or the name of the argument
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("validation: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ImportFormatError reports a file that is not a supported spreadsheet.
type ImportFormatError struct {
	FileName string
	Reason   string
}

func (e *ImportFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %s: %s", e.FileName, e.Reason)
}

// ImportTransformError reports a failure while converting rows.
// Row is the 0-based input row, or -1 when the failure is not tied to a row.
type ImportTransformError struct {
	Row int
	Err error
}

func (e *ImportTransformError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("import failed at row %d: %v", e.Row+1, e.Err)
	}
	return fmt.Sprintf("import failed: %v", e.Err)
}

func (e *ImportTransformError) Unwrap() error {
	return e.Err
}

// PersistenceStaleError is returned when a staged import is older than the
// freshness window.
type PersistenceStaleError struct {
	SavedAt time.Time
	Age     time.Duration
	MaxAge  time.Duration
}

func (e *PersistenceStaleError) Error() string {
	return fmt.Sprintf("staged import expired: saved %s ago (max %s)",
		e.Age.Round(time.Second), e.MaxAge)
}
