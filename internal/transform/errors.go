package transform

import "fmt"

// ValidationError is the typed failure produced for every record that cannot be
// coerced onto its destination schema.
type ValidationError struct {
	Collection string
	SourceID   string
	Field      string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s/%s: %v", e.Collection, e.SourceID, e.Err)
	}

	return fmt.Sprintf("%s/%s: field %s: %v", e.Collection, e.SourceID, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
