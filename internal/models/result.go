package models

import "time"

// RecordFailure is one record that could not be loaded.
type RecordFailure struct {
	ID       string `json:"id,omitempty"`
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// ImportResult is the terminal outcome of loading one collection.
type ImportResult struct {
	Collection string          `json:"collection"`
	Table      string          `json:"table"`
	Strategy   Strategy        `json:"strategy"`
	Attempted  int             `json:"attempted"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Failures   []RecordFailure `json:"failures,omitempty"`
	Batches    int             `json:"batches"`
	Fallbacks  int             `json:"fallbacks"` // batches that fell back to per-record loading
	Dangling   int             `json:"dangling"`  // records written with at least one NULLed dangling reference
	Duration   time.Duration   `json:"duration"`
	Error      string          `json:"error,omitempty"` // infrastructure error that aborted the collection
}

// AddFailure records a failed record and keeps the counters consistent.
func (r *ImportResult) AddFailure(f RecordFailure) {
	r.Attempted++
	r.Failed++
	r.Failures = append(r.Failures, f)
}

// Balanced reports whether succeeded + failed equals attempted.
func (r *ImportResult) Balanced() bool {
	return r.Succeeded+r.Failed == r.Attempted
}

// TableVerification compares the live row count of a table with the loaded count.
type TableVerification struct {
	Collection string `json:"collection"`
	Table      string `json:"table"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Delta      int64  `json:"delta"` // actual - expected
	Match      bool   `json:"match"`
	Error      string `json:"error,omitempty"`
}

// Direction describes a mismatch in words.
func (v TableVerification) Direction() string {
	switch {
	case v.Error != "":
		return "unverified"
	case v.Delta > 0:
		return "more rows than loaded"
	case v.Delta < 0:
		return "fewer rows than loaded"
	default:
		return "match"
	}
}

// SequenceReset records one auto-increment counter resynchronisation.
type SequenceReset struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Sequence string `json:"sequence,omitempty"`
	Value    int64  `json:"value"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SerialColumn is a column whose default draws from a counter. Sequence is
// empty when the column's counter object no longer exists.
type SerialColumn struct {
	Column   string
	Sequence string
}
