// Package report aggregates a migration run into a structured JSON report and
// a narrative Markdown report. A report is produced for every run, including
// runs that stopped on a fatal error.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/persistorai/docmigrate/internal/models"
)

// File names written by WriteFiles.
const (
	JSONFile     = "report.json"
	MarkdownFile = "report.md"
)

// Totals sums every collection of the run.
type Totals struct {
	Collections      int     `json:"collections"`
	Attempted        int     `json:"attempted"`
	Succeeded        int     `json:"succeeded"`
	Failed           int     `json:"failed"`
	Dangling         int     `json:"dangling"`
	Fallbacks        int     `json:"fallbacks"`
	Skipped          int     `json:"skipped"`         // collections not loaded
	SkippedRecords   int     `json:"skipped_records"` // source records those collections held
	Bytes            int64   `json:"bytes"`
	SuccessRate      float64 `json:"success_rate"` // percent of attempted
	RecordsPerSecond float64 `json:"records_per_second"`
}

// ReasonCount is one ranked failure reason.
type ReasonCount struct {
	Collection string `json:"collection"`
	Reason     string `json:"reason"`
	Count      int    `json:"count"`
}

// Report is the run summary.
type Report struct {
	RunID        string                     `json:"run_id"`
	DryRun       bool                       `json:"dry_run"`
	DataDir      string                     `json:"data_dir"`
	Destination  string                     `json:"destination,omitempty"`
	StartedAt    time.Time                  `json:"started_at"`
	FinishedAt   time.Time                  `json:"finished_at"`
	Duration     time.Duration              `json:"duration"`
	IDMappings   int                        `json:"id_mappings"`
	Plan         *models.ImportPlan         `json:"plan,omitempty"`
	Results      []*models.ImportResult     `json:"results"`
	Skipped      []models.SkippedCollection `json:"skipped,omitempty"`
	Sequences    []models.SequenceReset     `json:"sequences,omitempty"`
	Verification []models.TableVerification `json:"verification,omitempty"`
	Totals       Totals                     `json:"totals"`
	TopFailures  []ReasonCount              `json:"top_failures,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

// maxReasons bounds the ranked failure list.
const maxReasons = 10

// New starts a report.
func New(runID string, dryRun bool, started time.Time) *Report {
	return &Report{RunID: runID, DryRun: dryRun, StartedAt: started}
}

// AddResult records one collection's outcome.
func (r *Report) AddResult(res *models.ImportResult) {
	if res != nil {
		r.Results = append(r.Results, res)
	}
}

// Skip records a collection that was not loaded along with how many source
// records it held.
func (r *Report) Skip(collection, reason string, records int) {
	r.Skipped = append(r.Skipped, models.SkippedCollection{Collection: collection, Reason: reason, Records: records})
}

// Finish stamps the end time, the fatal error if any, and computes totals.
func (r *Report) Finish(finished time.Time, err error) {
	r.FinishedAt = finished
	r.Duration = finished.Sub(r.StartedAt)

	if err != nil {
		r.Error = err.Error()
	}

	r.Totals = computeTotals(r.Results, r.Skipped, r.Plan, r.Duration)
	r.TopFailures = RankFailures(r.Results, maxReasons)
}

// Success reports whether the run finished without a fatal error, without a
// failed record, without dropping a skipped collection's records and without
// a row-count mismatch. A skipped collection with no records loses nothing.
func (r *Report) Success() bool {
	if r.Error != "" || r.Totals.Failed > 0 || r.Totals.SkippedRecords > 0 {
		return false
	}

	if r.DryRun {
		return true
	}

	for _, v := range r.Verification {
		if !v.Match {
			return false
		}
	}

	return true
}

func computeTotals(results []*models.ImportResult, skipped []models.SkippedCollection, plan *models.ImportPlan, d time.Duration) Totals {
	t := Totals{Skipped: len(skipped)}

	for _, s := range skipped {
		t.SkippedRecords += s.Records
	}

	for _, res := range results {
		t.Collections++
		t.Attempted += res.Attempted
		t.Succeeded += res.Succeeded
		t.Failed += res.Failed
		t.Dangling += res.Dangling
		t.Fallbacks += res.Fallbacks
	}

	if plan != nil {
		for _, s := range plan.Steps {
			t.Bytes += s.ByteSize
		}
	}

	if t.Attempted > 0 {
		t.SuccessRate = float64(t.Succeeded) / float64(t.Attempted) * 100
	}

	if d > 0 {
		t.RecordsPerSecond = float64(t.Succeeded) / d.Seconds()
	}

	return t
}

// RankFailures groups record failures by collection and reason, most frequent
// first. The per-record "collection/source id:" prefix is dropped so identical
// causes group together.
func RankFailures(results []*models.ImportResult, limit int) []ReasonCount {
	counts := make(map[[2]string]int)

	for _, res := range results {
		for _, f := range res.Failures {
			reason := strings.TrimPrefix(f.Reason, res.Collection+"/"+f.SourceID+": ")
			counts[[2]string{res.Collection, reason}]++
		}
	}

	ranked := make([]ReasonCount, 0, len(counts))
	for k, n := range counts {
		ranked = append(ranked, ReasonCount{Collection: k[0], Reason: k[1], Count: n})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		if ranked[i].Collection != ranked[j].Collection {
			return ranked[i].Collection < ranked[j].Collection
		}

		return ranked[i].Reason < ranked[j].Reason
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

// WriteFiles writes report.json and report.md into dir.
func (r *Report) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, JSONFile), data, 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", JSONFile, err)
	}

	if err := os.WriteFile(filepath.Join(dir, MarkdownFile), []byte(r.Markdown()), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", MarkdownFile, err)
	}

	return nil
}
