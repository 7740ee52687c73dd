package models

import "time"

// Strategy selects how a collection is loaded.
type Strategy string

// Load strategies.
const (
	StrategyStandard   Strategy = "standard"
	StrategyHighVolume Strategy = "high_volume"
)

// CollectionImportPlan describes how and when one collection is loaded.
type CollectionImportPlan struct {
	Collection        string        `json:"collection"`
	Table             string        `json:"table"`
	RecordCount       int           `json:"record_count"`
	ByteSize          int64         `json:"byte_size"`
	Strategy          Strategy      `json:"strategy"`
	Prerequisites     []string      `json:"prerequisites"`
	Level             int           `json:"level"` // collections sharing a level have no dependency on each other
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// SkippedCollection is a collection the planner or runner refused to load.
// Records counts the source records that were read but never loaded.
type SkippedCollection struct {
	Collection string `json:"collection"`
	Reason     string `json:"reason"`
	Records    int    `json:"records"`
}

// ImportPlan is the ordered output of the import planner.
type ImportPlan struct {
	Steps          []CollectionImportPlan `json:"steps"`
	Skipped        []SkippedCollection    `json:"skipped,omitempty"`
	EstimatedTotal time.Duration          `json:"estimated_total"`
}

// Step returns the plan entry for a collection.
func (p *ImportPlan) Step(collection string) (CollectionImportPlan, bool) {
	for _, s := range p.Steps {
		if s.Collection == collection {
			return s, true
		}
	}

	return CollectionImportPlan{}, false
}

// Levels groups plan steps by dependency level, preserving plan order within a level.
func (p *ImportPlan) Levels() [][]CollectionImportPlan {
	var levels [][]CollectionImportPlan

	for _, s := range p.Steps {
		for len(levels) <= s.Level {
			levels = append(levels, nil)
		}
		levels[s.Level] = append(levels[s.Level], s)
	}

	return levels
}
