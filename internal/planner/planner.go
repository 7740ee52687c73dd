// Package planner turns per-collection datasets into a dependency-respecting,
// strategy-annotated load order.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/rules"
)

// Reasons attached to skipped collections.
const (
	ReasonMissingSource = "source file missing"
	ReasonMissingTable  = "target table missing"
)

// Dataset summarises one collection's transformed output.
type Dataset struct {
	Collection string
	Records    int
	Bytes      int64
	// SkipReason marks a collection that cannot be loaded (missing source file,
	// missing target table). Dependents are skipped too.
	SkipReason string
}

// Options tunes strategy selection and the duration estimate.
type Options struct {
	HighVolumeThreshold int
	RecordsPerSecond    float64
	BytesPerSecond      float64
}

// Default throughput assumptions for the estimate. They only inform the operator.
const (
	defaultRecordsPerSecond = 2000
	defaultBytesPerSecond   = 4 << 20
)

// Planner orders collections over the declared dependency graph.
type Planner struct {
	rules *rules.Set
	opts  Options
	log   *logrus.Logger
}

// New creates a Planner.
func New(set *rules.Set, opts Options, log *logrus.Logger) *Planner {
	if opts.RecordsPerSecond <= 0 {
		opts.RecordsPerSecond = defaultRecordsPerSecond
	}

	if opts.BytesPerSecond <= 0 {
		opts.BytesPerSecond = defaultBytesPerSecond
	}

	return &Planner{rules: set, opts: opts, log: log}
}

// CheckGraph fails with a *CycleError when the declared graph has a cycle.
func (p *Planner) CheckGraph() error {
	if c := findCycle(p.graph()); c != nil {
		return c
	}

	return nil
}

func (p *Planner) graph() map[string][]string {
	g := make(map[string][]string, len(p.rules.Collections))
	for _, name := range p.rules.Names() {
		g[name] = p.rules.Prerequisites(name)
	}

	return g
}

// Analyze produces the ordered plan. A cycle is a configuration error returned
// before anything else is considered. Collections declared in the rules but
// absent from datasets are treated as missing their source file.
func (p *Planner) Analyze(datasets []Dataset) (*models.ImportPlan, error) {
	g := p.graph()

	if c := findCycle(g); c != nil {
		return nil, c
	}

	byName := make(map[string]Dataset, len(datasets))
	for _, d := range datasets {
		if _, ok := g[d.Collection]; !ok {
			return nil, fmt.Errorf("planning %s: %w", d.Collection, models.ErrUnknownRule)
		}

		byName[d.Collection] = d
	}

	order, levels := topoOrder(g)
	plan := &models.ImportPlan{}
	skipped := make(map[string]bool)

	for _, name := range order {
		d, ok := byName[name]
		if !ok {
			d = Dataset{Collection: name, SkipReason: ReasonMissingSource}
		}

		if d.SkipReason != "" {
			p.skip(plan, skipped, d, d.SkipReason)
			continue
		}

		if blocked := firstSkipped(g[name], skipped); blocked != "" {
			p.skip(plan, skipped, d, fmt.Sprintf("%v: %s was not loaded", models.ErrDependencyNotSatisfied, blocked))
			continue
		}

		rule, _ := p.rules.Rule(name)
		step := models.CollectionImportPlan{
			Collection:        name,
			Table:             rule.Table,
			RecordCount:       d.Records,
			ByteSize:          d.Bytes,
			Strategy:          p.strategy(d.Records),
			Prerequisites:     g[name],
			Level:             levels[name],
			EstimatedDuration: p.estimate(d.Records, d.Bytes),
		}

		plan.Steps = append(plan.Steps, step)
		plan.EstimatedTotal += step.EstimatedDuration

		p.log.WithFields(logrus.Fields{
			"collection": name,
			"records":    d.Records,
			"strategy":   step.Strategy,
			"level":      step.Level,
			"estimate":   step.EstimatedDuration.Round(time.Second),
		}).Info("collection planned")
	}

	compactLevels(plan)

	return plan, nil
}

func (p *Planner) skip(plan *models.ImportPlan, skipped map[string]bool, d Dataset, reason string) {
	skipped[d.Collection] = true
	plan.Skipped = append(plan.Skipped, models.SkippedCollection{Collection: d.Collection, Reason: reason, Records: d.Records})

	p.log.WithFields(logrus.Fields{
		"collection": d.Collection,
		"records":    d.Records,
		"reason":     reason,
	}).Warn("collection skipped")
}

func (p *Planner) strategy(records int) models.Strategy {
	if p.opts.HighVolumeThreshold > 0 && records > p.opts.HighVolumeThreshold {
		return models.StrategyHighVolume
	}

	return models.StrategyStandard
}

// estimate is the larger of a record-rate bound and a byte-rate bound.
func (p *Planner) estimate(records int, bytes int64) time.Duration {
	byRecords := float64(records) / p.opts.RecordsPerSecond
	byBytes := float64(bytes) / p.opts.BytesPerSecond

	return time.Duration(max(byRecords, byBytes) * float64(time.Second))
}

func firstSkipped(prereqs []string, skipped map[string]bool) string {
	for _, d := range prereqs {
		if skipped[d] {
			return d
		}
	}

	return ""
}

// topoOrder is Kahn's algorithm over an acyclic graph. Ties are broken by name
// so plans are reproducible. level[n] is 0 for roots, else 1 + max(level of
// prerequisites).
func topoOrder(g map[string][]string) ([]string, map[string]int) {
	indegree := make(map[string]int, len(g))
	dependents := make(map[string][]string, len(g))

	for n, deps := range g {
		indegree[n] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []string
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}

	level := make(map[string]int, len(g))
	order := make([]string, 0, len(g))

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if level[ready[i]] != level[ready[j]] {
				return level[ready[i]] < level[ready[j]]
			}

			return ready[i] < ready[j]
		})

		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, m := range dependents[n] {
			level[m] = max(level[m], level[n]+1)

			indegree[m]--
			if indegree[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	return order, level
}

// compactLevels renumbers step levels so they are dense after skips.
func compactLevels(plan *models.ImportPlan) {
	seen := map[int]int{}

	var distinct []int

	for _, s := range plan.Steps {
		if _, ok := seen[s.Level]; !ok {
			seen[s.Level] = 0
			distinct = append(distinct, s.Level)
		}
	}

	sort.Ints(distinct)

	for i, l := range distinct {
		seen[l] = i
	}

	for i := range plan.Steps {
		plan.Steps[i].Level = seen[plan.Steps[i].Level]
	}
}
