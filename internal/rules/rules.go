// Package rules holds the explicit per-collection transformation rules and the
// declared dependency graph. A Set is built once per run and passed by pointer
// to every stage that needs it; nothing here is a package-level registry.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/persistorai/docmigrate/internal/models"
)

//go:embed default.yaml
var defaultRules []byte

// FieldType is the destination type a field is coerced to.
type FieldType string

// Supported field types.
const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeBool    FieldType = "bool"
	TypeTime    FieldType = "time"
	TypeJSON    FieldType = "json"
)

// TaxRule derives a tax component from a gross amount: amount / Divisor for the
// listed categories, zero otherwise, rounded to cents half-up.
type TaxRule struct {
	AmountField   string   `yaml:"amount_field"`
	CategoryField string   `yaml:"category_field"`
	TargetField   string   `yaml:"target_field"`
	Divisor       string   `yaml:"divisor"`
	Categories    []string `yaml:"categories"`
}

// Taxable reports whether category is in the taxable set.
func (t *TaxRule) Taxable(category string) bool {
	return slices.Contains(t.Categories, category)
}

// Rule describes how one collection maps onto its destination table. Field
// names in Defaults, Required, Types, Monetary, NonNegative and ForeignKeys are destination
// names, i.e. after Renames has been applied.
type Rule struct {
	Collection      string               `yaml:"-"`
	Table           string               `yaml:"table"`
	IDField         string               `yaml:"id_field"`
	ExportedAtField string               `yaml:"exported_at_field"`
	Renames         map[string]string    `yaml:"renames"`
	Defaults        map[string]any       `yaml:"defaults"`
	Required        []string             `yaml:"required"`
	Types           map[string]FieldType `yaml:"types"`
	Monetary        []string             `yaml:"monetary"`
	NonNegative     []string             `yaml:"non_negative"`
	ForeignKeys     map[string]string    `yaml:"foreign_keys"`
	Tax             *TaxRule             `yaml:"tax"`
	Drop            []string             `yaml:"drop"`
}

// Set is the complete rule configuration for a run.
type Set struct {
	Collections  map[string]*Rule    `yaml:"collections"`
	Dependencies map[string][]string `yaml:"dependencies"`
}

// Default returns the built-in rule set.
func Default() (*Set, error) {
	return Parse(defaultRules)
}

// Load reads a rule set from a YAML file. An empty path yields the built-in set.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied rules file.
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}

	for name, r := range s.Collections {
		if r == nil {
			r = &Rule{}
			s.Collections[name] = r
		}

		r.Collection = name
		if r.Table == "" {
			r.Table = name
		}

		if r.IDField == "" {
			r.IDField = "_id"
		}
	}

	if s.Dependencies == nil {
		s.Dependencies = map[string][]string{}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks internal consistency. Cycles are left to the planner, which
// reports the full cycle path.
func (s *Set) Validate() error {
	if len(s.Collections) == 0 {
		return fmt.Errorf("rules: no collections declared")
	}

	tables := make(map[string]string, len(s.Collections))

	for _, name := range s.Names() {
		r := s.Collections[name]

		if prev, ok := tables[r.Table]; ok {
			return fmt.Errorf("rules: collections %q and %q both load table %q", prev, name, r.Table)
		}

		tables[r.Table] = name

		for field, target := range r.ForeignKeys {
			if _, ok := s.Collections[target]; !ok {
				return fmt.Errorf("rules: %s.%s references unknown collection %q: %w", name, field, target, models.ErrUnknownRule)
			}

			if target != name && !slices.Contains(s.Dependencies[name], target) {
				return fmt.Errorf("rules: %s.%s references %q, which is not declared as a dependency of %q", name, field, target, name)
			}
		}

		for _, field := range r.Monetary {
			if t := r.Types[field]; t != TypeDecimal {
				return fmt.Errorf("rules: monetary field %s.%s must have type decimal, got %q", name, field, t)
			}
		}

		for _, field := range r.NonNegative {
			if t := r.Types[field]; t != TypeDecimal && t != TypeInt {
				return fmt.Errorf("rules: non-negative field %s.%s must be numeric, got %q", name, field, t)
			}
		}

		for field, t := range r.Types {
			switch t {
			case TypeString, TypeInt, TypeDecimal, TypeBool, TypeTime, TypeJSON:
			default:
				return fmt.Errorf("rules: %s.%s has unknown type %q", name, field, t)
			}
		}

		if r.Tax != nil {
			if r.Tax.AmountField == "" || r.Tax.TargetField == "" || r.Tax.CategoryField == "" || r.Tax.Divisor == "" {
				return fmt.Errorf("rules: %s tax rule needs amount_field, category_field, target_field and divisor", name)
			}
		}
	}

	for name, deps := range s.Dependencies {
		if _, ok := s.Collections[name]; !ok {
			return fmt.Errorf("rules: dependency declared for unknown collection %q: %w", name, models.ErrUnknownRule)
		}

		for _, d := range deps {
			if _, ok := s.Collections[d]; !ok {
				return fmt.Errorf("rules: %q depends on unknown collection %q: %w", name, d, models.ErrUnknownRule)
			}
		}
	}

	return nil
}

// Names returns the declared collection names, sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Rule returns the rule for a collection.
func (s *Set) Rule(collection string) (*Rule, error) {
	r, ok := s.Collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownRule, collection)
	}

	return r, nil
}

// Prerequisites returns the declared dependencies of a collection, sorted.
func (s *Set) Prerequisites(collection string) []string {
	deps := slices.Clone(s.Dependencies[collection])
	sort.Strings(deps)

	return deps
}
