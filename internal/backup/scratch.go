package backup

import (
	"context"
	"slices"

	"github.com/persistorai/docmigrate/internal/rules"
	"github.com/persistorai/docmigrate/internal/store"
)

// scratchPrefix names disposable restore databases.
const scratchPrefix = "docmigrate_verify"

// ScratchProvisioner provisions restore targets through a store.ScratchStore.
type ScratchProvisioner struct {
	Store *store.ScratchStore
}

// Provision implements Provisioner.
func (p ScratchProvisioner) Provision(ctx context.Context) (RestoreTarget, func(context.Context) error, error) {
	db, err := p.Store.Create(ctx, scratchPrefix)
	if err != nil {
		return nil, nil, err
	}

	return db, func(ctx context.Context) error { return p.Store.Drop(ctx, db) }, nil
}

// Invariants derives the consistency battery from a rule set: orphaned
// foreign keys, negative values in non-negative columns, and blank required
// columns, for every collection in name order.
func Invariants(set *rules.Set) []store.Invariant {
	var out []store.Invariant

	for _, name := range set.Names() {
		r := set.Collections[name]

		for _, field := range sortedKeys(r.ForeignKeys) {
			parent := set.Collections[r.ForeignKeys[field]]
			out = append(out, store.OrphanedForeignKey(r.Table, field, parent.Table))
		}

		for _, field := range r.NonNegative {
			out = append(out, store.NegativeAmount(r.Table, field))
		}

		for _, field := range r.Required {
			out = append(out, store.BlankRequired(r.Table, field))
		}
	}

	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
