// Package transform reshapes one collection's source documents into
// destination-schema records. Every record goes through a schema validation
// step first, so a coercion problem becomes a typed ValidationError rather than
// a silently missing value.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/juju/schema"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/config"
	"github.com/persistorai/docmigrate/internal/idmap"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/rules"
)

var errDuplicateSourceID = errors.New("duplicate source id in export")

// Result is the outcome of transforming one collection.
type Result struct {
	Collection string
	Table      string
	Columns    []string // destination columns excluding the primary key, sorted
	Records    []models.TransformedRecord
	Failures   []models.RecordFailure
	Dangling   int // records carrying at least one dangling reference
}

// Transformer applies one rule set against a frozen identifier mapping.
type Transformer struct {
	rules   *rules.Set
	mapping *idmap.Mapping
	policy  string
	log     *logrus.Logger
}

// New creates a Transformer. policy is config.DanglingNull or config.DanglingReject.
func New(set *rules.Set, mapping *idmap.Mapping, policy string, log *logrus.Logger) *Transformer {
	if policy == "" {
		policy = config.DanglingNull
	}

	return &Transformer{rules: set, mapping: mapping, policy: policy, log: log}
}

// Columns returns the destination columns a rule produces, excluding the
// primary key. A record carries the subset its source document supplied;
// absent columns are left to the destination default.
func Columns(r *rules.Rule) []string {
	set := make(map[string]bool, len(r.Types)+len(r.ForeignKeys))
	for name := range r.Types {
		set[name] = true
	}

	for name := range r.ForeignKeys {
		set[name] = true
	}

	for _, name := range r.Required {
		set[name] = true
	}

	if r.Tax != nil {
		set[r.Tax.TargetField] = true
	}

	delete(set, models.PrimaryKeyColumn)

	cols := make([]string, 0, len(set))
	for name := range set {
		cols = append(cols, name)
	}

	sort.Strings(cols)

	return cols
}

// Collection transforms every document of one collection. Records that fail
// validation are returned as failures; they never abort the collection.
func (t *Transformer) Collection(collection string, docs []models.SourceDocument) (*Result, error) {
	rule, err := t.rules.Rule(collection)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Collection: collection,
		Table:      rule.Table,
		Columns:    Columns(rule),
		Records:    make([]models.TransformedRecord, 0, len(docs)),
	}

	checker := buildSchema(rule, derivedFields(rule))
	seen := make(map[string]bool, len(docs))

	for i := range docs {
		doc := &docs[i]

		sid := doc.SourceID
		if sid == "" {
			sid = "#" + strconv.Itoa(i)
		}

		if doc.SourceID != "" && seen[doc.SourceID] {
			mapped, _ := t.mapping.Lookup(collection, doc.SourceID)
			res.Failures = append(res.Failures, t.fail(collection, sid, mapped.String(), rule.IDField, errDuplicateSourceID))

			continue
		}

		seen[doc.SourceID] = true

		rec, err := t.record(rule, checker, doc, res.Columns)
		if err != nil {
			id := ""
			if doc.SourceID != "" {
				if mapped, ok := t.mapping.Lookup(collection, doc.SourceID); ok {
					id = mapped.String()
				}
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				ve = &ValidationError{Collection: collection, SourceID: sid, Err: err}
			}

			if ve.SourceID == "" {
				ve.SourceID = sid
			}

			res.Failures = append(res.Failures, models.RecordFailure{ID: id, SourceID: sid, Reason: ve.Error()})

			t.log.WithFields(logrus.Fields{
				"collection": collection,
				"source_id":  sid,
			}).WithError(ve).Warn("record failed validation")

			continue
		}

		if len(rec.Dangling) > 0 {
			res.Dangling++
		}

		res.Records = append(res.Records, *rec)
	}

	t.log.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(res.Records),
		"failed":     len(res.Failures),
		"dangling":   res.Dangling,
	}).Info("collection transformed")

	return res, nil
}

func (t *Transformer) fail(collection, sid, id, field string, err error) models.RecordFailure {
	ve := &ValidationError{Collection: collection, SourceID: sid, Field: field, Err: err}

	t.log.WithFields(logrus.Fields{
		"collection": collection,
		"source_id":  sid,
	}).WithError(ve).Warn("record rejected")

	return models.RecordFailure{ID: id, SourceID: sid, Reason: ve.Error()}
}

// record transforms a single document.
func (t *Transformer) record(rule *rules.Rule, checker schema.Checker, doc *models.SourceDocument, columns []string) (*models.TransformedRecord, error) {
	if doc.SourceID == "" {
		return nil, &ValidationError{Collection: rule.Collection, SourceID: "", Field: rule.IDField, Err: models.ErrMissingSourceID}
	}

	id, ok := t.mapping.Lookup(rule.Collection, doc.SourceID)
	if !ok {
		return nil, &ValidationError{Collection: rule.Collection, SourceID: doc.SourceID, Err: fmt.Errorf("no destination id mapped")}
	}

	fields := reshape(rule, doc.Payload)

	rec := &models.TransformedRecord{
		Table:    rule.Table,
		ID:       id.String(),
		SourceID: doc.SourceID,
	}

	fks, dangling, err := t.rewriteForeignKeys(rule, doc.SourceID, fields)
	if err != nil {
		return nil, err
	}

	rec.Dangling = dangling

	for name, def := range rule.Defaults {
		if _, ok := fields[name]; !ok {
			fields[name] = def
		}
	}

	coerced, err := checker.Coerce(fields, nil)
	if err != nil {
		return nil, &ValidationError{Collection: rule.Collection, SourceID: doc.SourceID, Err: err}
	}

	out, ok := coerced.(map[string]any)
	if !ok {
		return nil, &ValidationError{Collection: rule.Collection, SourceID: doc.SourceID, Err: fmt.Errorf("unexpected coerced shape %T", coerced)}
	}

	if err := finishDecimals(rule, out, doc.SourceID); err != nil {
		return nil, err
	}

	maps.Copy(out, fks)

	rec.Fields = make(map[string]any, len(columns)+1)
	for _, col := range columns {
		if v, ok := out[col]; ok {
			rec.Fields[col] = v
		}
	}

	rec.Fields[models.PrimaryKeyColumn] = rec.ID

	return rec, nil
}

// derivedFields are columns the transformer computes itself rather than
// coercing from the payload.
func derivedFields(r *rules.Rule) map[string]bool {
	out := make(map[string]bool, len(r.ForeignKeys)+1)
	for name := range r.ForeignKeys {
		out[name] = true
	}

	if r.Tax != nil {
		out[r.Tax.TargetField] = true
	}

	return out
}

// reshape copies the payload with bookkeeping fields dropped, renames applied
// and JSON nulls treated as absent.
func reshape(rule *rules.Rule, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))

	for k, v := range payload {
		if v == nil || k == rule.IDField {
			continue
		}

		if dest, ok := rule.Renames[k]; ok {
			k = dest
		}

		out[k] = v
	}

	for _, k := range rule.Drop {
		delete(out, k)
	}

	return out
}

// rewriteForeignKeys replaces every foreign-key source value with the mapped
// destination id. Values with no mapping entry are flagged dangling and either
// written as NULL or rejected, depending on the configured policy.
func (t *Transformer) rewriteForeignKeys(rule *rules.Rule, sid string, fields map[string]any) (map[string]any, []models.DanglingRef, error) {
	out := make(map[string]any, len(rule.ForeignKeys))

	var dangling []models.DanglingRef

	names := make([]string, 0, len(rule.ForeignKeys))
	for name := range rule.ForeignKeys {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		target := rule.ForeignKeys[name]

		raw, present := fields[name]
		delete(fields, name)

		if !present {
			continue
		}

		ref := refString(raw)
		if ref == "" {
			out[name] = nil
			continue
		}

		if mapped, ok := t.mapping.Lookup(target, ref); ok {
			out[name] = mapped.String()
			continue
		}

		d := models.DanglingRef{Field: name, TargetCollection: target, SourceValue: ref}

		if t.policy == config.DanglingReject {
			return nil, nil, &ValidationError{
				Collection: rule.Collection,
				SourceID:   sid,
				Field:      name,
				Err:        fmt.Errorf("%w: no %s record with source id %q", models.ErrDanglingRef, target, ref),
			}
		}

		dangling = append(dangling, d)
		out[name] = nil
	}

	return out, dangling, nil
}

// finishDecimals rounds monetary fields to cents, derives the tax component and
// renders every decimal as a plain string for the destination numeric column.
func finishDecimals(rule *rules.Rule, out map[string]any, sid string) error {
	for _, name := range rule.Monetary {
		d, ok := out[name].(*apd.Decimal)
		if !ok {
			continue
		}

		cents, err := toCents(d)
		if err != nil {
			return &ValidationError{Collection: rule.Collection, SourceID: sid, Field: name, Err: err}
		}

		out[name] = cents
	}

	if tax := rule.Tax; tax != nil {
		component := apd.New(0, centsExponent)

		if gross, ok := out[tax.AmountField].(*apd.Decimal); ok {
			category, _ := out[tax.CategoryField].(string)
			if tax.Taxable(category) {
				c, err := TaxComponent(gross, tax.Divisor)
				if err != nil {
					return &ValidationError{Collection: rule.Collection, SourceID: sid, Field: tax.TargetField, Err: err}
				}

				component = c
			}
		}

		out[tax.TargetField] = component
	}

	for k, v := range out {
		if d, ok := v.(*apd.Decimal); ok {
			out[k] = formatDecimal(d)
		}
	}

	return nil
}

// refString renders a foreign-key source value the same way source ids are read.
func refString(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case json.Number:
		return r.String()
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64)
	case map[string]any:
		if oid, ok := r["$oid"].(string); ok {
			return oid
		}
	}

	return ""
}
