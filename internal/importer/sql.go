package importer

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/docmigrate/internal/models"
)

// postgresMaxParams is the bind-parameter limit of the extended protocol.
const postgresMaxParams = 65535

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// quoteColumns quotes every column name.
func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}

	return out
}

// allColumns prepends the primary key to the non-key columns.
func allColumns(cols []string) []string {
	return append([]string{models.PrimaryKeyColumn}, cols...)
}

// conflictClause overwrites the listed non-key columns on primary-key conflict.
func conflictClause(cols []string) string {
	pk := pgx.Identifier{models.PrimaryKeyColumn}.Sanitize()
	if len(cols) == 0 {
		return " ON CONFLICT (" + pk + ") DO NOTHING"
	}

	sets := make([]string, len(cols))
	for i, c := range quoteColumns(cols) {
		sets[i] = c + " = EXCLUDED." + c
	}

	return " ON CONFLICT (" + pk + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// upsertValuesSQL builds a multi-row INSERT ... VALUES ... ON CONFLICT statement
// for rows records.
func upsertValuesSQL(table string, cols []string, rows int) string {
	all := allColumns(cols)
	width := len(all)

	valueParts := make([]string, 0, rows)
	placeholders := make([]string, width)

	for r := range rows {
		base := r*width + 1
		for c := range width {
			placeholders[c] = fmt.Sprintf("$%d", base+c)
		}

		valueParts = append(valueParts, "("+strings.Join(placeholders, ", ")+")")
	}

	return "INSERT INTO " + quoteTable(table) +
		" (" + strings.Join(quoteColumns(all), ", ") + ") VALUES " +
		strings.Join(valueParts, ", ") + conflictClause(cols)
}

// stagingTable names the per-transaction temp table used by the COPY path.
func stagingTable(table string) string {
	parts := strings.Split(table, ".")
	return "docmigrate_stage_" + parts[len(parts)-1]
}

// createStagingSQL creates an empty, constraint-free copy of the destination
// table that is dropped when the transaction ends. Columns a group leaves out
// stay NULL in staging and are never selected into the destination.
func createStagingSQL(table string) string {
	return "CREATE TEMP TABLE " + pgx.Identifier{stagingTable(table)}.Sanitize() +
		" ON COMMIT DROP AS SELECT * FROM " + quoteTable(table) + " WITH NO DATA"
}

func truncateStagingSQL(table string) string {
	return "TRUNCATE " + pgx.Identifier{stagingTable(table)}.Sanitize()
}

// upsertFromStagingSQL moves staged rows into the destination table.
func upsertFromStagingSQL(table string, cols []string) string {
	list := strings.Join(quoteColumns(allColumns(cols)), ", ")

	return "INSERT INTO " + quoteTable(table) + " (" + list + ") SELECT " + list +
		" FROM " + pgx.Identifier{stagingTable(table)}.Sanitize() + conflictClause(cols)
}

// rowValues returns the record's values in allColumns order.
func rowValues(rec *models.TransformedRecord, cols []string) []any {
	vals := make([]any, 0, len(cols)+1)
	vals = append(vals, rec.ID)

	for _, c := range cols {
		vals = append(vals, rec.Fields[c])
	}

	return vals
}

// columnGroup is a set of records that carry the same columns.
type columnGroup struct {
	cols    []string
	records []models.TransformedRecord
}

// groupByColumns splits batch by the columns each record actually carries,
// listed in cols order. A column missing from a record is omitted from its
// statement so the destination default applies and an upsert leaves the
// stored value alone. Groups keep first-appearance order.
func groupByColumns(cols []string, batch []models.TransformedRecord) []columnGroup {
	var groups []columnGroup

	index := make(map[string]int)

	for i := range batch {
		present := make([]string, 0, len(cols))
		for _, c := range cols {
			if _, ok := batch[i].Fields[c]; ok {
				present = append(present, c)
			}
		}

		key := strings.Join(present, "\x00")

		n, ok := index[key]
		if !ok {
			n = len(groups)
			index[key] = n
			groups = append(groups, columnGroup{cols: present})
		}

		groups[n].records = append(groups[n].records, batch[i])
	}

	return groups
}

// maxRowsPerStatement caps a VALUES batch so it stays under the parameter limit.
func maxRowsPerStatement(cols []string) int {
	return postgresMaxParams / (len(cols) + 1)
}
