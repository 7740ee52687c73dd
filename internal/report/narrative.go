package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Markdown renders the human-readable narrative of the run.
func (r *Report) Markdown() string {
	var b strings.Builder

	b.WriteString("# Migration report\n\n")

	if r.DryRun {
		b.WriteString("**Mode:** dry run, no changes were made to the destination.\n\n")
	}

	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	if r.DataDir != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", r.DataDir)
	}
	if r.Destination != "" {
		fmt.Fprintf(&b, "- Destination: `%s`\n", r.Destination)
	}
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Identifier mappings: %s\n", humanize.Comma(int64(r.IDMappings)))

	if r.Error != "" {
		fmt.Fprintf(&b, "- Status: **FAILED**: %s\n", r.Error)
	} else if r.Success() {
		b.WriteString("- Status: **SUCCESS**\n")
	} else {
		b.WriteString("- Status: **COMPLETED WITH FAILURES**\n")
	}

	t := r.Totals
	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "%s of %s records loaded across %d collections (%s success rate), %s failed.\n",
		humanize.Comma(int64(t.Succeeded)), humanize.Comma(int64(t.Attempted)), t.Collections,
		humanize.FormatFloat("#,###.##", t.SuccessRate)+"%", humanize.Comma(int64(t.Failed)))
	fmt.Fprintf(&b, "Throughput %s records/s over %s of source data.\n",
		humanize.FormatFloat("#,###.#", t.RecordsPerSecond), humanize.Bytes(uint64(max(t.Bytes, 0))))
	if t.Fallbacks > 0 {
		fmt.Fprintf(&b, "%d batches fell back to per-record loading.\n", t.Fallbacks)
	}
	if t.Skipped > 0 {
		fmt.Fprintf(&b, "%d collections were skipped, leaving %s source records unloaded.\n",
			t.Skipped, humanize.Comma(int64(t.SkippedRecords)))
	}
	if t.Dangling > 0 {
		fmt.Fprintf(&b, "%s records were written with dangling references set to NULL.\n", humanize.Comma(int64(t.Dangling)))
	}

	if len(r.Results) > 0 {
		b.WriteString("\n## Collections\n\n")
		b.WriteString("| Collection | Table | Strategy | Attempted | Succeeded | Failed | Batches | Duration |\n")
		b.WriteString("|---|---|---|---:|---:|---:|---:|---:|\n")
		for _, res := range r.Results {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %d | %s |\n",
				res.Collection, res.Table, res.Strategy,
				humanize.Comma(int64(res.Attempted)), humanize.Comma(int64(res.Succeeded)), humanize.Comma(int64(res.Failed)),
				res.Batches, res.Duration.Round(time.Millisecond))
		}
	}

	if len(r.TopFailures) > 0 {
		b.WriteString("\n## Top failure reasons\n\n")
		for i, f := range r.TopFailures {
			fmt.Fprintf(&b, "%d. `%s` (%s): %s\n", i+1, f.Collection, humanize.Comma(int64(f.Count)), f.Reason)
		}
	}

	if len(r.Skipped) > 0 {
		b.WriteString("\n## Skipped collections\n\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "- `%s` (%s records): %s\n", s.Collection, humanize.Comma(int64(s.Records)), s.Reason)
		}
	}

	if len(r.Sequences) > 0 {
		b.WriteString("\n## Sequences\n\n")
		for _, s := range r.Sequences {
			if s.Skipped {
				fmt.Fprintf(&b, "- `%s`: skipped (%s)\n", s.Table, s.Reason)
				continue
			}
			fmt.Fprintf(&b, "- `%s.%s`: `%s` set to %d\n", s.Table, s.Column, s.Sequence, s.Value)
		}
	}

	if len(r.Verification) > 0 {
		b.WriteString("\n## Verification\n\n")
		for _, v := range r.Verification {
			switch {
			case v.Error != "":
				fmt.Fprintf(&b, "- `%s`: unverified, expected %s (%s)\n", v.Table, humanize.Comma(v.Expected), v.Error)
			case v.Match:
				fmt.Fprintf(&b, "- `%s`: %s rows, match\n", v.Table, humanize.Comma(v.Actual))
			default:
				fmt.Fprintf(&b, "- `%s`: expected %s, found %s, %s by %s\n", v.Table,
					humanize.Comma(v.Expected), humanize.Comma(v.Actual), v.Direction(), humanize.Comma(abs(v.Delta)))
			}
		}
	}

	return b.String()
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}

	return n
}
