package store

import "testing"

func TestIsCopyFromStdin(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"COPY public.users (id, name) FROM stdin;\n", true},
		{"copy users from stdin;", true},
		{"COPY users TO stdout;", false},
		{"CREATE TABLE copy_log (id int);", false},
	}

	for _, tc := range tests {
		if got := isCopyFromStdin(tc.line); got != tc.want {
			t.Errorf("isCopyFromStdin(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestInvariantSQL(t *testing.T) {
	got := OrphanedForeignKey("transactions", "account_id", "accounts").SQL
	want := `SELECT count(*) FROM "transactions" c WHERE c."account_id" IS NOT NULL AND NOT EXISTS (SELECT 1 FROM "accounts" p WHERE p."id" = c."account_id")`

	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}
