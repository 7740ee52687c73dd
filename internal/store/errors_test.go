package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsDataError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid text representation", &pgconn.PgError{Code: "22P02"}, true},
		{"numeric overflow", &pgconn.PgError{Code: "22003"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"foreign key violation wrapped", fmt.Errorf("batch: %w", &pgconn.PgError{Code: "23503"}), true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDataError(tc.err); got != tc.want {
				t.Errorf("IsDataError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsUndefinedTable(t *testing.T) {
	if !IsUndefinedTable(fmt.Errorf("count: %w", &pgconn.PgError{Code: "42P01"})) {
		t.Error("expected wrapped 42P01 to be detected")
	}

	if IsUndefinedTable(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 is not an undefined table")
	}
}
