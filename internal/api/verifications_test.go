package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/persistorai/docmigrate/internal/api"
	"github.com/persistorai/docmigrate/internal/models"
)

func newVerificationRouter(v *mockVerifier, h *mockHistory) http.Handler {
	return api.NewRouter(context.Background(), &api.RouterDeps{
		Log:      testLogger(),
		DB:       &mockDB{},
		Verifier: v,
		History:  h,
	})
}

func TestTrigger(t *testing.T) {
	failed := passed("b-2")
	failed.Integrity = false

	tests := []struct {
		name       string
		body       string
		artifact   func(context.Context, string) (*models.VerificationResult, error)
		wantCode   int
		wantPassed bool
	}{
		{
			name:       "artifact passes",
			body:       `{"artifact_id": "b-1"}`,
			artifact:   func(_ context.Context, id string) (*models.VerificationResult, error) { return passed(id), nil },
			wantCode:   http.StatusOK,
			wantPassed: true,
		},
		{
			name:     "artifact fails a check",
			body:     `{"artifact_id": "b-2"}`,
			artifact: func(context.Context, string) (*models.VerificationResult, error) { return failed, nil },
			wantCode: http.StatusOK,
		},
		{
			name: "unknown artifact",
			body: `{"artifact_id": "nope"}`,
			artifact: func(_ context.Context, id string) (*models.VerificationResult, error) {
				return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, id)
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "ledger down",
			body: `{"artifact_id": "b-3"}`,
			artifact: func(context.Context, string) (*models.VerificationResult, error) {
				return nil, errors.New("connection reset")
			},
			wantCode: http.StatusInternalServerError,
		},
		{"neither field", `{}`, nil, http.StatusBadRequest, false},
		{"both fields", `{"artifact_id": "b-1", "latest": true}`, nil, http.StatusBadRequest, false},
		{"malformed", `{"artifact_id":`, nil, http.StatusBadRequest, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := &mockVerifier{artifact: tc.artifact}
			r := newVerificationRouter(v, &mockHistory{})

			w := doRequest(r, http.MethodPost, "/api/v1/backup-verifications", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, w.Code, w.Body.String())
			}

			if tc.wantCode != http.StatusOK {
				return
			}

			var body struct {
				Passed  bool                         `json:"passed"`
				Results []*models.VerificationResult `json:"results"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}

			if body.Passed != tc.wantPassed || len(body.Results) != 1 {
				t.Errorf("passed=%v results=%d", body.Passed, len(body.Results))
			}
		})
	}
}

func TestTrigger_Latest(t *testing.T) {
	v := &mockVerifier{latest: func(context.Context) ([]*models.VerificationResult, error) {
		return []*models.VerificationResult{passed("full-1"), passed("incr-1")}, nil
	}}
	r := newVerificationRouter(v, &mockHistory{})

	w := doRequest(r, http.MethodPost, "/api/v1/backup-verifications", `{"latest": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	if body["passed"] != true {
		t.Errorf("expected passed, got %v", body["passed"])
	}
}

func TestTrigger_LatestIncomplete(t *testing.T) {
	v := &mockVerifier{latest: func(context.Context) ([]*models.VerificationResult, error) {
		return []*models.VerificationResult{passed("full-1")}, errors.New("finding incremental backup since full-1: connection reset")
	}}
	r := newVerificationRouter(v, &mockHistory{})

	w := doRequest(r, http.MethodPost, "/api/v1/backup-verifications", `{"latest": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Passed  bool                         `json:"passed"`
		Results []*models.VerificationResult `json:"results"`
		Warning string                       `json:"warning"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	if body.Passed {
		t.Error("incomplete verification reported as passed")
	}

	if len(body.Results) != 1 || body.Results[0].ArtifactID != "full-1" {
		t.Errorf("full backup result dropped: %+v", body.Results)
	}

	if !strings.Contains(body.Warning, "connection reset") {
		t.Errorf("warning = %q", body.Warning)
	}
}

func TestLatest(t *testing.T) {
	tests := []struct {
		name     string
		history  *mockHistory
		wantCode int
	}{
		{"recorded", &mockHistory{res: passed("b-1")}, http.StatusOK},
		{"none yet", &mockHistory{}, http.StatusNotFound},
		{"error", &mockHistory{err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newVerificationRouter(&mockVerifier{}, tc.history)

			w := doRequest(r, http.MethodGet, "/api/v1/backup-verifications/latest", "")
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
		})
	}
}
