package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

type mockDB struct{ err error }

func (m *mockDB) HealthCheck(context.Context) error { return m.err }

type mockVerifier struct {
	mu        sync.Mutex
	artifact  func(ctx context.Context, id string) (*models.VerificationResult, error)
	latest    func(ctx context.Context) ([]*models.VerificationResult, error)
	artifacts []string
}

func (m *mockVerifier) VerifyArtifact(ctx context.Context, id string) (*models.VerificationResult, error) {
	m.mu.Lock()
	m.artifacts = append(m.artifacts, id)
	m.mu.Unlock()

	return m.artifact(ctx, id)
}

func (m *mockVerifier) VerifyLatest(ctx context.Context) ([]*models.VerificationResult, error) {
	return m.latest(ctx)
}

type mockHistory struct {
	res *models.VerificationResult
	err error
}

func (m *mockHistory) LatestVerification(context.Context) (*models.VerificationResult, error) {
	return m.res, m.err
}

func passed(id string) *models.VerificationResult {
	return &models.VerificationResult{ArtifactID: id, Integrity: true, Restorable: true, DataConsistency: true, Encryption: true}
}
