package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/models"
)

// verificationTimeout bounds one triggered verification, which outlives the
// HTTP request if the caller disconnects.
const verificationTimeout = 2 * time.Hour

// VerificationHandler triggers and reports backup verifications. Only one
// verification runs at a time; concurrent triggers get 409.
type VerificationHandler struct {
	verifier domain.BackupVerifier
	history  domain.VerificationHistory
	log      *logrus.Logger
	running  sync.Mutex
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(verifier domain.BackupVerifier, history domain.VerificationHistory, log *logrus.Logger) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, history: history, log: log}
}

type verifyRequest struct {
	ArtifactID string `json:"artifact_id"`
	Latest     bool   `json:"latest"`
}

type verifyResponse struct {
	Passed  bool                         `json:"passed"`
	Results []*models.VerificationResult `json:"results"`
	Warning string                       `json:"warning,omitempty"`
}

// Trigger handles POST /api/v1/backup-verifications.
func (h *VerificationHandler) Trigger(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if (req.ArtifactID == "") == !req.Latest {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "exactly one of artifact_id or latest is required")
		return
	}

	if len(req.ArtifactID) > 255 {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "artifact_id exceeds maximum length of 255")
		return
	}

	if !h.running.TryLock() {
		respondError(c, http.StatusConflict, ErrCodeConflict, "a backup verification is already running")
		return
	}
	defer h.running.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), verificationTimeout)
	defer cancel()

	var (
		results []*models.VerificationResult
		err     error
	)

	if req.Latest {
		results, err = h.verifier.VerifyLatest(ctx)
	} else {
		var res *models.VerificationResult

		res, err = h.verifier.VerifyArtifact(ctx, req.ArtifactID)
		if res != nil {
			results = append(results, res)
		}
	}

	switch {
	case errors.Is(err, models.ErrArtifactNotFound):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	case err != nil && len(results) == 0:
		h.log.WithError(err).Error("backup verification could not start")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "backup verification could not start")
		return
	}

	resp := verifyResponse{Passed: len(results) > 0 && err == nil, Results: results}
	for _, r := range results {
		if !r.Passed() {
			resp.Passed = false
		}
	}

	// Results already verified are returned; the lookup error marks the
	// response as not passed.
	if err != nil {
		h.log.WithError(err).Warn("backup verification incomplete")
		resp.Warning = "verification incomplete: " + err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

// Latest handles GET /api/v1/backup-verifications/latest.
func (h *VerificationHandler) Latest(c *gin.Context) {
	res, err := h.history.LatestVerification(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("reading latest verification failed")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "reading latest verification failed")

		return
	}

	if res == nil {
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "no backup verification recorded yet")
		return
	}

	c.JSON(http.StatusOK, gin.H{"passed": res.Passed(), "status": res.Status(), "result": res})
}
