package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/models"
)

// Alerter raises an alert for a failed verification.
type Alerter interface {
	Alert(ctx context.Context, res *models.VerificationResult) error
}

// AlertPayload is the JSON body posted to the webhook.
type AlertPayload struct {
	ArtifactID   string                     `json:"artifact_id"`
	Kind         models.BackupKind          `json:"kind"`
	Status       string                     `json:"status"`
	FailedChecks []models.VerificationCheck `json:"failed_checks"`
	Errors       []string                   `json:"errors,omitempty"`
	FinishedAt   time.Time                  `json:"finished_at"`
}

func payloadFor(res *models.VerificationResult) AlertPayload {
	return AlertPayload{
		ArtifactID:   res.ArtifactID,
		Kind:         res.Kind,
		Status:       res.Status(),
		FailedChecks: res.FailedChecks(),
		Errors:       res.Errors,
		FinishedAt:   res.FinishedAt,
	}
}

// LogAlerter writes the alert to the log at error level.
type LogAlerter struct {
	Log *logrus.Logger
}

// Alert implements Alerter.
func (a LogAlerter) Alert(_ context.Context, res *models.VerificationResult) error {
	a.Log.WithFields(logrus.Fields{
		"alert":         true,
		"artifact_id":   res.ArtifactID,
		"failed_checks": res.FailedChecks(),
	}).Error("backup verification failed")

	return nil
}

// WebhookAlerter posts the alert as JSON, retrying transient failures.
type WebhookAlerter struct {
	URL      string
	Client   *http.Client
	Attempts int
	Delay    time.Duration
	Log      *logrus.Logger
}

// NewWebhookAlerter creates a WebhookAlerter with a 10s request timeout and three attempts.
func NewWebhookAlerter(url string, log *logrus.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		URL:      url,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: 3,
		Delay:    2 * time.Second,
		Log:      log,
	}
}

// errPermanent marks a webhook response that retrying cannot fix.
var errPermanent = errors.New("webhook rejected alert")

// Alert implements Alerter.
func (a *WebhookAlerter) Alert(ctx context.Context, res *models.VerificationResult) error {
	body, err := json.Marshal(payloadFor(res))
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	err = retry.Call(retry.CallArgs{
		Func: func() error { return a.post(ctx, body) },
		IsFatalError: func(err error) bool {
			return errors.Is(err, errPermanent) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			a.Log.WithError(err).WithField("attempt", attempt).Warn("alert webhook delivery failed")
		},
		Attempts:    a.Attempts,
		Delay:       a.Delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return fmt.Errorf("delivering alert webhook: %w", err)
	}

	return nil
}

func (a *WebhookAlerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %s", resp.Status)
	default:
		return fmt.Errorf("%w: %s", errPermanent, resp.Status)
	}
}

// MultiAlerter fans an alert out to several alerters, joining their errors.
type MultiAlerter []Alerter

// Alert implements Alerter.
func (m MultiAlerter) Alert(ctx context.Context, res *models.VerificationResult) error {
	var errs []error

	for _, a := range m {
		if err := a.Alert(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
