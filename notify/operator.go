package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OperatorWebhook reports non-fatal operational incidents (permanent alert
// delivery failures) to an operator-controlled endpoint.
type OperatorWebhook struct {
	logger     *zap.Logger
	apiURL     string
	httpClient *http.Client
}

// OperatorIncident is the payload posted to the operator endpoint.
type OperatorIncident struct {
	SiteID    string    `json:"site_id"`
	SiteName  string    `json:"site_name"`
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOperatorWebhook(logger *zap.Logger, apiURL string) *OperatorWebhook {
	return &OperatorWebhook{
		logger: logger,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ReportAlertFailure posts an incident via HTTP POST. Errors are logged and
// swallowed: the webhook is a best-effort surface, never a blocker.
func (o *OperatorWebhook) ReportAlertFailure(ctx context.Context, incident OperatorIncident) {
	jsonData, err := json.Marshal(incident)
	if err != nil {
		o.logger.Error("Failed to marshal operator incident",
			zap.Error(err),
			zap.String("site_id", incident.SiteID))
		return
	}

	endpoint := fmt.Sprintf("%s/api/v1/alert-failure", o.apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		o.logger.Error("Failed to create operator webhook request",
			zap.Error(err),
			zap.String("url", endpoint))
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "powermon/1.0")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Error("Failed to post operator incident",
			zap.Error(err),
			zap.String("site_id", incident.SiteID),
			zap.String("url", endpoint))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		o.logger.Info("Operator incident reported",
			zap.String("site_id", incident.SiteID),
			zap.String("event_id", incident.EventID),
			zap.Int("status_code", resp.StatusCode))
		return
	}

	o.logger.Error("Operator webhook returned error",
		zap.String("site_id", incident.SiteID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status))
}
