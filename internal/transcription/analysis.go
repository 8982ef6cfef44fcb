package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// HTTPAnalysisDispatcher fires a completed transcript at the analysis route
// without waiting for the result. Failures are logged and dropped; there is
// no retry or dead-letter path.
type HTTPAnalysisDispatcher struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewHTTPAnalysisDispatcher(endpoint string, logger *logging.Logger) *HTTPAnalysisDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPAnalysisDispatcher{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Dispatch posts the transcript to the analysis endpoint in the background.
func (d *HTTPAnalysisDispatcher) Dispatch(attemptID uuid.UUID, transcript string) {
	if d.endpoint == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"call_id":    attemptID.String(),
		"transcript": transcript,
	})
	if err != nil {
		d.logger.Error("analysis dispatch: marshal failed", "error", err, "attempt_id", attemptID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
		if err != nil {
			d.logger.Error("analysis dispatch: build request failed", "error", err, "attempt_id", attemptID)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.logger.Error("analysis dispatch failed", "error", err, "attempt_id", attemptID)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			d.logger.Error("analysis dispatch rejected", "status", resp.StatusCode, "attempt_id", attemptID)
		}
	}()
}
