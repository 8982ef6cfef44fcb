package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/calls"
	"github.com/Systemsaholic/call-helm-sub003/internal/transcription"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

type transcriptionPipeline interface {
	Process(ctx context.Context, attemptID uuid.UUID, recordingURL string) (transcription.Transcript, error)
}

// TranscribeHandler exposes the transcription pipeline to internal callers.
// Unlike the carrier webhooks, these callers get conventional error codes.
type TranscribeHandler struct {
	pipeline transcriptionPipeline
	logger   *logging.Logger
}

func NewTranscribeHandler(pipeline transcriptionPipeline, logger *logging.Logger) *TranscribeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TranscribeHandler{pipeline: pipeline, logger: logger}
}

// Handle runs transcription for one call attempt. The request blocks until
// the provider returns; polling providers can hold this for minutes.
func (h *TranscribeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(chi.URLParam(r, "attemptID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid attempt id"})
		return
	}

	var req struct {
		RecordingURL string `json:"recording_url"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	transcript, err := h.pipeline.Process(r.Context(), attemptID, req.RecordingURL)
	if err != nil {
		if errors.Is(err, calls.ErrAttemptNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call attempt not found"})
			return
		}
		h.logger.Error("transcription request failed", "error", err, "attempt_id", attemptID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "transcription failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"segments": len(transcript.Segments),
		"text":     transcript.Text,
	})
}
