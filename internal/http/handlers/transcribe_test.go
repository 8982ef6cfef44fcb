package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/call-helm-sub003/internal/calls"
	"github.com/Systemsaholic/call-helm-sub003/internal/transcription"
)

type fakePipeline struct {
	attemptID    uuid.UUID
	recordingURL string
	transcript   transcription.Transcript
	err          error
}

func (f *fakePipeline) Process(_ context.Context, attemptID uuid.UUID, recordingURL string) (transcription.Transcript, error) {
	f.attemptID = attemptID
	f.recordingURL = recordingURL
	return f.transcript, f.err
}

func transcribeRequest(attemptID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/calls/"+attemptID+"/transcribe", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("attemptID", attemptID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestTranscribeSuccess(t *testing.T) {
	pipeline := &fakePipeline{transcript: transcription.Transcript{
		Text: "Agent: Hello.",
		Segments: []transcription.Segment{
			{Speaker: "Agent", Text: "Hello.", Start: 0, End: 1},
		},
	}}
	h := NewTranscribeHandler(pipeline, nil)

	attemptID := uuid.New()
	rec := httptest.NewRecorder()
	h.Handle(rec, transcribeRequest(attemptID.String(), `{"recording_url":"https://cdn.example/rec.mp3"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"segments":1`)
	assert.Contains(t, rec.Body.String(), "Agent: Hello.")
	assert.Equal(t, attemptID, pipeline.attemptID)
	assert.Equal(t, "https://cdn.example/rec.mp3", pipeline.recordingURL)
}

func TestTranscribeInvalidAttemptID(t *testing.T) {
	h := NewTranscribeHandler(&fakePipeline{}, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, transcribeRequest("not-a-uuid", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribeUnknownAttempt(t *testing.T) {
	h := NewTranscribeHandler(&fakePipeline{err: calls.ErrAttemptNotFound}, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, transcribeRequest(uuid.NewString(), ""))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscribeProviderFailure(t *testing.T) {
	h := NewTranscribeHandler(&fakePipeline{err: context.DeadlineExceeded}, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, transcribeRequest(uuid.NewString(), ""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
