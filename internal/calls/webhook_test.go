package calls

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttempts struct {
	agentID    *uuid.UUID
	contactID  *uuid.UUID
	inserted   []Attempt
	insertedID uuid.UUID
	ringing    []string
	answered   []string
	completed  []Attempt
	complete   Attempt
}

func (f *fakeAttempts) MatchAgent(_ context.Context, _ uuid.UUID, _ string) (*uuid.UUID, error) {
	return f.agentID, nil
}

func (f *fakeAttempts) MatchContact(_ context.Context, _ uuid.UUID, _ string) (*uuid.UUID, error) {
	return f.contactID, nil
}

func (f *fakeAttempts) InsertAttempt(_ context.Context, a Attempt) (uuid.UUID, error) {
	f.inserted = append(f.inserted, a)
	return f.insertedID, nil
}

func (f *fakeAttempts) MarkRinging(_ context.Context, providerCallID string) error {
	f.ringing = append(f.ringing, providerCallID)
	return nil
}

func (f *fakeAttempts) MarkAnswered(_ context.Context, providerCallID string) error {
	f.answered = append(f.answered, providerCallID)
	return nil
}

func (f *fakeAttempts) CompleteAttempt(_ context.Context, providerCallID string, disposition Disposition, endedAt time.Time, durationSeconds int, recordingURL string) (Attempt, error) {
	f.completed = append(f.completed, Attempt{
		ProviderCallID:  providerCallID,
		Disposition:     disposition,
		DurationSeconds: durationSeconds,
		RecordingURL:    recordingURL,
		EndedAt:         &endedAt,
	})
	return f.complete, nil
}

type fakeUsage struct {
	estimates  []int
	reconciled []int
}

func (f *fakeUsage) RecordEstimate(_ context.Context, _, _ uuid.UUID, estimatedMinutes int) error {
	f.estimates = append(f.estimates, estimatedMinutes)
	return nil
}

func (f *fakeUsage) Reconcile(_ context.Context, _, _ uuid.UUID, durationSeconds int) error {
	f.reconciled = append(f.reconciled, durationSeconds)
	return nil
}

type fakeResolver struct {
	orgID uuid.UUID
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _, _ string) (uuid.UUID, error) {
	return f.orgID, f.err
}

const voiceSecret = "voice_secret"

func voicePayload(eventType, status string, duration int) string {
	return fmt.Sprintf(`{"data":{"event_type":"%s","occurred_at":"2026-03-02T12:00:00Z","payload":{"call_id":"call_1","from":"+15551230001","to":"+15551230002","direction":"outbound","status":"%s","duration_seconds":%d,"recording_url":"https://cdn.example/rec.mp3"}}}`,
		eventType, status, duration)
}

func signedVoiceRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	mac := hmac.New(sha256.New, []byte(voiceSecret))
	mac.Write([]byte(body))
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newVoiceHandler(store *fakeAttempts, usage *fakeUsage, resolver *fakeResolver) *WebhookHandler {
	return NewWebhookHandler(WebhookConfig{
		WebhookSecret:    voiceSecret,
		EstimatedMinutes: 2,
		Store:            store,
		Usage:            usage,
		Orgs:             resolver,
	})
}

func TestVoiceWebhookInitiated(t *testing.T) {
	agentID := uuid.New()
	store := &fakeAttempts{insertedID: uuid.New(), agentID: &agentID}
	usage := &fakeUsage{}
	h := newVoiceHandler(store, usage, &fakeResolver{orgID: uuid.New()})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedVoiceRequest(voicePayload(EventCallInitiated, "", 0)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "call_1", store.inserted[0].ProviderCallID)
	assert.Equal(t, &agentID, store.inserted[0].AgentID)
	assert.Equal(t, []int{2}, usage.estimates)
}

func TestVoiceWebhookRinging(t *testing.T) {
	store := &fakeAttempts{}
	h := newVoiceHandler(store, &fakeUsage{}, &fakeResolver{})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedVoiceRequest(voicePayload(EventCallRinging, "", 0)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"call_1"}, store.ringing)
}

func TestVoiceWebhookAnswered(t *testing.T) {
	store := &fakeAttempts{}
	h := newVoiceHandler(store, &fakeUsage{}, &fakeResolver{})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedVoiceRequest(voicePayload(EventCallAnswered, "", 0)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"call_1"}, store.answered)
}

func TestVoiceWebhookEndedReconcilesUsage(t *testing.T) {
	store := &fakeAttempts{complete: Attempt{ID: uuid.New(), OrganizationID: uuid.New()}}
	usage := &fakeUsage{}
	h := newVoiceHandler(store, usage, &fakeResolver{})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedVoiceRequest(voicePayload(EventCallEnded, "completed", 125)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.completed, 1)
	assert.Equal(t, DispositionAnswered, store.completed[0].Disposition)
	assert.Equal(t, []int{125}, usage.reconciled)
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	h := newVoiceHandler(&fakeAttempts{}, &fakeUsage{}, &fakeResolver{})

	body := voicePayload(EventCallAnswered, "", 0)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoiceWebhookNoSecretSkipsVerification(t *testing.T) {
	store := &fakeAttempts{}
	h := NewWebhookHandler(WebhookConfig{Store: store, Orgs: &fakeResolver{}})

	body := voicePayload(EventCallAnswered, "", 0)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"call_1"}, store.answered)
}

func TestVoiceWebhookResolveFailureStillAcks(t *testing.T) {
	h := newVoiceHandler(&fakeAttempts{}, &fakeUsage{}, &fakeResolver{err: fmt.Errorf("no org")})

	rec := httptest.NewRecorder()
	h.Handle(rec, signedVoiceRequest(voicePayload(EventCallInitiated, "", 0)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
	assert.Contains(t, rec.Body.String(), `"error"`)
}
