package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/call-helm-sub003/internal/conversation"
	"github.com/Systemsaholic/call-helm-sub003/internal/messaging"
	"github.com/Systemsaholic/call-helm-sub003/internal/messaging/carrier"
)

type fakeConvStore struct {
	conv       conversation.Conversation
	created    bool
	touched    int
	optedOut   []bool
	messages   []conversation.MessageRecord
	messageIDs []uuid.UUID
}

func (f *fakeConvStore) GetOrCreate(_ context.Context, _ conversation.Querier, orgID uuid.UUID, phone string) (conversation.Conversation, bool, error) {
	if f.conv.ID == uuid.Nil {
		f.conv = conversation.Conversation{ID: uuid.New(), OrganizationID: orgID, PhoneNumber: phone}
	}
	return f.conv, f.created, nil
}

func (f *fakeConvStore) TouchInbound(_ context.Context, _ conversation.Querier, _ uuid.UUID) error {
	f.touched++
	return nil
}

func (f *fakeConvStore) SetOptedOut(_ context.Context, _ conversation.Querier, _ uuid.UUID, optedOut bool) error {
	f.optedOut = append(f.optedOut, optedOut)
	return nil
}

func (f *fakeConvStore) InsertMessage(_ context.Context, _ conversation.Querier, rec conversation.MessageRecord) (uuid.UUID, error) {
	id := uuid.New()
	f.messages = append(f.messages, rec)
	f.messageIDs = append(f.messageIDs, id)
	return id, nil
}

type fakeOrgResolver struct {
	orgID uuid.UUID
	err   error
}

func (f *fakeOrgResolver) Resolve(_ context.Context, _, _, _ string) (uuid.UUID, error) {
	return f.orgID, f.err
}

type fakeReconciler struct {
	events  []messaging.CanonicalEvent
	replies []string
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, evt messaging.CanonicalEvent) error {
	f.events = append(f.events, evt)
	return f.err
}

func (f *fakeReconciler) RecordReply(_ context.Context, phone string) error {
	f.replies = append(f.replies, phone)
	return f.err
}

type fakeCarrier struct {
	sent   []carrier.SendMessageRequest
	sigErr error
}

func (f *fakeCarrier) SendMessage(_ context.Context, req carrier.SendMessageRequest) (*carrier.MessageResponse, error) {
	f.sent = append(f.sent, req)
	return &carrier.MessageResponse{ID: "out_1", Status: "queued"}, nil
}

func (f *fakeCarrier) VerifyWebhookSignature(_, _ string, _ []byte) error {
	return f.sigErr
}

type fakeProcessedTracker struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeProcessedTracker) AlreadyProcessed(_ context.Context, _, eventID string) (bool, error) {
	return f.seen[eventID], nil
}

func (f *fakeProcessedTracker) MarkProcessed(_ context.Context, _, eventID string) (bool, error) {
	f.marked = append(f.marked, eventID)
	return true, nil
}

type fakeAnalysis struct {
	dispatched []string
}

func (f *fakeAnalysis) Dispatch(_ uuid.UUID, text string) {
	f.dispatched = append(f.dispatched, text)
}

type smsTestEnv struct {
	handler   *SMSWebhookHandler
	conv      *fakeConvStore
	carrier   *fakeCarrier
	processed *fakeProcessedTracker
	analysis  *fakeAnalysis
	recon     *fakeReconciler
}

func newSMSTestEnv() *smsTestEnv {
	env := &smsTestEnv{
		conv:      &fakeConvStore{},
		carrier:   &fakeCarrier{},
		processed: &fakeProcessedTracker{seen: map[string]bool{}},
		analysis:  &fakeAnalysis{},
		recon:     &fakeReconciler{},
	}
	env.handler = NewSMSWebhookHandler(SMSWebhookConfig{
		Carrier:       env.carrier,
		Conversations: env.conv,
		Orgs:          &fakeOrgResolver{orgID: uuid.New()},
		Reconciler:    env.recon,
		Processed:     env.processed,
		Analysis:      env.analysis,
		PublicBaseURL: "https://app.callhelm.test",
	})
	return env
}

func telnyxInbound(eventID, from, to, text string) string {
	return fmt.Sprintf(`{"data":{"id":"%s","event_type":"message.received","payload":{
		"id":"msg_%s","text":"%s",
		"from":{"phone_number":"%s"},
		"to":[{"phone_number":"%s"}]
	}}}`, eventID, eventID, text, from, to)
}

func TestTelnyxInboundStopOptsOut(t *testing.T) {
	env := newSMSTestEnv()

	body := telnyxInbound("evt_1", "+15551234567", "+15559990000", "STOP")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"action":"opted_out"`)

	require.Equal(t, []bool{true}, env.conv.optedOut)
	require.Len(t, env.conv.messages, 1, "the STOP message is still stored")
	require.Len(t, env.carrier.sent, 1, "one confirmation queued")
	assert.Equal(t, "+15559990000", env.carrier.sent[0].From)
	assert.Equal(t, "+15551234567", env.carrier.sent[0].To)
	assert.Empty(t, env.analysis.dispatched, "no analysis trigger for an opt-out")
	assert.Equal(t, []string{"evt_1"}, env.processed.marked)
}

func TestTelnyxInboundLenientStopWithPunctuation(t *testing.T) {
	env := newSMSTestEnv()

	body := telnyxInbound("evt_2", "+15551234567", "+15559990000", "...stop")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"opted_out"`)
}

func TestTelnyxTrailingPeriodDefeatsOptOut(t *testing.T) {
	env := newSMSTestEnv()

	body := telnyxInbound("evt_2b", "+15551234567", "+15559990000", "stop.")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"received"`)
	assert.Empty(t, env.conv.optedOut)
}

func TestTelnyxInboundRegularMessage(t *testing.T) {
	env := newSMSTestEnv()

	body := telnyxInbound("evt_3", "+15551234567", "+15559990000", "what time do you open?")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"received"`)
	assert.Empty(t, env.conv.optedOut)
	assert.Empty(t, env.carrier.sent)
	assert.Equal(t, []string{"what time do you open?"}, env.analysis.dispatched)
}

func TestTelnyxInboundMarksBroadcastReply(t *testing.T) {
	env := newSMSTestEnv()

	body := telnyxInbound("evt_reply", "+15551234567", "+15559990000", "sounds good, see you then")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"received"`)
	assert.Equal(t, []string{"+15551234567"}, env.recon.replies)
}

func TestTelnyxInboundSuppressedWhenOptedOut(t *testing.T) {
	env := newSMSTestEnv()
	env.conv.conv = conversation.Conversation{ID: uuid.New(), IsOptedOut: true}

	body := telnyxInbound("evt_4", "+15551234567", "+15559990000", "hello again")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"suppressed"`)
	require.Len(t, env.conv.messages, 1, "the message is stored despite suppression")
	assert.Empty(t, env.carrier.sent)
	assert.Empty(t, env.analysis.dispatched)
}

func TestTelnyxInboundOptInWhileOptedOut(t *testing.T) {
	env := newSMSTestEnv()
	env.conv.conv = conversation.Conversation{ID: uuid.New(), IsOptedOut: true}

	body := telnyxInbound("evt_5", "+15551234567", "+15559990000", "START")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"opted_in"`)
	assert.Equal(t, []bool{false}, env.conv.optedOut)
	require.Len(t, env.carrier.sent, 1)
}

func TestTelnyxDuplicateEvent(t *testing.T) {
	env := newSMSTestEnv()
	env.processed.seen["evt_6"] = true

	body := telnyxInbound("evt_6", "+15551234567", "+15559990000", "hi")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"duplicate"`)
	assert.Empty(t, env.conv.messages)
}

func TestTelnyxInvalidSignature(t *testing.T) {
	env := newSMSTestEnv()
	env.carrier.sigErr = fmt.Errorf("signature mismatch")

	body := telnyxInbound("evt_7", "+15551234567", "+15559990000", "hi")
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTelnyxDeliveryStatusReconciles(t *testing.T) {
	env := newSMSTestEnv()

	body := `{"data":{"id":"evt_8","event_type":"message.finalized","payload":{
		"id":"msg_out_1","status":"delivered",
		"from":{"phone_number":"+15559990000"},
		"to":[{"phone_number":"+15551234567"}]
	}}}`
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Contains(t, rec.Body.String(), `"action":"reconciled"`)
	require.Len(t, env.recon.events, 1)
	assert.Equal(t, "msg_out_1", env.recon.events[0].ProviderMessageID)
	assert.Equal(t, "delivered", env.recon.events[0].ProviderStatus)
}

func TestTelnyxProcessingErrorStillAcks(t *testing.T) {
	env := newSMSTestEnv()
	env.recon.err = fmt.Errorf("db down")

	body := `{"data":{"id":"evt_9","event_type":"message.finalized","payload":{
		"id":"msg_out_1","status":"delivered",
		"from":{"phone_number":"+15559990000"},
		"to":[{"phone_number":"+15551234567"}]
	}}}`
	rec := httptest.NewRecorder()
	env.handler.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms/telnyx", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
	assert.Contains(t, rec.Body.String(), `"error"`)
	assert.Empty(t, env.processed.marked, "failed events are not marked processed")
}

func TestTwilioTrailingPeriodStillOptsOut(t *testing.T) {
	env := newSMSTestEnv()

	// This carrier strips all punctuation before matching, so "stop." opts
	// out here while the JSON carrier treats it as a regular message.
	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "+15551234567")
	form.Set("To", "+15559990000")
	form.Set("Body", "stop.")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.HandleTwilio(rec, req)

	assert.Contains(t, rec.Body.String(), `"action":"opted_out"`)
	assert.Equal(t, []bool{true}, env.conv.optedOut)
}

func TestTwilioInboundStopOptsOut(t *testing.T) {
	env := newSMSTestEnv()

	form := url.Values{}
	form.Set("MessageSid", "SM2")
	form.Set("From", "+15551234567")
	form.Set("To", "+15559990000")
	form.Set("Body", "STOP")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.HandleTwilio(rec, req)

	assert.Contains(t, rec.Body.String(), `"action":"opted_out"`)
	assert.Equal(t, []bool{true}, env.conv.optedOut)
}

func TestTwilioSignatureRequiredWhenConfigured(t *testing.T) {
	env := newSMSTestEnv()
	env.handler.twilioAuthToken = "token"

	form := url.Values{}
	form.Set("MessageSid", "SM3")
	form.Set("Body", "hi")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("X-Twilio-Signature", "bogus")
	rec := httptest.NewRecorder()
	env.handler.HandleTwilio(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwilioAccountSIDMismatchRejected(t *testing.T) {
	env := newSMSTestEnv()
	env.handler.twilioAccountSID = "ACexpected"

	form := url.Values{}
	form.Set("MessageSid", "SM4")
	form.Set("AccountSid", "ACother")
	form.Set("Body", "hi")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/twilio", strings.NewReader(form.Encode()))
	rec := httptest.NewRecorder()
	env.handler.HandleTwilio(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.conv.messages)
}

func TestTwilioAccountSIDMatchAccepted(t *testing.T) {
	env := newSMSTestEnv()
	env.handler.twilioAccountSID = "ACexpected"

	form := url.Values{}
	form.Set("MessageSid", "SM5")
	form.Set("AccountSid", "ACexpected")
	form.Set("From", "+15551234567")
	form.Set("To", "+15559990000")
	form.Set("Body", "hi there")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/twilio", strings.NewReader(form.Encode()))
	rec := httptest.NewRecorder()
	env.handler.HandleTwilio(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"received"`)
}
