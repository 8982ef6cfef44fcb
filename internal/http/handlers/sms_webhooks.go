package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/conversation"
	"github.com/Systemsaholic/call-helm-sub003/internal/messaging"
	"github.com/Systemsaholic/call-helm-sub003/internal/messaging/carrier"
	"github.com/Systemsaholic/call-helm-sub003/internal/observability/metrics"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

type conversationStore interface {
	GetOrCreate(ctx context.Context, q conversation.Querier, orgID uuid.UUID, phone string) (conversation.Conversation, bool, error)
	TouchInbound(ctx context.Context, q conversation.Querier, conversationID uuid.UUID) error
	SetOptedOut(ctx context.Context, q conversation.Querier, conversationID uuid.UUID, optedOut bool) error
	InsertMessage(ctx context.Context, q conversation.Querier, rec conversation.MessageRecord) (uuid.UUID, error)
}

type orgResolver interface {
	Resolve(ctx context.Context, explicitOrgID, from, to string) (uuid.UUID, error)
}

type deliveryReconciler interface {
	Reconcile(ctx context.Context, evt messaging.CanonicalEvent) error
	RecordReply(ctx context.Context, phone string) error
}

type smsSender interface {
	SendMessage(ctx context.Context, req carrier.SendMessageRequest) (*carrier.MessageResponse, error)
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type analysisTrigger interface {
	Dispatch(id uuid.UUID, text string)
}

// SMSWebhookConfig holds dependencies for the inbound SMS webhook handlers.
type SMSWebhookConfig struct {
	Carrier          smsSender
	TwilioAccountSID string
	TwilioAuthToken  string
	PublicBaseURL    string
	Conversations    conversationStore
	Orgs             orgResolver
	Reconciler       deliveryReconciler
	Processed        processedTracker
	Analysis         analysisTrigger
	Metrics          *metrics.WebhookMetrics
	Logger           *logging.Logger
	MessagingProfile string
	OptOutReply      string
	OptInReply       string
}

// SMSWebhookHandler receives carrier SMS webhooks, normalizes them and
// applies the conversation opt-out rules. Each carrier keeps its historical
// keyword matching behavior: the form-encoded carrier matches strictly, the
// JSON carrier tolerates leading punctuation.
type SMSWebhookHandler struct {
	carrier          smsSender
	twilioAccountSID string
	twilioAuthToken  string
	publicBaseURL    string
	conversations    conversationStore
	orgs             orgResolver
	reconciler       deliveryReconciler
	processed        processedTracker
	analysis         analysisTrigger
	metrics          *metrics.WebhookMetrics
	logger           *logging.Logger
	messagingProfile string
	optOutReply      string
	optInReply       string

	telnyxNormalizer messaging.Normalizer
	twilioNormalizer messaging.Normalizer
	telnyxMatcher    messaging.KeywordMatcher
	twilioMatcher    messaging.KeywordMatcher
}

func NewSMSWebhookHandler(cfg SMSWebhookConfig) *SMSWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SMSWebhookHandler{
		carrier:          cfg.Carrier,
		twilioAccountSID: cfg.TwilioAccountSID,
		twilioAuthToken:  cfg.TwilioAuthToken,
		publicBaseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		conversations:    cfg.Conversations,
		orgs:             cfg.Orgs,
		reconciler:       cfg.Reconciler,
		processed:        cfg.Processed,
		analysis:         cfg.Analysis,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		messagingProfile: cfg.MessagingProfile,
		optOutReply:      defaultString(cfg.OptOutReply, "You have been unsubscribed. Reply START to resubscribe."),
		optInReply:       defaultString(cfg.OptInReply, "You are resubscribed. Reply STOP to unsubscribe."),
		telnyxNormalizer: messaging.TelnyxNormalizer{},
		twilioNormalizer: messaging.TwilioNormalizer{},
		telnyxMatcher:    messaging.LenientKeywordMatcher{},
		twilioMatcher:    messaging.StrictKeywordMatcher{},
	}
}

// HandleTelnyx processes Telnyx message webhooks, both inbound messages and
// delivery receipts.
func (h *SMSWebhookHandler) HandleTelnyx(w http.ResponseWriter, r *http.Request) {
	if h.carrier == nil {
		http.Error(w, `{"error":"carrier not configured"}`, http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	if err := h.carrier.VerifyWebhookSignature(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
		h.logger.Warn("invalid telnyx webhook signature", "error", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	evt, err := h.telnyxNormalizer.NormalizeInbound(body)
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	h.process(w, r, evt, h.telnyxMatcher, start)
}

// HandleTwilio processes the legacy form-encoded webhook format.
func (h *SMSWebhookHandler) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	if h.twilioAuthToken != "" || h.twilioAccountSID != "" {
		params, err := url.ParseQuery(string(body))
		if err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		if h.twilioAccountSID != "" && params.Get("AccountSid") != h.twilioAccountSID {
			h.logger.Warn("twilio webhook from unexpected account", "account_sid", params.Get("AccountSid"))
			http.Error(w, `{"error":"unknown account"}`, http.StatusUnauthorized)
			return
		}
		if h.twilioAuthToken != "" {
			webhookURL := h.publicBaseURL + r.URL.Path
			if !messaging.ValidTwilioSignature(h.twilioAuthToken, webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
				h.logger.Warn("invalid twilio webhook signature", "url", webhookURL)
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}
		}
	}

	evt, err := h.twilioNormalizer.NormalizeInbound(body)
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	h.process(w, r, evt, h.twilioMatcher, start)
}

func (h *SMSWebhookHandler) process(w http.ResponseWriter, r *http.Request, evt messaging.CanonicalEvent, matcher messaging.KeywordMatcher, start time.Time) {
	ctx := r.Context()

	if h.processed != nil && evt.EventID != "" {
		done, err := h.processed.AlreadyProcessed(ctx, evt.Provider, evt.EventID)
		if err != nil {
			h.logger.Error("processed lookup failed", "error", err, "event_id", evt.EventID)
		} else if done {
			h.metrics.ObserveInbound(evt.Provider, evt.EventType, "duplicate")
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "action": "duplicate"})
			return
		}
	}

	var action string
	var err error
	switch evt.EventType {
	case messaging.EventMessageReceived:
		action, err = h.handleInbound(ctx, r.URL.Query().Get("org_id"), evt, matcher)
	case messaging.EventDeliveryStatus:
		action = "reconciled"
		err = h.reconciler.Reconcile(ctx, evt)
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err != nil {
		// The carrier still gets 200 so its retry/backoff does not amplify
		// a transient failure on our side.
		h.logger.Error("sms webhook processing failed",
			"error", err, "provider", evt.Provider, "event_type", evt.EventType)
		h.metrics.ObserveInbound(evt.Provider, evt.EventType, "error")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "error": err.Error()})
		return
	}

	if h.processed != nil && evt.EventID != "" {
		if _, err := h.processed.MarkProcessed(ctx, evt.Provider, evt.EventID); err != nil {
			h.logger.Error("failed to mark event processed", "error", err, "event_id", evt.EventID)
		}
	}

	h.metrics.ObserveInbound(evt.Provider, evt.EventType, "ok")
	h.metrics.ObserveWebhookLatency("sms_"+evt.Provider, time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "action": action})
}

// handleInbound stores the message on its conversation thread and applies
// the opt-out keyword rules. The returned action lands in the response body.
func (h *SMSWebhookHandler) handleInbound(ctx context.Context, explicitOrg string, evt messaging.CanonicalEvent, matcher messaging.KeywordMatcher) (string, error) {
	orgID, err := h.orgs.Resolve(ctx, explicitOrg, evt.From, evt.To)
	if err != nil {
		return "", err
	}

	conv, created, err := h.conversations.GetOrCreate(ctx, nil, orgID, evt.From)
	if err != nil {
		return "", err
	}
	if !created {
		if err := h.conversations.TouchInbound(ctx, nil, conv.ID); err != nil {
			return "", err
		}
	}

	if _, err := h.conversations.InsertMessage(ctx, nil, conversation.MessageRecord{
		OrganizationID:    orgID,
		ConversationID:    conv.ID,
		Direction:         "inbound",
		Body:              evt.Body,
		Media:             evt.MediaURLs,
		Status:            messaging.StatusDelivered,
		ProviderMessageID: evt.ProviderMessageID,
	}); err != nil {
		return "", err
	}

	// A reply from a broadcast recipient flips its status mirror. Failures
	// are logged only; the message itself is already stored.
	if h.reconciler != nil {
		if err := h.reconciler.RecordReply(ctx, evt.From); err != nil {
			h.logger.Error("broadcast reply marking failed", "error", err, "from", evt.From)
		}
	}

	switch matcher.Classify(evt.Body) {
	case messaging.ActionOptOut:
		if err := h.conversations.SetOptedOut(ctx, nil, conv.ID, true); err != nil {
			return "", err
		}
		h.sendAutoReply(ctx, evt.To, evt.From, h.optOutReply)
		return "opted_out", nil

	case messaging.ActionOptIn:
		if !conv.IsOptedOut {
			break
		}
		if err := h.conversations.SetOptedOut(ctx, nil, conv.ID, false); err != nil {
			return "", err
		}
		h.sendAutoReply(ctx, evt.To, evt.From, h.optInReply)
		return "opted_in", nil
	}

	// An opted-out conversation still stores the message but triggers
	// nothing downstream.
	if conv.IsOptedOut {
		return "suppressed", nil
	}

	if h.analysis != nil {
		h.analysis.Dispatch(conv.ID, evt.Body)
	}
	return "received", nil
}

// sendAutoReply queues a confirmation message. Failures are logged only; the
// opt-out state change has already been committed.
func (h *SMSWebhookHandler) sendAutoReply(ctx context.Context, from, to, body string) {
	if h.carrier == nil {
		return
	}
	_, err := h.carrier.SendMessage(ctx, carrier.SendMessageRequest{
		From:               from,
		To:                 to,
		Body:               body,
		MessagingProfileID: h.messagingProfile,
	})
	if err != nil {
		h.logger.Error("auto-reply send failed", "error", err, "to", to)
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
