package calls

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/messaging"
	"github.com/Systemsaholic/call-helm-sub003/internal/observability/metrics"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// Lifecycle event types delivered by the voice carrier.
const (
	EventCallInitiated = "call.initiated"
	EventCallRinging   = "call.ringing"
	EventCallAnswered  = "call.answered"
	EventCallEnded     = "call.ended"
)

type attemptStore interface {
	MatchAgent(ctx context.Context, orgID uuid.UUID, number string) (*uuid.UUID, error)
	MatchContact(ctx context.Context, orgID uuid.UUID, number string) (*uuid.UUID, error)
	InsertAttempt(ctx context.Context, a Attempt) (uuid.UUID, error)
	MarkRinging(ctx context.Context, providerCallID string) error
	MarkAnswered(ctx context.Context, providerCallID string) error
	CompleteAttempt(ctx context.Context, providerCallID string, disposition Disposition, endedAt time.Time, durationSeconds int, recordingURL string) (Attempt, error)
}

type usageRecorder interface {
	RecordEstimate(ctx context.Context, orgID, attemptID uuid.UUID, estimatedMinutes int) error
	Reconcile(ctx context.Context, orgID, attemptID uuid.UUID, durationSeconds int) error
}

type orgResolver interface {
	Resolve(ctx context.Context, explicitOrgID, from, to string) (uuid.UUID, error)
}

// WebhookConfig holds dependencies for the voice webhook handler.
type WebhookConfig struct {
	// WebhookSecret signs the raw body with HMAC-SHA256. Verification is
	// skipped when no secret is configured for the integration.
	WebhookSecret    string
	EstimatedMinutes int
	Store            attemptStore
	Usage            usageRecorder
	Orgs             orgResolver
	Metrics          *metrics.WebhookMetrics
	Logger           *logging.Logger
}

// WebhookHandler records voice-call lifecycle webhooks and keeps the billing
// usage events in step with call outcomes.
type WebhookHandler struct {
	secret           string
	estimatedMinutes int
	store            attemptStore
	usage            usageRecorder
	orgs             orgResolver
	metrics          *metrics.WebhookMetrics
	logger           *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.EstimatedMinutes <= 0 {
		cfg.EstimatedMinutes = 2
	}
	return &WebhookHandler{
		secret:           cfg.WebhookSecret,
		estimatedMinutes: cfg.EstimatedMinutes,
		store:            cfg.Store,
		usage:            cfg.Usage,
		orgs:             cfg.Orgs,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}
}

// voiceEvent is the carrier's webhook envelope for call lifecycle events.
type voiceEvent struct {
	Data struct {
		EventType  string    `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallID          string `json:"call_id"`
			From            string `json:"from"`
			To              string `json:"to"`
			Direction       string `json:"direction"`
			Status          string `json:"status"`
			DurationSeconds int    `json:"duration_seconds"`
			RecordingURL    string `json:"recording_url"`
		} `json:"payload"`
	} `json:"data"`
}

// Handle processes a voice lifecycle webhook. The carrier gets 200 even when
// internal processing fails; only signature and parse failures surface as
// errors.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, `{"error":"read error"}`, http.StatusBadRequest)
		return
	}

	if h.secret != "" {
		if !validBodySignature(h.secret, body, r.Header.Get("X-Webhook-Signature")) {
			http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
			return
		}
	}

	var evt voiceEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.Data.EventType == "" || evt.Data.Payload.CallID == "" {
		http.Error(w, `{"error":"invalid event"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	explicitOrg := r.URL.Query().Get("org_id")
	disposition := ""

	switch evt.Data.EventType {
	case EventCallInitiated:
		disposition = string(DispositionInitiated)
		err = h.handleInitiated(ctx, explicitOrg, evt)
	case EventCallRinging:
		disposition = string(DispositionRinging)
		err = h.store.MarkRinging(ctx, evt.Data.Payload.CallID)
	case EventCallAnswered:
		disposition = string(DispositionAnswered)
		err = h.handleAnswered(ctx, evt)
	case EventCallEnded:
		var d Disposition
		d, err = h.handleEnded(ctx, evt)
		disposition = string(d)
	default:
		h.logger.Info("voice webhook: unhandled event type", "type", evt.Data.EventType)
	}

	if err != nil {
		h.logger.Error("voice webhook: processing failed",
			"error", err, "type", evt.Data.EventType, "call_id", evt.Data.Payload.CallID)
		h.metrics.ObserveCallEvent(evt.Data.EventType, "error")
		writeCallAck(w, err.Error())
		return
	}

	h.metrics.ObserveCallEvent(evt.Data.EventType, disposition)
	writeCallAck(w, "")
}

func (h *WebhookHandler) handleInitiated(ctx context.Context, explicitOrg string, evt voiceEvent) error {
	p := evt.Data.Payload
	from := messaging.FormatPhoneNumber(p.From)
	to := messaging.FormatPhoneNumber(p.To)

	orgID, err := h.orgs.Resolve(ctx, explicitOrg, from, to)
	if err != nil {
		return err
	}

	// Agent and contact matching is best effort; an unmatched call still
	// gets recorded.
	agentNumber := from
	contactNumber := to
	if p.Direction == "inbound" {
		agentNumber, contactNumber = to, from
	}
	agentID, err := h.store.MatchAgent(ctx, orgID, agentNumber)
	if err != nil {
		h.logger.Warn("voice webhook: agent match failed", "error", err)
	}
	contactID, err := h.store.MatchContact(ctx, orgID, contactNumber)
	if err != nil {
		h.logger.Warn("voice webhook: contact match failed", "error", err)
	}

	startedAt := evt.Data.OccurredAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	attemptID, err := h.store.InsertAttempt(ctx, Attempt{
		OrganizationID: orgID,
		AgentID:        agentID,
		ContactID:      contactID,
		ProviderCallID: p.CallID,
		Direction:      p.Direction,
		FromNumber:     from,
		ToNumber:       to,
		StartedAt:      startedAt,
	})
	if err != nil {
		return err
	}

	if h.usage != nil {
		if err := h.usage.RecordEstimate(ctx, orgID, attemptID, h.estimatedMinutes); err != nil {
			h.logger.Error("voice webhook: usage estimate failed", "error", err, "attempt_id", attemptID)
		}
	}
	return nil
}

func (h *WebhookHandler) handleAnswered(ctx context.Context, evt voiceEvent) error {
	return h.store.MarkAnswered(ctx, evt.Data.Payload.CallID)
}

func (h *WebhookHandler) handleEnded(ctx context.Context, evt voiceEvent) (Disposition, error) {
	p := evt.Data.Payload
	disposition := MapCallStatus(p.Status)

	endedAt := evt.Data.OccurredAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	attempt, err := h.store.CompleteAttempt(ctx, p.CallID, disposition, endedAt, p.DurationSeconds, p.RecordingURL)
	if err != nil {
		return disposition, err
	}

	if h.usage != nil {
		if err := h.usage.Reconcile(ctx, attempt.OrganizationID, attempt.ID, p.DurationSeconds); err != nil {
			return disposition, err
		}
	}
	return disposition, nil
}

func writeCallAck(w http.ResponseWriter, errText string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if errText != "" {
		json.NewEncoder(w).Encode(map[string]any{"received": true, "error": errText})
		return
	}
	w.Write([]byte(`{"received":true}`))
}

// validBodySignature compares an HMAC-SHA256 hex digest of the raw body in
// constant time.
func validBodySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
