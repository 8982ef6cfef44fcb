package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/notify"
	"github.com/Systemsaholic/call-helm-sub003/internal/observability/metrics"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

const maxWebhookBody = 64 * 1024

// signatureTolerance bounds how old a signed webhook may be before it is
// rejected as a replay.
const signatureTolerance = 5 * time.Minute

type subscriptionStore interface {
	GetByID(ctx context.Context, orgID uuid.UUID) (Organization, error)
	GetByCustomerID(ctx context.Context, customerID string) (Organization, error)
	LinkSubscription(ctx context.Context, orgID uuid.UUID, customerID, subscriptionID string) error
	SetSubscriptionStatus(ctx context.Context, orgID uuid.UUID, status SubscriptionStatus) error
	MarkPaymentFailed(ctx context.Context, orgID uuid.UUID, failedAt, suspendAt time.Time) error
	ClearPaymentFailure(ctx context.Context, orgID uuid.UUID) error
	AdminRecipients(ctx context.Context, orgID uuid.UUID) ([]notify.Recipient, error)
	RecordMeteredUsage(ctx context.Context, orgID uuid.UUID, invoiceID string, quantity, amountCents int64) error
}

type notifier interface {
	NotifyPaymentFailed(ctx context.Context, orgName string, recipients []notify.Recipient, suspensionAt time.Time) error
	NotifyReactivated(ctx context.Context, orgName string, recipients []notify.Recipient) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// WebhookConfig holds dependencies for the billing webhook handler.
type WebhookConfig struct {
	WebhookSecret string
	GraceDays     int
	Store         subscriptionStore
	Notifier      notifier
	Processed     processedTracker
	Metrics       *metrics.WebhookMetrics
	Logger        *logging.Logger
	Now           func() time.Time
}

// WebhookHandler applies processor subscription and invoice events to the
// organization's billing state.
type WebhookHandler struct {
	secret    string
	graceDays int
	store     subscriptionStore
	notifier  notifier
	processed processedTracker
	metrics   *metrics.WebhookMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a billing webhook handler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.GraceDays <= 0 {
		cfg.GraceDays = 7
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WebhookHandler{
		secret:    cfg.WebhookSecret,
		graceDays: cfg.GraceDays,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		processed: cfg.Processed,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// processorEvent is the webhook envelope.
type processorEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// billingObject covers the fields shared by checkout sessions, subscriptions
// and invoices that this handler touches.
type billingObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
	Lines        struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type invoiceLine struct {
	Quantity int64 `json:"quantity"`
	Amount   int64 `json:"amount"`
	Price    struct {
		Recurring struct {
			UsageType string `json:"usage_type"`
		} `json:"recurring"`
	} `json:"price"`
}

// Handle processes a processor webhook. Signature failures and malformed
// payloads get 4xx; internal failures are acknowledged with 200 so the
// processor does not retry-storm, and the error rides in the body.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, `{"error":"read error"}`, http.StatusBadRequest)
		return
	}

	if h.secret != "" {
		if !verifySignature(h.secret, body, r.Header.Get("Stripe-Signature"), h.now()) {
			h.observe("unknown", "bad_signature")
			http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
			return
		}
	}

	var evt processorEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.ID == "" || evt.Type == "" {
		http.Error(w, `{"error":"invalid event"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.processed != nil {
		done, err := h.processed.AlreadyProcessed(ctx, "stripe", evt.ID)
		if err != nil {
			h.logger.Error("billing: processed lookup failed", "error", err, "event_id", evt.ID)
		} else if done {
			h.observe(evt.Type, "duplicate")
			writeAck(w, "")
			return
		}
	}

	var obj billingObject
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		http.Error(w, `{"error":"invalid event object"}`, http.StatusBadRequest)
		return
	}

	if err := h.apply(ctx, evt.Type, obj); err != nil {
		h.logger.Error("billing: event processing failed", "error", err, "event_id", evt.ID, "type", evt.Type)
		h.observe(evt.Type, "error")
		writeAck(w, err.Error())
		return
	}

	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, "stripe", evt.ID); err != nil {
			h.logger.Error("billing: mark processed failed", "error", err, "event_id", evt.ID)
		}
	}

	h.observe(evt.Type, "ok")
	writeAck(w, "")
}

func (h *WebhookHandler) apply(ctx context.Context, eventType string, obj billingObject) error {
	switch eventType {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, obj)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionChanged(ctx, obj)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, obj)
	case "invoice.payment_failed":
		return h.handlePaymentFailed(ctx, obj)
	case "invoice.payment_succeeded":
		return h.handlePaymentSucceeded(ctx, obj)
	case "invoice.finalized":
		return h.handleInvoiceFinalized(ctx, obj)
	default:
		h.logger.Info("billing: unhandled event type", "type", eventType)
		return nil
	}
}

// resolveOrg prefers the org_id metadata on the processor object and falls
// back to the stored customer mapping.
func (h *WebhookHandler) resolveOrg(ctx context.Context, obj billingObject) (Organization, error) {
	if raw := obj.Metadata["org_id"]; raw != "" {
		orgID, err := uuid.Parse(raw)
		if err == nil {
			return h.store.GetByID(ctx, orgID)
		}
		h.logger.Warn("billing: bad org_id metadata", "value", raw, "error", err)
	}
	if obj.Customer == "" {
		return Organization{}, ErrOrgNotFound
	}
	return h.store.GetByCustomerID(ctx, obj.Customer)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		return err
	}
	h.logger.Info("billing: checkout completed",
		"org_id", org.ID, "customer", obj.Customer, "subscription", obj.Subscription)
	return h.store.LinkSubscription(ctx, org.ID, obj.Customer, obj.Subscription)
}

func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		return err
	}
	status := MapSubscriptionStatus(obj.Status)
	h.logger.Info("billing: subscription changed", "org_id", org.ID, "status", status)
	return h.store.SetSubscriptionStatus(ctx, org.ID, status)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		return err
	}
	h.logger.Info("billing: subscription canceled", "org_id", org.ID, "subscription", obj.ID)
	return h.store.SetSubscriptionStatus(ctx, org.ID, StatusCanceled)
}

// handlePaymentFailed starts the grace period on the first failure only.
// Later consecutive failures leave the existing suspension deadline alone so
// the account is not kept past_due indefinitely by a broken card.
func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		return err
	}

	if org.SubscriptionStatus == StatusPastDue {
		h.logger.Info("billing: repeat payment failure, grace period unchanged",
			"org_id", org.ID, "suspension_at", org.SuspensionScheduledAt)
		return nil
	}

	failedAt := h.now().UTC()
	suspendAt := failedAt.AddDate(0, 0, h.graceDays)
	if err := h.store.MarkPaymentFailed(ctx, org.ID, failedAt, suspendAt); err != nil {
		return err
	}
	h.logger.Warn("billing: payment failed, grace period started",
		"org_id", org.ID, "suspension_at", suspendAt)

	if h.notifier != nil {
		recipients, err := h.store.AdminRecipients(ctx, org.ID)
		if err != nil {
			h.logger.Error("billing: recipient lookup failed", "error", err, "org_id", org.ID)
			return nil
		}
		if err := h.notifier.NotifyPaymentFailed(ctx, org.Name, recipients, suspendAt); err != nil {
			h.logger.Error("billing: payment failure notification failed", "error", err, "org_id", org.ID)
		}
	}
	return nil
}

// handlePaymentSucceeded reverts a delinquent account to active. The
// reactivation email goes out only when the account had already been
// suspended; recovering within the grace period is silent.
func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		return err
	}

	if org.SubscriptionStatus != StatusPastDue && org.SubscriptionStatus != StatusSuspended {
		return nil
	}

	wasSuspended := org.SubscriptionStatus == StatusSuspended
	if err := h.store.ClearPaymentFailure(ctx, org.ID); err != nil {
		return err
	}
	h.logger.Info("billing: payment recovered", "org_id", org.ID, "was_suspended", wasSuspended)

	if wasSuspended && h.notifier != nil {
		recipients, err := h.store.AdminRecipients(ctx, org.ID)
		if err != nil {
			h.logger.Error("billing: recipient lookup failed", "error", err, "org_id", org.ID)
			return nil
		}
		if err := h.notifier.NotifyReactivated(ctx, org.Name, recipients); err != nil {
			h.logger.Error("billing: reactivation notification failed", "error", err, "org_id", org.ID)
		}
	}
	return nil
}

func (h *WebhookHandler) handleInvoiceFinalized(ctx context.Context, obj billingObject) error {
	org, err := h.resolveOrg(ctx, obj)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			h.logger.Warn("billing: finalized invoice for unknown customer", "customer", obj.Customer)
			return nil
		}
		return err
	}

	var quantity, amountCents int64
	for _, line := range obj.Lines.Data {
		if line.Price.Recurring.UsageType != "metered" {
			continue
		}
		quantity += line.Quantity
		amountCents += line.Amount
	}
	if quantity == 0 && amountCents == 0 {
		return nil
	}

	h.logger.Info("billing: metered usage invoiced",
		"org_id", org.ID, "invoice_id", obj.ID, "quantity", quantity, "amount_cents", amountCents)
	return h.store.RecordMeteredUsage(ctx, org.ID, obj.ID, quantity, amountCents)
}

func (h *WebhookHandler) observe(eventType, outcome string) {
	h.metrics.ObserveBilling(eventType, outcome)
}

func writeAck(w http.ResponseWriter, errText string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if errText != "" {
		json.NewEncoder(w).Encode(map[string]any{"received": true, "error": errText})
		return
	}
	w.Write([]byte(`{"received":true}`))
}

// verifySignature checks the Stripe-Signature header: t=<unix>,v1=<hex hmac>
// where the signed payload is "<t>.<body>" under HMAC-SHA256.
func verifySignature(secret string, payload []byte, header string, now time.Time) bool {
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(signatureTolerance.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
