package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/messaging"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

type messageStore interface {
	UpdateMessageStatus(ctx context.Context, providerMessageID string, status messaging.Status, errorText string, sentAt, deliveredAt *time.Time) error
}

type recipientStore interface {
	FindRecipientForDelivery(ctx context.Context, phone string) (Recipient, error)
	UpdateRecipientStatus(ctx context.Context, recipientID uuid.UUID, status string) error
	IncrementCounters(ctx context.Context, broadcastID uuid.UUID, status string) error
	RecountCounters(ctx context.Context, broadcastID uuid.UUID) error
}

// Reconciler applies provider delivery callbacks to the message row and, when
// the message belongs to a broadcast, to the recipient mirror and the parent
// campaign's counters.
type Reconciler struct {
	messages   messageStore
	recipients recipientStore
	logger     *logging.Logger
}

func NewReconciler(messages messageStore, recipients recipientStore, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{messages: messages, recipients: recipients, logger: logger}
}

// Reconcile updates the message identified by the callback's provider message
// ID, then mirrors terminal outcomes onto the matching broadcast recipient.
// A callback for a message that was never part of a broadcast is still a
// success; only the message row changes.
func (r *Reconciler) Reconcile(ctx context.Context, evt messaging.CanonicalEvent) error {
	if evt.ProviderMessageID == "" {
		return errors.New("broadcast: delivery event missing provider message id")
	}

	status := messaging.MapProviderStatus(evt.Provider, evt.ProviderStatus)

	now := time.Now().UTC()
	var sentAt, deliveredAt *time.Time
	switch status {
	case messaging.StatusSent:
		sentAt = &now
	case messaging.StatusDelivered:
		deliveredAt = &now
	}

	if err := r.messages.UpdateMessageStatus(ctx, evt.ProviderMessageID, status, evt.ErrorText, sentAt, deliveredAt); err != nil {
		return err
	}

	recipientStatus, ok := recipientStatusFor(status)
	if !ok {
		return nil
	}

	rec, err := r.recipients.FindRecipientForDelivery(ctx, evt.To)
	if err != nil {
		if errors.Is(err, ErrNoRecipient) {
			return nil
		}
		return err
	}

	if err := r.recipients.UpdateRecipientStatus(ctx, rec.ID, recipientStatus); err != nil {
		return err
	}

	// The stored procedure keeps counters consistent under concurrency.
	// Older schemas don't have it, so fall back to a full recount.
	if err := r.recipients.IncrementCounters(ctx, rec.BroadcastID, recipientStatus); err != nil {
		r.logger.Debug("broadcast counter procedure unavailable, recounting",
			"broadcast_id", rec.BroadcastID, "error", err)
		if err := r.recipients.RecountCounters(ctx, rec.BroadcastID); err != nil {
			return err
		}
	}
	return nil
}

// RecordReply marks the broadcast recipient behind an inbound reply as
// 'replied', using the same best-effort phone lookup as delivery callbacks.
// An inbound message from a number with no outstanding recipient is not an
// error; most inbound traffic is not a broadcast reply.
func (r *Reconciler) RecordReply(ctx context.Context, phone string) error {
	rec, err := r.recipients.FindRecipientForDelivery(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNoRecipient) {
			return nil
		}
		return err
	}
	return r.recipients.UpdateRecipientStatus(ctx, rec.ID, "replied")
}

// recipientStatusFor maps a terminal message status onto the recipient
// status vocabulary. Non-terminal statuses leave the recipient untouched.
func recipientStatusFor(status messaging.Status) (string, bool) {
	switch status {
	case messaging.StatusDelivered:
		return "delivered", true
	case messaging.StatusFailed, messaging.StatusUndelivered:
		return "failed", true
	default:
		return "", false
	}
}
