package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// Recipient is an organization member who receives billing notifications.
type Recipient struct {
	Email string
	Name  string
}

// Service sends account lifecycle emails to organization admins and owners.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// NotifyPaymentFailed emails every recipient that a subscription payment
// failed and when the account will be suspended unless payment succeeds.
func (s *Service) NotifyPaymentFailed(ctx context.Context, orgName string, recipients []Recipient, suspensionAt time.Time) error {
	if s.email == nil || len(recipients) == 0 {
		s.logger.Debug("notify: no email sender or recipients, skipping payment failure notice", "org", orgName)
		return nil
	}

	deadline := suspensionAt.Format("Monday, January 2, 2006")
	subject := fmt.Sprintf("Payment failed for %s", orgName)
	body := fmt.Sprintf(`We were unable to process the latest subscription payment for %s.

Please update your payment method before %s to avoid interruption. If no successful payment is received by then, the account will be suspended and outbound calling and messaging will be paused.

If you have already updated your payment details, no further action is needed.

- Call Helm Billing`, orgName, deadline)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #ef4444;">Payment failed</h2>
<p>We were unable to process the latest subscription payment for <strong>%s</strong>.</p>
<p>Please update your payment method before <strong>%s</strong> to avoid interruption. If no successful payment is received by then, the account will be suspended and outbound calling and messaging will be paused.</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">- Call Helm Billing</p>
</div>`, orgName, deadline)

	return s.sendAll(ctx, recipients, subject, body, html)
}

// NotifyReactivated emails every recipient that a previously suspended
// account is active again.
func (s *Service) NotifyReactivated(ctx context.Context, orgName string, recipients []Recipient) error {
	if s.email == nil || len(recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("%s has been reactivated", orgName)
	body := fmt.Sprintf(`Good news: payment for %s went through and the account is active again.

Outbound calling and messaging have been restored. No further action is needed.

- Call Helm Billing`, orgName)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #10b981;">Account reactivated</h2>
<p>Payment for <strong>%s</strong> went through and the account is active again.</p>
<p>Outbound calling and messaging have been restored. No further action is needed.</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">- Call Helm Billing</p>
</div>`, orgName)

	return s.sendAll(ctx, recipients, subject, body, html)
}

func (s *Service) sendAll(ctx context.Context, recipients []Recipient, subject, body, html string) error {
	var failed int
	for _, r := range recipients {
		msg := EmailMessage{
			To:      r.Email,
			ToName:  r.Name,
			Subject: subject,
			Body:    body,
			HTML:    html,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: email send failed", "error", err, "to", r.Email)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d of %d notification(s) failed", failed, len(recipients))
	}
	return nil
}
