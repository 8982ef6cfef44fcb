package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/internal/notify"
)

// ErrOrgNotFound is returned when no organization matches a processor
// customer reference.
var ErrOrgNotFound = errors.New("billing: organization not found")

// Store reads and writes the subscription fields on organizations. It runs
// on database/sql rather than the pgx pool because billing shares its
// connection with the checkout handlers.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Organization carries the billing-relevant subset of an organization row.
type Organization struct {
	ID                    uuid.UUID
	Name                  string
	SubscriptionStatus    SubscriptionStatus
	StripeCustomerID      string
	StripeSubscriptionID  string
	PaymentFailedAt       *time.Time
	SuspensionScheduledAt *time.Time
}

const orgColumns = `id, name, subscription_status, COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), payment_failed_at, suspension_scheduled_at`

// GetByID fetches an organization's billing fields by primary key.
func (s *Store) GetByID(ctx context.Context, orgID uuid.UUID) (Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	return s.scanOrg(s.db.QueryRowContext(ctx, query, orgID))
}

// GetByCustomerID fetches an organization by its stored processor customer
// mapping. This is the fallback when the processor object carries no org
// metadata.
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE stripe_customer_id = $1`
	return s.scanOrg(s.db.QueryRowContext(ctx, query, customerID))
}

func (s *Store) scanOrg(row *sql.Row) (Organization, error) {
	var org Organization
	err := row.Scan(&org.ID, &org.Name, &org.SubscriptionStatus, &org.StripeCustomerID,
		&org.StripeSubscriptionID, &org.PaymentFailedAt, &org.SuspensionScheduledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrOrgNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("billing: scan organization: %w", err)
	}
	return org, nil
}

// LinkSubscription records the processor customer and subscription ids after
// checkout completes and activates the account.
func (s *Store) LinkSubscription(ctx context.Context, orgID uuid.UUID, customerID, subscriptionID string) error {
	query := `
		UPDATE organizations
		SET stripe_customer_id = $2,
			stripe_subscription_id = $3,
			subscription_status = 'active',
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, customerID, subscriptionID); err != nil {
		return fmt.Errorf("billing: link subscription: %w", err)
	}
	return nil
}

// SetSubscriptionStatus writes the internal status for an organization.
func (s *Store) SetSubscriptionStatus(ctx context.Context, orgID uuid.UUID, status SubscriptionStatus) error {
	query := `
		UPDATE organizations
		SET subscription_status = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, string(status)); err != nil {
		return fmt.Errorf("billing: set subscription status: %w", err)
	}
	return nil
}

// MarkPaymentFailed stamps the first payment failure and schedules the
// suspension deadline. Callers must check the current status first; this
// write is unconditional.
func (s *Store) MarkPaymentFailed(ctx context.Context, orgID uuid.UUID, failedAt, suspendAt time.Time) error {
	query := `
		UPDATE organizations
		SET subscription_status = 'past_due',
			payment_failed_at = $2,
			suspension_scheduled_at = $3,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, failedAt, suspendAt); err != nil {
		return fmt.Errorf("billing: mark payment failed: %w", err)
	}
	return nil
}

// ClearPaymentFailure reverts the organization to active and clears the
// failure and suspension timestamps.
func (s *Store) ClearPaymentFailure(ctx context.Context, orgID uuid.UUID) error {
	query := `
		UPDATE organizations
		SET subscription_status = 'active',
			payment_failed_at = NULL,
			suspension_scheduled_at = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, orgID); err != nil {
		return fmt.Errorf("billing: clear payment failure: %w", err)
	}
	return nil
}

// AdminRecipients returns the admin and owner members of an organization for
// billing notifications.
func (s *Store) AdminRecipients(ctx context.Context, orgID uuid.UUID) ([]notify.Recipient, error) {
	query := `
		SELECT email, COALESCE(full_name, '')
		FROM organization_members
		WHERE organization_id = $1 AND role IN ('admin', 'owner')
		ORDER BY email
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("billing: query members: %w", err)
	}
	defer rows.Close()

	var recipients []notify.Recipient
	for rows.Next() {
		var r notify.Recipient
		if err := rows.Scan(&r.Email, &r.Name); err != nil {
			return nil, fmt.Errorf("billing: scan member: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing: iterate members: %w", err)
	}
	return recipients, nil
}

// RecordMeteredUsage logs the summed metered line items of a finalized
// invoice as an audit row. This is bookkeeping, not reconciliation against
// the meter.
func (s *Store) RecordMeteredUsage(ctx context.Context, orgID uuid.UUID, invoiceID string, quantity int64, amountCents int64) error {
	query := `
		INSERT INTO usage_events (organization_id, event_type, reference_id, quantity, total_cost_cents, is_estimated, created_at)
		VALUES ($1, 'metered_invoice', $2, $3, $4, FALSE, NOW())
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, invoiceID, quantity, amountCents); err != nil {
		return fmt.Errorf("billing: record metered usage: %w", err)
	}
	return nil
}
