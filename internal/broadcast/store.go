package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRecipient is returned when no broadcast recipient matches a delivery
// callback.
var ErrNoRecipient = errors.New("broadcast: no matching recipient")

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists broadcast campaigns and their per-recipient status mirrors.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Recipient links a message to a broadcast campaign.
type Recipient struct {
	ID          uuid.UUID
	BroadcastID uuid.UUID
	PhoneNumber string
	Status      string
	SentAt      *time.Time
}

// FindRecipientForDelivery locates the recipient a delivery callback belongs
// to. There is no foreign key from messages to recipients; the match is
// best-effort on phone number, current status 'sent', most recently sent.
func (s *Store) FindRecipientForDelivery(ctx context.Context, phone string) (Recipient, error) {
	query := `
		SELECT id, broadcast_id, phone_number, status, sent_at
		FROM broadcast_recipients
		WHERE phone_number = $1 AND status = 'sent'
		ORDER BY sent_at DESC NULLS LAST
		LIMIT 1
	`
	var rec Recipient
	if err := s.pool.QueryRow(ctx, query, phone).Scan(&rec.ID, &rec.BroadcastID, &rec.PhoneNumber, &rec.Status, &rec.SentAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrNoRecipient
		}
		return Recipient{}, fmt.Errorf("broadcast: find recipient: %w", err)
	}
	return rec, nil
}

// UpdateRecipientStatus sets the recipient's status mirror.
func (s *Store) UpdateRecipientStatus(ctx context.Context, recipientID uuid.UUID, status string) error {
	query := `
		UPDATE broadcast_recipients
		SET status = $2,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, recipientID, status); err != nil {
		return fmt.Errorf("broadcast: update recipient status: %w", err)
	}
	return nil
}

// IncrementCounters bumps the parent broadcast's aggregate counter via the
// increment_broadcast_counters stored procedure. Environments without the
// procedure get ErrProcedureMissing so callers can fall back to a recount.
func (s *Store) IncrementCounters(ctx context.Context, broadcastID uuid.UUID, status string) error {
	if _, err := s.pool.Exec(ctx, `SELECT increment_broadcast_counters($1, $2)`, broadcastID, status); err != nil {
		return fmt.Errorf("broadcast: increment counters: %w", err)
	}
	return nil
}

// RecountCounters recomputes the parent broadcast's aggregates by counting
// all recipients. The read-then-write is not transactional; concurrent
// callbacks for the same broadcast can race.
func (s *Store) RecountCounters(ctx context.Context, broadcastID uuid.UUID) error {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'replied')),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM broadcast_recipients
		WHERE broadcast_id = $1
	`
	var sent, delivered, failed int
	if err := s.pool.QueryRow(ctx, query, broadcastID).Scan(&sent, &delivered, &failed); err != nil {
		return fmt.Errorf("broadcast: recount recipients: %w", err)
	}
	update := `
		UPDATE broadcasts
		SET sent_count = $2,
			delivered_count = $3,
			failed_count = $4,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, update, broadcastID, sent, delivered, failed); err != nil {
		return fmt.Errorf("broadcast: update counters: %w", err)
	}
	return nil
}
