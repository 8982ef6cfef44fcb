package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Systemsaholic/call-helm-sub003/internal/messaging"
)

// ErrOrgNotFound is returned when no organization can be resolved for an
// inbound message.
var ErrOrgNotFound = errors.New("conversation: org not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Conversation is a thread keyed by (organization, counterparty number).
type Conversation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PhoneNumber    string
	IsOptedOut     bool
	UnreadCount    int
	LastMessageAt  *time.Time
}

// GetOrCreate finds the conversation for (orgID, phone) or creates it with
// unread_count = 1. The created flag tells the caller whether the unread
// counter still needs incrementing.
func (s *Store) GetOrCreate(ctx context.Context, q Querier, orgID uuid.UUID, phone string) (Conversation, bool, error) {
	if q == nil {
		q = s.pool
	}
	conv := Conversation{OrganizationID: orgID, PhoneNumber: phone}
	query := `
		SELECT id, is_opted_out, unread_count, last_message_at
		FROM conversations
		WHERE organization_id = $1 AND phone_number = $2
	`
	err := q.QueryRow(ctx, query, orgID, phone).Scan(&conv.ID, &conv.IsOptedOut, &conv.UnreadCount, &conv.LastMessageAt)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, fmt.Errorf("conversation: lookup: %w", err)
	}
	conv.ID = uuid.New()
	conv.UnreadCount = 1
	insert := `
		INSERT INTO conversations (id, organization_id, phone_number, is_opted_out, unread_count, last_message_at)
		VALUES ($1, $2, $3, false, 1, now())
	`
	if _, err := q.Exec(ctx, insert, conv.ID, orgID, phone); err != nil {
		return Conversation{}, false, fmt.Errorf("conversation: create: %w", err)
	}
	return conv, true, nil
}

// TouchInbound bumps unread_count and last_message_at for an existing thread.
func (s *Store) TouchInbound(ctx context.Context, q Querier, conversationID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET unread_count = unread_count + 1,
			last_message_at = now(),
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("conversation: touch inbound: %w", err)
	}
	return nil
}

// SetOptedOut flips the consent flag on a conversation.
func (s *Store) SetOptedOut(ctx context.Context, q Querier, conversationID uuid.UUID, optedOut bool) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET is_opted_out = $2,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, conversationID, optedOut); err != nil {
		return fmt.Errorf("conversation: set opted out: %w", err)
	}
	return nil
}

// MessageRecord is one stored message row.
type MessageRecord struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	ConversationID    uuid.UUID
	Direction         string
	Body              string
	Media             []string
	Status            messaging.Status
	ProviderMessageID string
	ErrorText         string
	SentAt            *time.Time
	DeliveredAt       *time.Time
}

// InsertMessage stores a message row and returns its id.
func (s *Store) InsertMessage(ctx context.Context, q Querier, rec MessageRecord) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if rec.Media == nil {
		rec.Media = []string{}
	}
	media, err := json.Marshal(rec.Media)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: marshal media: %w", err)
	}
	query := `
		INSERT INTO messages (
			organization_id, conversation_id, direction, body, media,
			status, provider_message_id, error_text, sent_at, delivered_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10)
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, rec.OrganizationID, rec.ConversationID, rec.Direction, rec.Body, media,
		string(rec.Status), rec.ProviderMessageID, rec.ErrorText, rec.SentAt, rec.DeliveredAt).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("conversation: insert message: %w", err)
	}
	return id, nil
}

// UpdateMessageStatus updates a stored message by provider message id. The
// write is unconditional; out-of-order carrier callbacks overwrite forward
// progress (see delivery reconciler).
func (s *Store) UpdateMessageStatus(ctx context.Context, providerMessageID string, status messaging.Status, errorText string, sentAt, deliveredAt *time.Time) error {
	query := `
		UPDATE messages
		SET status = $2,
			error_text = COALESCE(NULLIF($3, ''), error_text),
			sent_at = COALESCE($4, sent_at),
			delivered_at = COALESCE($5, delivered_at),
			updated_at = now()
		WHERE provider_message_id = $1
	`
	if _, err := s.pool.Exec(ctx, query, providerMessageID, string(status), errorText, sentAt, deliveredAt); err != nil {
		return fmt.Errorf("conversation: update message status: %w", err)
	}
	return nil
}

// VerifyOrgNumber confirms orgID owns an active phone-number record for the
// destination number.
func (s *Store) VerifyOrgNumber(ctx context.Context, orgID uuid.UUID, number string) (bool, error) {
	query := `
		SELECT 1 FROM phone_numbers
		WHERE organization_id = $1 AND e164_number = $2 AND status = 'active'
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, orgID, number).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("conversation: verify org number: %w", err)
	}
	return true, nil
}

// OrgByRecentConversation returns the organization of the most recent prior
// conversation with the sender, keeping broadcast replies attached to the
// tenant that sent the broadcast.
func (s *Store) OrgByRecentConversation(ctx context.Context, from string) (uuid.UUID, error) {
	query := `
		SELECT organization_id FROM conversations
		WHERE phone_number = $1
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT 1
	`
	var orgID uuid.UUID
	if err := s.pool.QueryRow(ctx, query, from).Scan(&orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrOrgNotFound
		}
		return uuid.Nil, fmt.Errorf("conversation: org by recent conversation: %w", err)
	}
	return orgID, nil
}

// OrgByNumber returns the first active phone-number record matching the
// destination number. Multiple tenants sharing a number have no tie-break;
// ordering by created_at makes the pick deterministic.
func (s *Store) OrgByNumber(ctx context.Context, number string) (uuid.UUID, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return uuid.Nil, ErrOrgNotFound
	}
	query := `
		SELECT organization_id FROM phone_numbers
		WHERE e164_number = $1 AND status = 'active'
		ORDER BY created_at ASC
		LIMIT 1
	`
	var orgID uuid.UUID
	if err := s.pool.QueryRow(ctx, query, number).Scan(&orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrOrgNotFound
		}
		return uuid.Nil, fmt.Errorf("conversation: org by number: %w", err)
	}
	return orgID, nil
}
