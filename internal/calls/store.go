package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAttemptNotFound is returned when no call attempt matches a provider
// call id.
var ErrAttemptNotFound = errors.New("calls: attempt not found")

// Disposition classifies the outcome of a single call attempt.
type Disposition string

const (
	DispositionInitiated Disposition = "initiated"
	DispositionRinging   Disposition = "ringing"
	DispositionAnswered  Disposition = "answered"
	DispositionBusy      Disposition = "busy"
	DispositionNoAnswer  Disposition = "no_answer"
	DispositionFailed    Disposition = "failed"
	DispositionMissed    Disposition = "missed"
)

// MapCallStatus translates the carrier's terminal call-status vocabulary
// into a disposition. Unrecognized statuses count as failed.
func MapCallStatus(providerStatus string) Disposition {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "completed", "answered":
		return DispositionAnswered
	case "busy":
		return DispositionBusy
	case "no-answer", "no_answer":
		return DispositionNoAnswer
	default:
		return DispositionFailed
	}
}

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists call attempts.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Attempt is one row per inbound or outbound call.
type Attempt struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	AgentID         *uuid.UUID
	ContactID       *uuid.UUID
	ProviderCallID  string
	Direction       string
	FromNumber      string
	ToNumber        string
	Disposition     Disposition
	DurationSeconds int
	RecordingURL    string
	StartedAt       time.Time
	EndedAt         *time.Time
}

// MatchAgent finds an agent by phone number or extension. The match is best
// effort; no rows is not an error.
func (s *Store) MatchAgent(ctx context.Context, orgID uuid.UUID, number string) (*uuid.UUID, error) {
	query := `
		SELECT id FROM agents
		WHERE organization_id = $1 AND (phone_number = $2 OR extension = $2)
		LIMIT 1
	`
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query, orgID, number).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("calls: match agent: %w", err)
	}
	return &id, nil
}

// MatchContact finds a contact by phone number. Best effort as well.
func (s *Store) MatchContact(ctx context.Context, orgID uuid.UUID, number string) (*uuid.UUID, error) {
	query := `
		SELECT id FROM contacts
		WHERE organization_id = $1 AND phone_number = $2
		LIMIT 1
	`
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query, orgID, number).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("calls: match contact: %w", err)
	}
	return &id, nil
}

// InsertAttempt records a new call with disposition initiated.
func (s *Store) InsertAttempt(ctx context.Context, a Attempt) (uuid.UUID, error) {
	query := `
		INSERT INTO call_attempts (organization_id, agent_id, contact_id, provider_call_id, direction, from_number, to_number, disposition, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'initiated', $8, now(), now())
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		a.OrganizationID, a.AgentID, a.ContactID, a.ProviderCallID,
		a.Direction, a.FromNumber, a.ToNumber, a.StartedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("calls: insert attempt: %w", err)
	}
	return id, nil
}

// MarkRinging advances an attempt from initiated to ringing. Late ringing
// callbacks after the call was answered or ended are ignored.
func (s *Store) MarkRinging(ctx context.Context, providerCallID string) error {
	query := `
		UPDATE call_attempts
		SET disposition = 'ringing', updated_at = now()
		WHERE provider_call_id = $1 AND disposition = 'initiated'
	`
	if _, err := s.pool.Exec(ctx, query, providerCallID); err != nil {
		return fmt.Errorf("calls: mark ringing: %w", err)
	}
	return nil
}

// MarkAnswered flips the attempt matched by provider call id to answered.
func (s *Store) MarkAnswered(ctx context.Context, providerCallID string) error {
	query := `
		UPDATE call_attempts
		SET disposition = 'answered', answered_at = now(), updated_at = now()
		WHERE provider_call_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, providerCallID)
	if err != nil {
		return fmt.Errorf("calls: mark answered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// CompleteAttempt writes the terminal disposition, timing and recording
// fields and returns the attempt's ids for usage reconciliation.
func (s *Store) CompleteAttempt(ctx context.Context, providerCallID string, disposition Disposition, endedAt time.Time, durationSeconds int, recordingURL string) (Attempt, error) {
	query := `
		UPDATE call_attempts
		SET disposition = $2,
			ended_at = $3,
			duration_seconds = $4,
			recording_url = NULLIF($5, ''),
			updated_at = now()
		WHERE provider_call_id = $1
		RETURNING id, organization_id
	`
	var a Attempt
	err := s.pool.QueryRow(ctx, query, providerCallID, string(disposition), endedAt, durationSeconds, recordingURL).
		Scan(&a.ID, &a.OrganizationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, fmt.Errorf("calls: complete attempt: %w", err)
	}
	a.ProviderCallID = providerCallID
	a.Disposition = disposition
	a.DurationSeconds = durationSeconds
	a.RecordingURL = recordingURL
	a.EndedAt = &endedAt
	return a, nil
}

// SetTranscription stores the transcript outcome for an attempt.
func (s *Store) SetTranscription(ctx context.Context, attemptID uuid.UUID, status, transcript string) error {
	query := `
		UPDATE call_attempts
		SET transcription_status = $2,
			transcript = NULLIF($3, ''),
			updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, attemptID, status, transcript)
	if err != nil {
		return fmt.Errorf("calls: set transcription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// GetAttempt fetches a single attempt by id.
func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (Attempt, error) {
	query := `
		SELECT id, organization_id, COALESCE(provider_call_id, ''), disposition, COALESCE(duration_seconds, 0), COALESCE(recording_url, '')
		FROM call_attempts
		WHERE id = $1
	`
	var a Attempt
	err := s.pool.QueryRow(ctx, query, attemptID).
		Scan(&a.ID, &a.OrganizationID, &a.ProviderCallID, &a.Disposition, &a.DurationSeconds, &a.RecordingURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, fmt.Errorf("calls: get attempt: %w", err)
	}
	return a, nil
}

// CleanupStale bounds orphaned in-flight call rows when the terminal webhook
// never arrives. Calls stuck in initiated become failed; calls stuck in
// ringing become missed.
func (s *Store) CleanupStale(ctx context.Context, initiatedOlderThan, ringingOlderThan time.Duration) (failed, missed int64, err error) {
	failedTag, err := s.pool.Exec(ctx, `
		UPDATE call_attempts
		SET disposition = 'failed', updated_at = now()
		WHERE disposition = 'initiated' AND started_at < now() - $1::interval
	`, initiatedOlderThan.String())
	if err != nil {
		return 0, 0, fmt.Errorf("calls: cleanup initiated: %w", err)
	}

	missedTag, err := s.pool.Exec(ctx, `
		UPDATE call_attempts
		SET disposition = 'missed', updated_at = now()
		WHERE disposition = 'ringing' AND started_at < now() - $1::interval
	`, ringingOlderThan.String())
	if err != nil {
		return failedTag.RowsAffected(), 0, fmt.Errorf("calls: cleanup ringing: %w", err)
	}
	return failedTag.RowsAffected(), missedTag.RowsAffected(), nil
}
