package calls

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCallStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     Disposition
	}{
		{"completed", DispositionAnswered},
		{"answered", DispositionAnswered},
		{"busy", DispositionBusy},
		{"no-answer", DispositionNoAnswer},
		{"no_answer", DispositionNoAnswer},
		{"failed", DispositionFailed},
		{"canceled", DispositionFailed},
		{"something_else", DispositionFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapCallStatus(tt.provider), tt.provider)
	}
}

func TestInsertAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	orgID := uuid.New()
	attemptID := uuid.New()
	agentID := uuid.New()
	startedAt := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO call_attempts`).
		WithArgs(orgID, &agentID, (*uuid.UUID)(nil), "call_1", "outbound", "+15551230001", "+15551230002", startedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(attemptID))

	id, err := store.InsertAttempt(context.Background(), Attempt{
		OrganizationID: orgID,
		AgentID:        &agentID,
		ProviderCallID: "call_1",
		Direction:      "outbound",
		FromNumber:     "+15551230001",
		ToNumber:       "+15551230002",
		StartedAt:      startedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, attemptID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRinging(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectExec(`UPDATE call_attempts`).
		WithArgs("call_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRinging(context.Background(), "call_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAnsweredNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectExec(`UPDATE call_attempts`).
		WithArgs("call_missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkAnswered(context.Background(), "call_missing")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestCompleteAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	attemptID := uuid.New()
	orgID := uuid.New()
	endedAt := time.Now().UTC()

	mock.ExpectQuery(`UPDATE call_attempts`).
		WithArgs("call_1", "answered", endedAt, 125, "https://cdn.example/rec.mp3").
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id"}).AddRow(attemptID, orgID))

	attempt, err := store.CompleteAttempt(context.Background(), "call_1", DispositionAnswered, endedAt, 125, "https://cdn.example/rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, attemptID, attempt.ID)
	assert.Equal(t, orgID, attempt.OrganizationID)
	assert.Equal(t, 125, attempt.DurationSeconds)
}

func TestMatchAgentNoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	orgID := uuid.New()

	mock.ExpectQuery(`SELECT id FROM agents`).
		WithArgs(orgID, "+15550001111").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	id, err := store.MatchAgent(context.Background(), orgID, "+15550001111")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestCleanupStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectExec(`UPDATE call_attempts`).
		WithArgs("3m0s").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectExec(`UPDATE call_attempts`).
		WithArgs("2m0s").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	failed, missed, err := store.CleanupStale(context.Background(), 3*time.Minute, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), failed)
	assert.Equal(t, int64(2), missed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
