package calls

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillableMinutes(t *testing.T) {
	tests := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{125, 3},
		{600, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BillableMinutes(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestReconcileUpdatesEstimate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := NewUsageRecorder(mock, 2, nil)
	orgID := uuid.New()
	attemptID := uuid.New()

	// 125s bills 3 minutes at 2 cents each.
	mock.ExpectExec(`UPDATE usage_events`).
		WithArgs(attemptID.String(), 3, 6).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, rec.Reconcile(context.Background(), orgID, attemptID, 125))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileInsertsWhenNoEstimate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := NewUsageRecorder(mock, 2, nil)
	orgID := uuid.New()
	attemptID := uuid.New()

	mock.ExpectExec(`UPDATE usage_events`).
		WithArgs(attemptID.String(), 1, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO usage_events`).
		WithArgs(orgID, attemptID.String(), 1, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rec.Reconcile(context.Background(), orgID, attemptID, 45))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileDeletesEstimateForUnbillableCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := NewUsageRecorder(mock, 2, nil)
	orgID := uuid.New()
	attemptID := uuid.New()

	mock.ExpectExec(`DELETE FROM usage_events`).
		WithArgs(attemptID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, rec.Reconcile(context.Background(), orgID, attemptID, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEstimate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := NewUsageRecorder(mock, 2, nil)
	orgID := uuid.New()
	attemptID := uuid.New()

	mock.ExpectExec(`INSERT INTO usage_events`).
		WithArgs(orgID, attemptID.String(), 2, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rec.RecordEstimate(context.Background(), orgID, attemptID, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
