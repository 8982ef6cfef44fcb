package calls

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// UsageRecorder writes per-call usage events. An estimated event is recorded
// speculatively at dial time so near-real-time balance checks see the call,
// then corrected once the true duration is known.
type UsageRecorder struct {
	pool          PgxPool
	unitCostCents int
	logger        *logging.Logger
}

func NewUsageRecorder(pool PgxPool, unitCostCents int, logger *logging.Logger) *UsageRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &UsageRecorder{pool: pool, unitCostCents: unitCostCents, logger: logger}
}

// BillableMinutes converts a call duration to whole billed minutes, rounding
// up. Zero or negative duration bills nothing.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// RecordEstimate inserts an estimated usage event for a freshly dialed call.
func (u *UsageRecorder) RecordEstimate(ctx context.Context, orgID, attemptID uuid.UUID, estimatedMinutes int) error {
	query := `
		INSERT INTO usage_events (organization_id, event_type, reference_id, quantity, total_cost_cents, is_estimated, created_at)
		VALUES ($1, 'call_minutes', $2, $3, $4, TRUE, now())
	`
	cost := estimatedMinutes * u.unitCostCents
	if _, err := u.pool.Exec(ctx, query, orgID, attemptID.String(), estimatedMinutes, cost); err != nil {
		return fmt.Errorf("calls: record usage estimate: %w", err)
	}
	return nil
}

// Reconcile corrects the estimated usage event once the call has ended. A
// billable call updates the estimate in place, or inserts a fresh event if
// no estimate was recorded. A call with no billable duration deletes the
// estimate rather than leaving a phantom charge.
func (u *UsageRecorder) Reconcile(ctx context.Context, orgID, attemptID uuid.UUID, durationSeconds int) error {
	minutes := BillableMinutes(durationSeconds)

	if minutes == 0 {
		tag, err := u.pool.Exec(ctx, `
			DELETE FROM usage_events
			WHERE reference_id = $1 AND event_type = 'call_minutes' AND is_estimated = TRUE
		`, attemptID.String())
		if err != nil {
			return fmt.Errorf("calls: delete usage estimate: %w", err)
		}
		if tag.RowsAffected() > 0 {
			u.logger.Debug("usage estimate removed for unbillable call", "attempt_id", attemptID)
		}
		return nil
	}

	cost := minutes * u.unitCostCents
	tag, err := u.pool.Exec(ctx, `
		UPDATE usage_events
		SET quantity = $2,
			total_cost_cents = $3,
			is_estimated = FALSE
		WHERE reference_id = $1 AND event_type = 'call_minutes' AND is_estimated = TRUE
	`, attemptID.String(), minutes, cost)
	if err != nil {
		return fmt.Errorf("calls: reconcile usage: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = u.pool.Exec(ctx, `
		INSERT INTO usage_events (organization_id, event_type, reference_id, quantity, total_cost_cents, is_estimated, created_at)
		VALUES ($1, 'call_minutes', $2, $3, $4, FALSE, now())
	`, orgID, attemptID.String(), minutes, cost)
	if err != nil {
		return fmt.Errorf("calls: insert usage: %w", err)
	}
	return nil
}
