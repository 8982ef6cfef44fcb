package events

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestAlreadyProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewProcessedStore(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("telnyx", "evt_1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	seen, err := store.AlreadyProcessed(context.Background(), "telnyx", "evt_1")
	if err != nil || !seen {
		t.Fatalf("expected seen=true, got %v err=%v", seen, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("telnyx", "evt_2").
		WillReturnError(pgx.ErrNoRows)
	seen, err = store.AlreadyProcessed(context.Background(), "telnyx", "evt_2")
	if err != nil || seen {
		t.Fatalf("expected seen=false, got %v err=%v", seen, err)
	}
}

func TestMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewProcessedStore(mock)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("stripe", "evt_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	first, err := store.MarkProcessed(context.Background(), "stripe", "evt_1")
	if err != nil || !first {
		t.Fatalf("expected first insert true, got %v err=%v", first, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("stripe", "evt_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	first, err = store.MarkProcessed(context.Background(), "stripe", "evt_1")
	if err != nil || first {
		t.Fatalf("expected duplicate insert false, got %v err=%v", first, err)
	}
}
