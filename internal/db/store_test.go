package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/onetalk/router/internal/models"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithDB(mock), mock
}

func TestAppendDecision(t *testing.T) {
	t.Parallel()

	agentID := "alice"
	lineNumber := "+1-555-SALES-01"

	tests := []struct {
		name      string
		decision  models.RoutingDecision
		setupMock func(pgxmock.PgxPoolIface)
	}{
		{
			name: "handled decision mirrors agent and line state",
			decision: models.RoutingDecision{
				ID: "d1", EventID: "e1", DepartmentID: "sales",
				AgentID: &agentID, LineNumber: &lineNumber,
				Reason: models.ReasonRule, DecidedAt: time.Now().UTC(),
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO events`).
					WithArgs("e1", models.ChannelCall, "+1-555-1111", "+1-555-2222", "buy", pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`INSERT INTO decisions`).
					WithArgs("d1", "e1", (*string)(nil), "sales", &agentID, &lineNumber, false, false, false, models.ReasonRule, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`UPDATE agents SET status = 'busy'`).
					WithArgs(agentID).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec(`UPDATE lines SET utilization = utilization \+ 1`).
					WithArgs(lineNumber).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "unhandled decision writes no registry updates",
			decision: models.RoutingDecision{
				ID: "d2", EventID: "e1", DepartmentID: "sales",
				Unhandled: true, Reason: models.ReasonNoAgent, DecidedAt: time.Now().UTC(),
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO events`).
					WithArgs("e1", models.ChannelCall, "+1-555-1111", "+1-555-2222", "buy", pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`INSERT INTO decisions`).
					WithArgs("d2", "e1", (*string)(nil), "sales", (*string)(nil), (*string)(nil), false, false, true, models.ReasonNoAgent, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tc.setupMock(mock)

			ev := models.InboundEvent{
				ID: "e1", Channel: models.ChannelCall,
				FromNumber: "+1-555-1111", ToNumber: "+1-555-2222",
				Content: "buy", ReceivedAt: time.Now().UTC(),
			}
			if err := store.AppendDecision(context.Background(), ev, tc.decision); err != nil {
				t.Fatalf("append decision: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestCompleteDecision(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	agentID := "alice"
	lineNumber := "+1-555-SALES-01"

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE decisions SET completed_at`).
		WithArgs(pgxmock.AnyArg(), 90, "d1").
		WillReturnRows(pgxmock.NewRows([]string{"agent_id", "line_number"}).AddRow(&agentID, &lineNumber))
	mock.ExpectExec(`UPDATE agents SET status = 'available'`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE lines SET utilization = GREATEST`).
		WithArgs("+1-555-SALES-01").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := store.CompleteDecision(context.Background(), "d1", time.Now().UTC(), 90*time.Second); err != nil {
		t.Fatalf("complete decision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteDecisionAlreadyCompleted(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE decisions SET completed_at`).
		WithArgs(pgxmock.AnyArg(), 5, "d1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	if err := store.CompleteDecision(context.Background(), "d1", time.Now().UTC(), 5*time.Second); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallerAffinity(t *testing.T) {
	t.Parallel()

	t.Run("returning caller", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT d\.department_id`).
			WithArgs("+1-555-7777").
			WillReturnRows(pgxmock.NewRows([]string{"department_id"}).AddRow("vehicle_transport"))

		dept, err := store.CallerAffinity(context.Background(), "+1-555-7777")
		if err != nil {
			t.Fatalf("caller affinity: %v", err)
		}
		if dept != "vehicle_transport" {
			t.Fatalf("expected vehicle_transport, got %q", dept)
		}
	})

	t.Run("first-time caller", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT d\.department_id`).
			WithArgs("+1-555-0000").
			WillReturnError(pgx.ErrNoRows)

		dept, err := store.CallerAffinity(context.Background(), "+1-555-0000")
		if err != nil {
			t.Fatalf("caller affinity: %v", err)
		}
		if dept != "" {
			t.Fatalf("expected empty department, got %q", dept)
		}
	})
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, kind, value, department_id, priority, enabled, seq, created_at FROM routing_rules`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "value", "department_id", "priority", "enabled", "seq", "created_at"}).
			AddRow("r1", models.RuleKeyword, "loan", "credit_analysis", 5, true, 1, created).
			AddRow("r2", models.RulePhonePattern, "+1800*", "sales", 3, false, 2, created))

	rules, err := store.LoadRules(context.Background())
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rules) != 2 || rules[0].ID != "r1" || rules[1].Enabled {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDailyStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM decisions d`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"total", "calls", "sms", "escalated", "unhandled", "avg"}).
			AddRow(10, 7, 3, 1, 2, 45.5))
	mock.ExpectQuery(`GROUP BY department_id`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"department_id", "count"}).
			AddRow("sales", 6).
			AddRow("admin", 4))

	stats, err := store.DailyStats(context.Background(), day)
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if stats.Total != 10 || stats.Unhandled != 2 || stats.PerDepartment["sales"] != 6 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
