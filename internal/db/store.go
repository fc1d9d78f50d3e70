package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onetalk/router/internal/models"
)

// DB is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	Pool DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func NewWithDB(db DB) *Store {
	return &Store{Pool: db}
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS departments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			escalation BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			department_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			status TEXT NOT NULL DEFAULT 'available',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS lines (
			number TEXT PRIMARY KEY,
			department_id TEXT NOT NULL,
			utilization INT NOT NULL DEFAULT 0,
			capacity INT NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS routing_rules (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			department_id TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			from_number TEXT NOT NULL,
			to_number TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			rule_id TEXT,
			department_id TEXT NOT NULL,
			agent_id TEXT,
			line_number TEXT,
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			vip BOOLEAN NOT NULL DEFAULT FALSE,
			unhandled BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT NOT NULL DEFAULT '',
			decided_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_sec INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions (decided_at DESC);
		CREATE INDEX IF NOT EXISTS idx_events_from_number ON events (from_number);
	`)
	return err
}

func (s *Store) UpsertDepartment(ctx context.Context, d models.Department) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO departments (id, name, escalation) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, escalation = EXCLUDED.escalation
	`, d.ID, d.Name, d.Escalation)
	return err
}

func (s *Store) UpsertAgent(ctx context.Context, a models.Agent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO agents (id, name, department_id, role, status, updated_at) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			department_id = EXCLUDED.department_id,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.Name, a.DepartmentID, a.Role, a.Status, a.UpdatedAt)
	return err
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	_, err := s.Pool.Exec(ctx, `UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, status, agentID)
	return err
}

func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, agentID)
	return err
}

func (s *Store) UpsertLine(ctx context.Context, l models.Line) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO lines (number, department_id, utilization, capacity) VALUES ($1,$2,$3,$4)
		ON CONFLICT (number) DO UPDATE SET
			department_id = EXCLUDED.department_id,
			utilization = EXCLUDED.utilization,
			capacity = EXCLUDED.capacity
	`, l.Number, l.DepartmentID, l.Utilization, l.Capacity)
	return err
}

func (s *Store) DeleteLine(ctx context.Context, number string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM lines WHERE number = $1`, number)
	return err
}

func (s *Store) UpsertRule(ctx context.Context, r models.RoutingRule) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO routing_rules (id, kind, value, department_id, priority, enabled, seq, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			department_id = EXCLUDED.department_id,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			seq = EXCLUDED.seq,
			created_at = EXCLUDED.created_at
	`, r.ID, r.Kind, r.Value, r.DepartmentID, r.Priority, r.Enabled, r.Seq, r.CreatedAt)
	return err
}

func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1`, ruleID)
	return err
}

func (s *Store) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	_, err := s.Pool.Exec(ctx, `UPDATE routing_rules SET enabled = $1 WHERE id = $2`, enabled, ruleID)
	return err
}

func (s *Store) LoadDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, escalation FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Department
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Escalation); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) LoadAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, department_id, role, status, updated_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.DepartmentID, &a.Role, &a.Status, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) LoadLines(ctx context.Context) ([]models.Line, error) {
	rows, err := s.Pool.Query(ctx, `SELECT number, department_id, utilization, capacity FROM lines ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Line
	for rows.Next() {
		var l models.Line
		if err := rows.Scan(&l.Number, &l.DepartmentID, &l.Utilization, &l.Capacity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) LoadRules(ctx context.Context) ([]models.RoutingRule, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, kind, value, department_id, priority, enabled, seq, created_at FROM routing_rules ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RoutingRule
	for rows.Next() {
		var r models.RoutingRule
		if err := rows.Scan(&r.ID, &r.Kind, &r.Value, &r.DepartmentID, &r.Priority, &r.Enabled, &r.Seq, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendDecision records an event and its routing decision in one
// transaction, mirroring the in-memory registries' agent and line
// state so a restart reloads a consistent picture.
func (s *Store) AppendDecision(ctx context.Context, ev models.InboundEvent, d models.RoutingDecision) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, channel, from_number, to_number, content, received_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ev.ID, ev.Channel, ev.FromNumber, ev.ToNumber, ev.Content, ev.ReceivedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO decisions (id, event_id, rule_id, department_id, agent_id, line_number, escalated, vip, unhandled, reason, decided_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, d.ID, d.EventID, d.RuleID, d.DepartmentID, d.AgentID, d.LineNumber, d.Escalated, d.VIP, d.Unhandled, d.Reason, d.DecidedAt); err != nil {
			return err
		}
		if d.AgentID != nil {
			if _, err := tx.Exec(ctx, `UPDATE agents SET status = 'busy', updated_at = NOW() WHERE id = $1`, *d.AgentID); err != nil {
				return err
			}
		}
		if d.LineNumber != nil {
			if _, err := tx.Exec(ctx, `UPDATE lines SET utilization = utilization + 1 WHERE number = $1`, *d.LineNumber); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompleteDecision stamps the handling duration and hands the agent
// and line back. A decision already completed is left untouched.
func (s *Store) CompleteDecision(ctx context.Context, decisionID string, completedAt time.Time, duration time.Duration) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var agentID, lineNumber *string
		err := tx.QueryRow(ctx, `
			UPDATE decisions SET completed_at = $1, duration_sec = $2
			WHERE id = $3 AND completed_at IS NULL
			RETURNING agent_id, line_number
		`, completedAt, int(duration.Seconds()), decisionID).Scan(&agentID, &lineNumber)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if agentID != nil {
			if _, err := tx.Exec(ctx, `UPDATE agents SET status = 'available', updated_at = NOW() WHERE id = $1`, *agentID); err != nil {
				return err
			}
		}
		if lineNumber != nil {
			if _, err := tx.Exec(ctx, `UPDATE lines SET utilization = GREATEST(utilization - 1, 0) WHERE number = $1`, *lineNumber); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetDecision(ctx context.Context, decisionID string) (models.RoutingDecision, error) {
	var d models.RoutingDecision
	err := s.Pool.QueryRow(ctx, `
		SELECT id, event_id, rule_id, department_id, agent_id, line_number, escalated, vip, unhandled, reason, decided_at, completed_at, duration_sec
		FROM decisions WHERE id = $1
	`, decisionID).Scan(&d.ID, &d.EventID, &d.RuleID, &d.DepartmentID, &d.AgentID, &d.LineNumber, &d.Escalated, &d.VIP, &d.Unhandled, &d.Reason, &d.DecidedAt, &d.CompletedAt, &d.DurationSec)
	if err != nil {
		return models.RoutingDecision{}, err
	}
	return d, nil
}

// CallerAffinity finds the department that has handled a caller the
// most, skipping unhandled decisions. Returns "" for unknown callers.
func (s *Store) CallerAffinity(ctx context.Context, number string) (string, error) {
	var dept string
	err := s.Pool.QueryRow(ctx, `
		SELECT d.department_id
		FROM decisions d
		JOIN events e ON e.id = d.event_id
		WHERE e.from_number = $1 AND NOT d.unhandled
		GROUP BY d.department_id
		ORDER BY COUNT(*) DESC, MAX(d.decided_at) DESC
		LIMIT 1
	`, number).Scan(&dept)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dept, nil
}

// DecisionRecord joins a decision with its triggering event for the
// event log API.
type DecisionRecord struct {
	Decision models.RoutingDecision `json:"decision"`
	Event    models.InboundEvent    `json:"event"`
}

func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT d.id, d.event_id, d.rule_id, d.department_id, d.agent_id, d.line_number, d.escalated, d.vip, d.unhandled, d.reason, d.decided_at, d.completed_at, d.duration_sec,
			e.id, e.channel, e.from_number, e.to_number, e.content, e.received_at
		FROM decisions d
		JOIN events e ON e.id = d.event_id
		ORDER BY d.decided_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		d := &rec.Decision
		e := &rec.Event
		if err := rows.Scan(
			&d.ID, &d.EventID, &d.RuleID, &d.DepartmentID, &d.AgentID, &d.LineNumber, &d.Escalated, &d.VIP, &d.Unhandled, &d.Reason, &d.DecidedAt, &d.CompletedAt, &d.DurationSec,
			&e.ID, &e.Channel, &e.FromNumber, &e.ToNumber, &e.Content, &e.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DayStats aggregates one calendar day of routing activity.
type DayStats struct {
	Day           string         `json:"day"`
	Total         int            `json:"total"`
	Calls         int            `json:"calls"`
	SMS           int            `json:"sms"`
	Escalated     int            `json:"escalated"`
	Unhandled     int            `json:"unhandled"`
	AvgDuration   float64        `json:"avg_duration_sec"`
	PerDepartment map[string]int `json:"per_department"`
}

func (s *Store) DailyStats(ctx context.Context, day time.Time) (DayStats, error) {
	stats := DayStats{Day: day.Format("2006-01-02"), PerDepartment: map[string]int{}}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE e.channel = 'call'),
			COUNT(*) FILTER (WHERE e.channel = 'sms'),
			COUNT(*) FILTER (WHERE d.escalated),
			COUNT(*) FILTER (WHERE d.unhandled),
			COALESCE(AVG(d.duration_sec) FILTER (WHERE d.completed_at IS NOT NULL), 0)
		FROM decisions d
		JOIN events e ON e.id = d.event_id
		WHERE d.decided_at >= $1 AND d.decided_at < $2
	`, start, end).Scan(&stats.Total, &stats.Calls, &stats.SMS, &stats.Escalated, &stats.Unhandled, &stats.AvgDuration)
	if err != nil {
		return stats, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT department_id, COUNT(*)
		FROM decisions
		WHERE decided_at >= $1 AND decided_at < $2
		GROUP BY department_id
	`, start, end)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var dept string
		var n int
		if err := rows.Scan(&dept, &n); err != nil {
			return stats, err
		}
		stats.PerDepartment[dept] = n
	}
	return stats, rows.Err()
}

func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n)
	return n, err
}
